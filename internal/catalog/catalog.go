// Package catalog owns the product master view and turns raw carts into
// priced order intents. Prices are always server-side; nothing the client
// sends about money is trusted.
package catalog

import (
	"context"
	"errors"
	"fmt"
)

type Product struct {
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	OnHand     int    `json:"on_hand"`
	Reserved   int    `json:"reserved"`
}

func (p Product) Remaining() int {
	if r := p.OnHand - p.Reserved; r > 0 {
		return r
	}
	return 0
}

// Source is the product-master collaborator: the postgres products table in
// production, the in-memory ledger in tests.
type Source interface {
	GetBySKUs(ctx context.Context, skus []string) ([]Product, error)
	List(ctx context.Context) ([]Product, error)
}

var (
	ErrEmptyCart   = errors.New("empty cart")
	ErrInvalidCart = errors.New("invalid cart")
)

type UnknownSKUError struct{ SKU string }

func (e *UnknownSKUError) Error() string { return fmt.Sprintf("unknown sku %s", e.SKU) }
