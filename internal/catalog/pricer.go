package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/bodhipep/storefront/internal/orders"
)

type ItemInput struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

// Intent is a fully priced cart, never returned partially computed.
type Intent struct {
	Lines         []orders.Line
	SubtotalCents int64
	ShippingCents int64
	TotalCents    int64
}

type Pricer struct {
	Source Source

	// Shipping rule: free above the threshold, flat fee otherwise.
	FreeShipThresholdCents int64
	FlatShipFeeCents       int64
}

// Price validates and prices a raw cart: duplicate SKUs are aggregated,
// quantities must be positive, every SKU must exist, and the subtotal must be
// positive. Lines come back sorted by SKU, which is also the ledger's lock
// order.
func (p *Pricer) Price(ctx context.Context, items []ItemInput) (Intent, error) {
	if len(items) == 0 {
		return Intent{}, ErrEmptyCart
	}

	qtyBySKU := map[string]int{}
	for _, it := range items {
		if it.SKU == "" || it.Qty <= 0 {
			return Intent{}, fmt.Errorf("%w: bad quantity for sku %q", ErrInvalidCart, it.SKU)
		}
		qtyBySKU[it.SKU] += it.Qty
	}
	skus := make([]string, 0, len(qtyBySKU))
	for sku := range qtyBySKU {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	prods, err := p.Source.GetBySKUs(ctx, skus)
	if err != nil {
		return Intent{}, fmt.Errorf("catalog lookup: %w", err)
	}
	bySKU := make(map[string]Product, len(prods))
	for _, pr := range prods {
		bySKU[pr.SKU] = pr
	}

	var intent Intent
	for _, sku := range skus {
		pr, ok := bySKU[sku]
		if !ok {
			return Intent{}, &UnknownSKUError{SKU: sku}
		}
		qty := qtyBySKU[sku]
		intent.Lines = append(intent.Lines, orders.Line{
			SKU:            sku,
			Qty:            qty,
			UnitPriceCents: pr.PriceCents,
		})
		intent.SubtotalCents += pr.PriceCents * int64(qty)
	}

	if intent.SubtotalCents <= 0 {
		return Intent{}, ErrInvalidCart
	}
	if intent.SubtotalCents <= p.FreeShipThresholdCents {
		intent.ShippingCents = p.FlatShipFeeCents
	}
	intent.TotalCents = intent.SubtotalCents + intent.ShippingCents
	return intent, nil
}
