// Package audit keeps an append-only record of every order mutation. Entries
// are written once and never rewritten; the CSV export is the human-facing
// reconciliation view.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bodhipep/storefront/internal/orders"
)

type Entry struct {
	At            time.Time       `json:"at"`
	OrderID       string          `json:"order_id"`
	Action        string          `json:"action"` // CREATED, PAID, CANCELED, FAILED, EXPIRED, STATUS
	PaymentMethod string          `json:"payment_method"`
	Customer      string          `json:"customer"`
	Address       string          `json:"address"`
	Items         string          `json:"items"`
	SubtotalCents int64           `json:"subtotal_cents"`
	ShippingCents int64           `json:"shipping_cents"`
	TotalCents    int64           `json:"total_cents"`
	Snapshot      json.RawMessage `json:"snapshot"`
}

type Log interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context) ([]Entry, error)
}

// FromOrder builds an entry capturing the order as it stands after a
// mutation; Snapshot holds the raw order for dispute resolution.
func FromOrder(o *orders.Order, action string) Entry {
	snap, _ := json.Marshal(o)
	return Entry{
		At:            time.Now().UTC(),
		OrderID:       o.ID,
		Action:        action,
		PaymentMethod: string(o.PaymentMethod),
		Customer:      o.Customer.Name,
		Address:       o.Customer.ShipTo(),
		Items:         orders.ItemSummary(o.Lines),
		SubtotalCents: o.SubtotalCents,
		ShippingCents: o.ShippingCents,
		TotalCents:    o.TotalCents,
		Snapshot:      snap,
	}
}

type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Append(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) List(ctx context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...), nil
}
