// Package ledger tracks per-SKU onHand/reserved counters and is the only
// shared mutable resource in the system. Every mutation is serialized per
// SKU; batch operations are all-or-nothing.
package ledger

import (
	"context"
	"fmt"

	"github.com/bodhipep/storefront/internal/orders"
)

type Ledger interface {
	// Reserve claims qty units of one SKU iff remaining >= qty. On failure it
	// mutates nothing and returns InsufficientStockError.
	Reserve(ctx context.Context, sku string, qty int) error

	// Release cancels a reservation. Over-release is floored at zero and
	// logged as a caller bug, never surfaced as a stock error.
	Release(ctx context.Context, sku string, qty int) error

	// Commit converts a reservation into a permanent deduction: both reserved
	// and onHand drop by qty, floored at zero.
	Commit(ctx context.Context, sku string, qty int) error

	// Batch variants apply across all lines of one order as a unit: either
	// every line applies or none do. Locks are taken in lexicographic SKU
	// order so concurrent multi-SKU batches cannot deadlock.
	ReserveAll(ctx context.Context, lines []orders.Line) error
	ReleaseAll(ctx context.Context, lines []orders.Line) error
	CommitAll(ctx context.Context, lines []orders.Line) error
}

type InsufficientStockError struct {
	SKU       string
	Remaining int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: %d remaining", e.SKU, e.Remaining)
}
