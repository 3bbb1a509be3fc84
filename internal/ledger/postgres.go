package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bodhipep/storefront/internal/catalog"
	"github.com/bodhipep/storefront/internal/orders"
)

// Postgres serializes per-SKU mutation with SELECT ... FOR UPDATE row locks
// inside one transaction per batch. Rows are locked in lexicographic SKU
// order, matching the memory ledger's lock discipline.
type Postgres struct{ DB *pgxpool.Pool }

func (l *Postgres) Reserve(ctx context.Context, sku string, qty int) error {
	return l.ReserveAll(ctx, []orders.Line{{SKU: sku, Qty: qty}})
}

func (l *Postgres) Release(ctx context.Context, sku string, qty int) error {
	return l.ReleaseAll(ctx, []orders.Line{{SKU: sku, Qty: qty}})
}

func (l *Postgres) Commit(ctx context.Context, sku string, qty int) error {
	return l.CommitAll(ctx, []orders.Line{{SKU: sku, Qty: qty}})
}

func sortedCopy(lines []orders.Line) []orders.Line {
	out := append([]orders.Line(nil), lines...)
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}

func (l *Postgres) ReserveAll(ctx context.Context, lines []orders.Line) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, line := range sortedCopy(lines) {
		var onHand, reserved int
		err := tx.QueryRow(ctx,
			`SELECT on_hand, reserved FROM products WHERE sku = $1 FOR UPDATE`,
			line.SKU).Scan(&onHand, &reserved)
		if errors.Is(err, pgx.ErrNoRows) {
			return &catalog.UnknownSKUError{SKU: line.SKU}
		}
		if err != nil {
			return err
		}
		remaining := onHand - reserved
		if remaining < line.Qty {
			// rollback via defer: earlier lines in this batch are undone
			return &InsufficientStockError{SKU: line.SKU, Remaining: remaining}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE products SET reserved = reserved + $2 WHERE sku = $1`,
			line.SKU, line.Qty); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (l *Postgres) ReleaseAll(ctx context.Context, lines []orders.Line) error {
	return l.apply(ctx, lines, false)
}

func (l *Postgres) CommitAll(ctx context.Context, lines []orders.Line) error {
	return l.apply(ctx, lines, true)
}

func (l *Postgres) apply(ctx context.Context, lines []orders.Line, deductOnHand bool) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, line := range sortedCopy(lines) {
		var onHand, reserved int
		err := tx.QueryRow(ctx,
			`SELECT on_hand, reserved FROM products WHERE sku = $1 FOR UPDATE`,
			line.SKU).Scan(&onHand, &reserved)
		if errors.Is(err, pgx.ErrNoRows) {
			return &catalog.UnknownSKUError{SKU: line.SKU}
		}
		if err != nil {
			return err
		}
		if line.Qty > reserved {
			slog.Warn("over-release floored", "sku", line.SKU, "qty", line.Qty, "reserved", reserved)
		}
		stmt := `UPDATE products SET reserved = GREATEST(reserved - $2, 0) WHERE sku = $1`
		if deductOnHand {
			stmt = `UPDATE products
			        SET reserved = GREATEST(reserved - $2, 0),
			            on_hand  = GREATEST(on_hand - $2, 0)
			        WHERE sku = $1`
		}
		if _, err := tx.Exec(ctx, stmt, line.SKU, line.Qty); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
