package audit

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct{ DB *pgxpool.Pool }

func (p *Postgres) Append(ctx context.Context, e Entry) error {
	_, err := p.DB.Exec(ctx, `
		INSERT INTO audit_log (at, order_id, action, payment_method, customer, address, items,
		                       subtotal_cents, shipping_cents, total_cents, snapshot)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.At, e.OrderID, e.Action, e.PaymentMethod, e.Customer, e.Address, e.Items,
		e.SubtotalCents, e.ShippingCents, e.TotalCents, e.Snapshot)
	return err
}

func (p *Postgres) List(ctx context.Context) ([]Entry, error) {
	rows, err := p.DB.Query(ctx, `
		SELECT at, order_id, action, payment_method, customer, address, items,
		       subtotal_cents, shipping_cents, total_cents, snapshot
		FROM audit_log ORDER BY at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.At, &e.OrderID, &e.Action, &e.PaymentMethod, &e.Customer,
			&e.Address, &e.Items, &e.SubtotalCents, &e.ShippingCents, &e.TotalCents,
			&e.Snapshot); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
