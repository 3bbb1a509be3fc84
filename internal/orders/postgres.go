package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct{ DB *pgxpool.Pool }

const uniqueViolation = "23505"

func (s *PostgresStore) Create(ctx context.Context, o *Order) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, idempotency_key, status, subtotal_cents, shipping_cents, total_cents,
		                    payment_method, customer_name, customer_email, address1, city, state, zip,
		                    created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)`,
		o.ID, o.IdempotencyKey, string(o.Status), o.SubtotalCents, o.ShippingCents, o.TotalCents,
		string(o.PaymentMethod), o.Customer.Name, o.Customer.Email, o.Customer.Address1,
		o.Customer.City, o.Customer.State, o.Customer.Zip, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == "orders_idempotency_key_key" {
				return ErrKeyConflict
			}
			return ErrIDCollision
		}
		return err
	}

	for _, l := range o.Lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, sku, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4)`, o.ID, l.SKU, l.Qty, l.UnitPriceCents); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	o.CreatedAt, o.UpdatedAt = now, now
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Order, error) {
	return s.getBy(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) GetByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	return s.getBy(ctx, `WHERE idempotency_key = $1`, key)
}

func (s *PostgresStore) GetByPaymentRef(ctx context.Context, ref string) (*Order, error) {
	return s.getBy(ctx, `WHERE external_payment_ref = $1`, ref)
}

func (s *PostgresStore) getBy(ctx context.Context, where string, arg any) (*Order, error) {
	var o Order
	var status, method string
	err := s.DB.QueryRow(ctx, `
		SELECT id, idempotency_key, status, subtotal_cents, shipping_cents, total_cents,
		       payment_method, COALESCE(external_payment_ref,''), COALESCE(receipt_url,''),
		       COALESCE(provider_status,''), customer_name, customer_email, address1, city, state, zip,
		       created_at, updated_at
		FROM orders `+where,
		arg).Scan(&o.ID, &o.IdempotencyKey, &status, &o.SubtotalCents, &o.ShippingCents,
		&o.TotalCents, &method, &o.ExternalPaymentRef, &o.ReceiptURL, &o.ProviderStatus,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Address1, &o.Customer.City,
		&o.Customer.State, &o.Customer.Zip, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status, o.PaymentMethod = Status(status), Method(method)
	if o.Lines, err = s.loadLines(ctx, o.ID); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) loadLines(ctx context.Context, orderID string) ([]Line, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT sku, qty, unit_price_cents FROM order_items WHERE order_id = $1 ORDER BY sku`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.SKU, &l.Qty, &l.UnitPriceCents); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Transition claims RESERVED -> terminal with a conditional UPDATE so two
// settlement paths racing across processes cannot both apply.
func (s *PostgresStore) Transition(ctx context.Context, id string, to Status, meta Meta) (*Order, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders
		SET status = $2,
		    external_payment_ref = COALESCE(NULLIF($3,''), external_payment_ref),
		    receipt_url          = COALESCE(NULLIF($4,''), receipt_url),
		    provider_status      = COALESCE(NULLIF($5,''), provider_status),
		    updated_at = now()
		WHERE id = $1 AND status = 'RESERVED'`,
		id, string(to), meta.ExternalPaymentRef, meta.ReceiptURL, meta.Reason)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() == 1 {
		return s.GetByID(ctx, id)
	}

	// Nothing claimed: replay of the same terminal state is fine, anything
	// else is a state-machine violation.
	o, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status == to {
		return o, nil
	}
	return nil, &InvalidTransitionError{OrderID: id, From: o.Status, To: to}
}

func (s *PostgresStore) MirrorProviderStatus(ctx context.Context, id, providerStatus string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE orders SET provider_status = $2, updated_at = now()
		WHERE id = $1 AND status = 'RESERVED'`, id, providerStatus)
	return err
}

func (s *PostgresStore) ListExpiredReserved(ctx context.Context, cutoff time.Time) ([]*Order, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id FROM orders WHERE status = 'RESERVED' AND created_at < $1 LIMIT 200`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
