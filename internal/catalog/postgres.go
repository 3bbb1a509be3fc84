package catalog

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresSource struct{ DB *pgxpool.Pool }

const productColumns = `sku, name, price_cents, on_hand, reserved`

func (s *PostgresSource) GetBySKUs(ctx context.Context, skus []string) ([]Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+` FROM products WHERE sku = ANY($1)`, skus)
	if err != nil {
		return nil, err
	}
	return scanProducts(rows)
}

func (s *PostgresSource) List(ctx context.Context) ([]Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	return scanProducts(rows)
}

func scanProducts(rows pgx.Rows) ([]Product, error) {
	defer rows.Close()
	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.SKU, &p.Name, &p.PriceCents, &p.OnHand, &p.Reserved); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
