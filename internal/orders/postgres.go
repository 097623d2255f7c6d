package orders

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps orders in the orders table.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, o Order) error {
	quote, err := json.Marshal(o.Quote)
	if err != nil {
		return err
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO orders (
			id, customer_email, prefecture, shipping_method, currency,
			subtotal, shipping_base, shipping_discount, shipping_final, tax, grand_total,
			size_tier, parcel, items, status, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13::jsonb, $14::jsonb, $15, $16
		)`,
		o.ID, o.CustomerEmail, o.Prefecture, o.ShippingMethod, o.Currency,
		o.Subtotal, o.ShippingBase, o.ShippingDiscount, o.ShippingFinal, o.Tax, o.GrandTotal,
		o.SizeTier, string(quote), string(items), o.Status, o.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	var (
		o            Order
		quote, items []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, customer_email, prefecture, shipping_method, currency,
		       subtotal, shipping_base, shipping_discount, shipping_final, tax, grand_total,
		       size_tier, parcel, items, status, created_at
		FROM orders
		WHERE id = $1`, id).Scan(
		&o.ID, &o.CustomerEmail, &o.Prefecture, &o.ShippingMethod, &o.Currency,
		&o.Subtotal, &o.ShippingBase, &o.ShippingDiscount, &o.ShippingFinal, &o.Tax, &o.GrandTotal,
		&o.SizeTier, &quote, &items, &o.Status, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	if err := json.Unmarshal(quote, &o.Quote); err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return Order{}, err
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}
