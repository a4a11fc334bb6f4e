// Package postgres persists orders in PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kilianp07/courierd/core/model"
	"github.com/kilianp07/courierd/core/order"
)

const schema = `CREATE TABLE IF NOT EXISTS orders (
    id BIGSERIAL PRIMARY KEY,
    status TEXT NOT NULL,
    driver_id TEXT NOT NULL DEFAULT '',
    customer_id TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    data JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS orders_driver ON orders(driver_id);
CREATE INDEX IF NOT EXISTS orders_customer ON orders(customer_id);`

// OrderStore implements order.Store on a pgx pool. The id column is the
// source of truth for Order.ID; the JSON document carries everything else.
type OrderStore struct {
	db *pgxpool.Pool
}

var _ order.Store = (*OrderStore)(nil)

// Open connects to dsn, checks the connection and ensures schema.
func Open(ctx context.Context, dsn string) (*OrderStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.Open: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.Open ping: %w", err)
	}
	s, err := NewOrderStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewOrderStore uses an existing pool and ensures schema.
func NewOrderStore(ctx context.Context, pool *pgxpool.Pool) (*OrderStore, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return &OrderStore{db: pool}, nil
}

func (s *OrderStore) Insert(ctx context.Context, o model.Order) (model.Order, error) {
	o.ID = 0
	data, err := json.Marshal(o)
	if err != nil {
		return model.Order{}, err
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO orders (status, driver_id, customer_id, created_at, updated_at, data)
         VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		string(o.Status), o.AssignedDriverID, o.CustomerID, o.CreatedAt, o.UpdatedAt, data).Scan(&o.ID)
	if err != nil {
		return model.Order{}, fmt.Errorf("repository.InsertOrder: %w", err)
	}
	return o.Clone(), nil
}

func (s *OrderStore) Get(ctx context.Context, id int64) (model.Order, error) {
	return scanOrder(s.db.QueryRow(ctx, `SELECT id, data FROM orders WHERE id = $1`, id))
}

func (s *OrderStore) List(ctx context.Context, f order.Filter) ([]model.Order, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.DriverID != "" {
		where = append(where, "driver_id = "+arg(f.DriverID))
	}
	if f.CustomerID != "" {
		where = append(where, "customer_id = "+arg(f.CustomerID))
	}
	if f.VisibleToDriver != "" {
		where = append(where, fmt.Sprintf("(driver_id = %s OR (status = %s AND driver_id = ''))",
			arg(f.VisibleToDriver), arg(string(model.StatusPendingAssignment))))
	}
	query := `SELECT id, data FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository.ListOrders: %w", err)
	}
	defer rows.Close()
	res := make([]model.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// Apply writes with an UPDATE guarded on status and driver; zero affected
// rows means another writer committed first.
func (s *OrderStore) Apply(ctx context.Context, id int64, g order.Guard, mutate func(o *model.Order) error) (model.Order, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return model.Order{}, err
	}
	if !g.Matches(cur) {
		return cur, order.ErrConflict
	}
	next := cur.Clone()
	if err := mutate(&next); err != nil {
		return cur, err
	}
	next.ID = id
	data, err := json.Marshal(next)
	if err != nil {
		return cur, err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE orders SET status = $1, driver_id = $2, updated_at = $3, data = $4
         WHERE id = $5 AND status = $6 AND driver_id = $7`,
		string(next.Status), next.AssignedDriverID, next.UpdatedAt, data, id, string(g.Status), g.DriverID)
	if err != nil {
		return cur, fmt.Errorf("repository.ApplyOrder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cur, order.ErrConflict
	}
	return next, nil
}

// Close releases the pool.
func (s *OrderStore) Close() error {
	s.db.Close()
	return nil
}

func scanOrder(row pgx.Row) (model.Order, error) {
	var (
		id   int64
		data []byte
	)
	if err := row.Scan(&id, &data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, model.ErrNotFound
		}
		return model.Order{}, fmt.Errorf("failed to scan order: %w", err)
	}
	var o model.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return model.Order{}, fmt.Errorf("unmarshal order: %w", err)
	}
	o.ID = id
	return o, nil
}
