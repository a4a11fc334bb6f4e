package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kilianp07/courierd/core/model"
	"github.com/kilianp07/courierd/core/order"
)

const ordersSchema = `CREATE TABLE IF NOT EXISTS orders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    status TEXT NOT NULL,
    driver_id TEXT NOT NULL DEFAULT '',
    customer_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS orders_driver ON orders(driver_id);
CREATE INDEX IF NOT EXISTS orders_customer ON orders(customer_id);`

// OrderStore implements order.Store. Status and driver are stored in their
// own columns so the guarded update can compare them in SQL.
type OrderStore struct {
	db *sql.DB
}

var _ order.Store = (*OrderStore)(nil)

// OpenOrderStore opens or creates the database at path and ensures schema.
func OpenOrderStore(path string) (*OrderStore, error) {
	db, err := open(path, ordersSchema)
	if err != nil {
		return nil, err
	}
	return &OrderStore{db: db}, nil
}

func (s *OrderStore) Insert(ctx context.Context, o model.Order) (model.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO orders (status, driver_id, customer_id, created_at, updated_at, data) VALUES (?, ?, ?, ?, ?, '{}')`,
		string(o.Status), o.AssignedDriverID, o.CustomerID, o.CreatedAt.UnixNano(), o.UpdatedAt.UnixNano())
	if err != nil {
		return model.Order{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Order{}, err
	}
	o.ID = id
	data, err := json.Marshal(o)
	if err != nil {
		return model.Order{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE orders SET data = ? WHERE id = ?`, string(data), id); err != nil {
		return model.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Order{}, err
	}
	return o.Clone(), nil
}

func (s *OrderStore) Get(ctx context.Context, id int64) (model.Order, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM orders WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, model.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return decodeOrder(data)
}

func (s *OrderStore) List(ctx context.Context, f order.Filter) ([]model.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.DriverID != "" {
		where = append(where, "driver_id = ?")
		args = append(args, f.DriverID)
	}
	if f.CustomerID != "" {
		where = append(where, "customer_id = ?")
		args = append(args, f.CustomerID)
	}
	if f.VisibleToDriver != "" {
		where = append(where, "(driver_id = ? OR (status = ? AND driver_id = ''))")
		args = append(args, f.VisibleToDriver, string(model.StatusPendingAssignment))
	}
	query := `SELECT data FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	res := make([]model.Order, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		o, err := decodeOrder(data)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// Apply reads the row, runs mutate and writes back with an UPDATE guarded
// on status and driver. Zero affected rows means another writer won.
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, driver_id = ?, updated_at = ?, data = ? WHERE id = ? AND status = ? AND driver_id = ?`,
		string(next.Status), next.AssignedDriverID, next.UpdatedAt.UnixNano(), string(data), id, string(g.Status), g.DriverID)
	if err != nil {
		return cur, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cur, err
	}
	if n == 0 {
		return cur, order.ErrConflict
	}
	return next, nil
}

// Close closes the underlying database.
func (s *OrderStore) Close() error { return s.db.Close() }

func decodeOrder(data string) (model.Order, error) {
	var o model.Order
	if err := json.Unmarshal([]byte(data), &o); err != nil {
		return model.Order{}, fmt.Errorf("unmarshal order: %w", err)
	}
	return o, nil
}
