package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/courierd/core/model"
	"github.com/kilianp07/courierd/core/notify"
)

const mailboxSchema = `CREATE TABLE IF NOT EXISTS notifications (
    driver_id TEXT NOT NULL,
    id INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    read INTEGER NOT NULL DEFAULT 0,
    data TEXT NOT NULL,
    PRIMARY KEY (driver_id, id)
);
CREATE INDEX IF NOT EXISTS notifications_created ON notifications(created_at);
CREATE TABLE IF NOT EXISTS mailbox_seq (
    driver_id TEXT PRIMARY KEY,
    last_id INTEGER NOT NULL
);`

// Mailbox implements notify.Mailbox. The last issued id of every driver is
// kept in mailbox_seq so ids keep increasing after evictions and deletes.
type Mailbox struct {
	db       *sql.DB
	capacity int
}

var _ notify.Mailbox = (*Mailbox)(nil)

// OpenMailbox opens or creates the database at path.
func OpenMailbox(path string, capacity int) (*Mailbox, error) {
	if capacity <= 0 {
		capacity = 1
	}
	db, err := open(path, mailboxSchema)
	if err != nil {
		return nil, err
	}
	return &Mailbox{db: db, capacity: capacity}, nil
}

func (m *Mailbox) Append(ctx context.Context, driverID string, n model.Notification) (model.Notification, int, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Notification{}, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var last int64
	err = tx.QueryRowContext(ctx, `SELECT last_id FROM mailbox_seq WHERE driver_id = ?`, driverID).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.Notification{}, 0, err
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.ID = notify.NextID(n.CreatedAt, last)
	n.DriverID = driverID
	data, err := json.Marshal(n)
	if err != nil {
		return model.Notification{}, 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notifications (driver_id, id, created_at, read, data) VALUES (?, ?, ?, ?, ?)`,
		driverID, n.ID, n.CreatedAt.UnixNano(), n.Read, string(data)); err != nil {
		return model.Notification{}, 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO mailbox_seq (driver_id, last_id) VALUES (?, ?)
         ON CONFLICT(driver_id) DO UPDATE SET last_id = excluded.last_id`,
		driverID, n.ID); err != nil {
		return model.Notification{}, 0, err
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM notifications WHERE driver_id = ? AND id NOT IN (
            SELECT id FROM notifications WHERE driver_id = ? ORDER BY id DESC LIMIT ?)`,
		driverID, driverID, m.capacity)
	if err != nil {
		return model.Notification{}, 0, err
	}
	evicted, err := res.RowsAffected()
	if err != nil {
		return model.Notification{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return model.Notification{}, 0, err
	}
	return n, int(evicted), nil
}

func (m *Mailbox) List(ctx context.Context, driverID string, unreadOnly bool) ([]model.Notification, error) {
	query := `SELECT read, data FROM notifications WHERE driver_id = ?`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY id DESC`
	rows, err := m.db.QueryContext(ctx, query, driverID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	res := make([]model.Notification, 0)
	for rows.Next() {
		var (
			read bool
			data string
		)
		if err := rows.Scan(&read, &data); err != nil {
			return nil, err
		}
		var n model.Notification
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			return nil, fmt.Errorf("unmarshal notification: %w", err)
		}
		n.Read = read
		res = append(res, n)
	}
	return res, rows.Err()
}

func (m *Mailbox) MarkRead(ctx context.Context, driverID string, id int64) error {
	res, err := m.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE driver_id = ? AND id = ?`, driverID, id)
	return affectedOrNotFound(res, err)
}

func (m *Mailbox) MarkAllRead(ctx context.Context, driverID string) (int, error) {
	res, err := m.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE driver_id = ? AND read = 0`, driverID)
	return affected(res, err)
}

func (m *Mailbox) Delete(ctx context.Context, driverID string, id int64) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM notifications WHERE driver_id = ? AND id = ?`, driverID, id)
	return affectedOrNotFound(res, err)
}

func (m *Mailbox) Clear(ctx context.Context, driverID string) (int, error) {
	res, err := m.db.ExecContext(ctx, `DELETE FROM notifications WHERE driver_id = ?`, driverID)
	return affected(res, err)
}

func (m *Mailbox) UnreadCount(ctx context.Context, driverID string) (int, error) {
	var n int
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE driver_id = ? AND read = 0`, driverID).Scan(&n)
	return n, err
}

// PurgeOlderThan removes notifications created before cutoff, read or not.
func (m *Mailbox) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := m.db.ExecContext(ctx, `DELETE FROM notifications WHERE created_at < ?`, cutoff.UnixNano())
	return affected(res, err)
}

// Close closes the underlying database.
func (m *Mailbox) Close() error { return m.db.Close() }

func affected(res sql.Result, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func affectedOrNotFound(res sql.Result, err error) error {
	n, err := affected(res, err)
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}
