// Package notify delivers new-order notifications to driver mailboxes and
// enforces their capacity and retention limits.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/courierd/core/model"
)

// Mailbox stores bounded per-driver notification lists.
//
// Append assigns the notification id, stores it as the newest entry and
// evicts the oldest entries beyond capacity, returning how many were evicted.
// Appends for one driver are serialized; different drivers are independent.
// List returns newest first. MarkRead and Delete return model.ErrNotFound for
// ids absent from the driver's mailbox.
type Mailbox interface {
	Append(ctx context.Context, driverID string, n model.Notification) (model.Notification, int, error)
	List(ctx context.Context, driverID string, unreadOnly bool) ([]model.Notification, error)
	MarkRead(ctx context.Context, driverID string, id int64) error
	MarkAllRead(ctx context.Context, driverID string) (int, error)
	Delete(ctx context.Context, driverID string, id int64) error
	Clear(ctx context.Context, driverID string) (int, error)
	UnreadCount(ctx context.Context, driverID string) (int, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// NextID returns a creation-time based id strictly greater than last.
// Ids are in milliseconds so they stay exact as JSON numbers in browsers.
func NextID(created time.Time, last int64) int64 {
	id := created.UnixMilli()
	if id <= last {
		id = last + 1
	}
	return id
}

type box struct {
	mu     sync.Mutex
	items  []model.Notification // newest first
	lastID int64
}

// MemoryMailbox keeps mailboxes in process memory.
type MemoryMailbox struct {
	capacity int
	boxes    sync.Map // driverID -> *box
}

// NewMemoryMailbox creates a mailbox holding at most capacity entries per driver.
func NewMemoryMailbox(capacity int) *MemoryMailbox {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryMailbox{capacity: capacity}
}

func (m *MemoryMailbox) box(driverID string) *box {
	if b, ok := m.boxes.Load(driverID); ok {
		return b.(*box)
	}
	b, _ := m.boxes.LoadOrStore(driverID, &box{})
	return b.(*box)
}

func (m *MemoryMailbox) existing(driverID string) (*box, bool) {
	b, ok := m.boxes.Load(driverID)
	if !ok {
		return nil, false
	}
	return b.(*box), true
}

func (m *MemoryMailbox) Append(_ context.Context, driverID string, n model.Notification) (model.Notification, int, error) {
	b := m.box(driverID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.ID = NextID(n.CreatedAt, b.lastID)
	n.DriverID = driverID
	b.lastID = n.ID
	items := make([]model.Notification, 0, len(b.items)+1)
	items = append(items, n)
	items = append(items, b.items...)
	evicted := 0
	if len(items) > m.capacity {
		evicted = len(items) - m.capacity
		items = items[:m.capacity]
	}
	b.items = items
	return n, evicted, nil
}

func (m *MemoryMailbox) List(_ context.Context, driverID string, unreadOnly bool) ([]model.Notification, error) {
	res := make([]model.Notification, 0)
	b, ok := m.existing(driverID)
	if !ok {
		return res, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, n := range b.items {
		if unreadOnly && n.Read {
			continue
		}
		res = append(res, n)
	}
	return res, nil
}

func (m *MemoryMailbox) MarkRead(_ context.Context, driverID string, id int64) error {
	b, ok := m.existing(driverID)
	if !ok {
		return model.ErrNotFound
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].ID == id {
			b.items[i].Read = true
			return nil
		}
	}
	return model.ErrNotFound
}

func (m *MemoryMailbox) MarkAllRead(_ context.Context, driverID string) (int, error) {
	b, ok := m.existing(driverID)
	if !ok {
		return 0, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for i := range b.items {
		if !b.items[i].Read {
			b.items[i].Read = true
			n++
		}
	}
	return n, nil
}

func (m *MemoryMailbox) Delete(_ context.Context, driverID string, id int64) error {
	b, ok := m.existing(driverID)
	if !ok {
		return model.ErrNotFound
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].ID == id {
			b.items = append(b.items[:i:i], b.items[i+1:]...)
			return nil
		}
	}
	return model.ErrNotFound
}

func (m *MemoryMailbox) Clear(_ context.Context, driverID string) (int, error) {
	b, ok := m.existing(driverID)
	if !ok {
		return 0, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.items)
	b.items = nil
	return n, nil
}

func (m *MemoryMailbox) UnreadCount(_ context.Context, driverID string) (int, error) {
	b, ok := m.existing(driverID)
	if !ok {
		return 0, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, it := range b.items {
		if !it.Read {
			n++
		}
	}
	return n, nil
}

func (m *MemoryMailbox) PurgeOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	removed := 0
	m.boxes.Range(func(_, v any) bool {
		b := v.(*box)
		b.mu.Lock()
		kept := b.items[:0]
		for _, n := range b.items {
			if n.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, n)
		}
		b.items = kept
		b.mu.Unlock()
		return true
	})
	return removed, nil
}

func (m *MemoryMailbox) Close() error { return nil }
