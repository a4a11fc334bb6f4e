// Package audit keeps an append-only trail of order lifecycle changes.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/kilianp07/courierd/core/model"
)

// Record captures one committed order write. From is empty on creation.
type Record struct {
	Timestamp time.Time         `json:"timestamp"`
	OrderID   int64             `json:"order_id"`
	ActorID   string            `json:"actor_id"`
	ActorRole model.Role        `json:"actor_role"`
	From      model.OrderStatus `json:"from,omitempty"`
	To        model.OrderStatus `json:"to"`
	DriverID  string            `json:"driver_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// Query defines filters for retrieving records. Zero fields match everything.
type Query struct {
	Start    time.Time
	End      time.Time
	OrderID  int64
	DriverID string
	Limit    int
}

// Match reports whether r satisfies every filter of q.
func (q Query) Match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.OrderID != 0 && r.OrderID != q.OrderID {
		return false
	}
	if q.DriverID != "" && r.DriverID != q.DriverID && r.ActorID != q.DriverID {
		return false
	}
	return true
}

// Store persists Records and supports querying. Query returns records in
// append order.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// NopStore discards records.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error          { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }

// scanJSONL appends the records of r matching q to res, skipping malformed lines.
func scanJSONL(r io.Reader, q Query, res []Record) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if q.Match(rec) {
			res = append(res, rec)
		}
	}
	return res, scanner.Err()
}

func limit(res []Record, n int) []Record {
	if n > 0 && len(res) > n {
		return res[len(res)-n:]
	}
	return res
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	recs []Record
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	s.recs = append(s.recs, rec)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Query(_ context.Context, q Query) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Record
	for _, r := range s.recs {
		if q.Match(r) {
			res = append(res, r)
		}
	}
	return limit(res, q.Limit), nil
}

func (s *MemoryStore) Close() error { return nil }
