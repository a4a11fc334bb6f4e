package order

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/kilianp07/courierd/core/model"
)

// ErrConflict is returned by Store.Apply when the record no longer matches
// the guard at write time.
var ErrConflict = errors.New("order changed concurrently")

// Guard is the state a write expects to find. DriverID "" means unassigned.
type Guard struct {
	Status   model.OrderStatus
	DriverID string
}

// Matches reports whether o is still in the guarded state.
func (g Guard) Matches(o model.Order) bool {
	return o.Status == g.Status && o.AssignedDriverID == g.DriverID
}

// Filter selects orders. Zero fields match everything; set fields are ANDed.
type Filter struct {
	Status     model.OrderStatus
	DriverID   string
	CustomerID string
	// VisibleToDriver restricts to orders assigned to this driver plus every
	// unassigned pending order.
	VisibleToDriver string
	Limit           int
	Offset          int
}

// Match reports whether o passes every criterion of f except paging.
func (f Filter) Match(o model.Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.DriverID != "" && o.AssignedDriverID != f.DriverID {
		return false
	}
	if f.CustomerID != "" && o.CustomerID != f.CustomerID {
		return false
	}
	if f.VisibleToDriver != "" {
		open := o.Status == model.StatusPendingAssignment && o.AssignedDriverID == ""
		if o.AssignedDriverID != f.VisibleToDriver && !open {
			return false
		}
	}
	return true
}

// Store persists orders.
//
// Apply loads the order, checks g and runs mutate on a copy, then writes the
// result only if the stored record still matches g. The check and the write
// are one atomic step; a mismatch yields ErrConflict and nothing is written.
type Store interface {
	Insert(ctx context.Context, o model.Order) (model.Order, error)
	Get(ctx context.Context, id int64) (model.Order, error)
	List(ctx context.Context, f Filter) ([]model.Order, error)
	Apply(ctx context.Context, id int64, g Guard, mutate func(o *model.Order) error) (model.Order, error)
	Close() error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[int64]model.Order
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[int64]model.Order{}}
}

func (s *MemoryStore) Insert(_ context.Context, o model.Order) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	o.ID = s.nextID
	s.data[o.ID] = o.Clone()
	return o.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.data[id]
	if !ok {
		return model.Order{}, model.ErrNotFound
	}
	return o.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]model.Order, error) {
	s.mu.RLock()
	res := make([]model.Order, 0)
	for _, o := range s.data {
		if f.Match(o) {
			res = append(res, o.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return Page(res, f.Limit, f.Offset), nil
}

func (s *MemoryStore) Apply(_ context.Context, id int64, g Guard, mutate func(o *model.Order) error) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[id]
	if !ok {
		return model.Order{}, model.ErrNotFound
	}
	if !g.Matches(cur) {
		return cur.Clone(), ErrConflict
	}
	next := cur.Clone()
	if err := mutate(&next); err != nil {
		return cur.Clone(), err
	}
	next.ID = id
	s.data[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) Close() error { return nil }

// Page applies offset and limit to an already ordered slice. limit <= 0
// returns everything after offset.
func Page(res []model.Order, limit, offset int) []model.Order {
	if offset > 0 {
		if offset >= len(res) {
			return []model.Order{}
		}
		res = res[offset:]
	}
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res
}
