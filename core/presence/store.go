package presence

import (
	"context"
	"sort"
	"sync"

	"github.com/kilianp07/courierd/core/model"
)

// Store persists driver presence records.
//
// Update applies fn to the record of driverID atomically with respect to other
// writes for the same driver. A missing record is handed to fn zero-valued with
// DriverID set and is only created when fn returns nil.
type Store interface {
	Get(ctx context.Context, driverID string) (model.Presence, bool, error)
	Update(ctx context.Context, driverID string, fn func(p *model.Presence) error) (model.Presence, error)
	List(ctx context.Context) ([]model.Presence, error)
}

type entry struct {
	mu     sync.Mutex
	p      model.Presence
	exists bool
}

// MemoryStore keeps presence in process memory with one lock per driver, so
// writes for different drivers never contend.
type MemoryStore struct {
	entries sync.Map // driverID -> *entry
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) entry(driverID string) *entry {
	if e, ok := s.entries.Load(driverID); ok {
		return e.(*entry)
	}
	e, _ := s.entries.LoadOrStore(driverID, &entry{p: model.Presence{DriverID: driverID}})
	return e.(*entry)
}

func (s *MemoryStore) Get(_ context.Context, driverID string) (model.Presence, bool, error) {
	v, ok := s.entries.Load(driverID)
	if !ok {
		return model.Presence{}, false, nil
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.exists {
		return model.Presence{}, false, nil
	}
	return clone(e.p), true, nil
}

func (s *MemoryStore) Update(_ context.Context, driverID string, fn func(p *model.Presence) error) (model.Presence, error) {
	e := s.entry(driverID)
	e.mu.Lock()
	defer e.mu.Unlock()
	next := clone(e.p)
	if err := fn(&next); err != nil {
		return clone(e.p), err
	}
	next.DriverID = driverID
	e.p = next
	e.exists = true
	return clone(next), nil
}

func (s *MemoryStore) List(_ context.Context) ([]model.Presence, error) {
	res := make([]model.Presence, 0)
	s.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if e.exists {
			res = append(res, clone(e.p))
		}
		e.mu.Unlock()
		return true
	})
	sort.Slice(res, func(i, j int) bool { return res[i].DriverID < res[j].DriverID })
	return res, nil
}

func clone(p model.Presence) model.Presence {
	if p.LastHeartbeat != nil {
		hb := *p.LastHeartbeat
		p.LastHeartbeat = &hb
	}
	return p
}
