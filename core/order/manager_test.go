package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/courierd/core/audit"
	"github.com/kilianp07/courierd/core/events"
	"github.com/kilianp07/courierd/core/identity"
	"github.com/kilianp07/courierd/core/metrics"
	"github.com/kilianp07/courierd/core/model"
	"github.com/kilianp07/courierd/infra/logger"
	"github.com/kilianp07/courierd/internal/eventbus"
)

var (
	admin    = model.Actor{ID: "a1", Role: model.RoleAdmin}
	customer = model.Actor{ID: "c1", Role: model.RoleCustomer}
)

func driver(id string) model.Actor { return model.Actor{ID: id, Role: model.RoleDriver} }

type fakeNotifier struct {
	mu     sync.Mutex
	orders []int64
	err    error
	panic  bool
}

func (f *fakeNotifier) NotifyNewOrder(_ context.Context, o model.Order) (int, error) {
	if f.panic {
		panic("notifier exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, o.ID)
	return 1, f.err
}

type fakePresence map[string]model.PresenceView

func (f fakePresence) Status(_ context.Context, id string) (model.PresenceView, error) {
	return f[id], nil
}

type countingSink struct {
	metrics.NopSink
	transitions atomic.Int64
	conflicts   atomic.Int64
}

func (c *countingSink) RecordTransition(metrics.TransitionEvent) error {
	c.transitions.Add(1)
	return nil
}

func (c *countingSink) RecordClaimConflict(metrics.ClaimConflictEvent) error {
	c.conflicts.Add(1)
	return nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(NewMemoryStore(), nil, nil, logger.NopLogger{}, nil)
	require.NoError(t, err)
	return m
}

func create(t *testing.T, m *Manager) model.Order {
	t.Helper()
	o, err := m.Create(context.Background(), customer, validInput())
	require.NoError(t, err)
	return o
}

func TestCreate(t *testing.T) {
	m := newTestManager(t)
	n := &fakeNotifier{}
	m.SetNotifier(n)

	o := create(t, m)
	m.Wait()
	assert.NotZero(t, o.ID)
	assert.Equal(t, model.StatusPendingAssignment, o.Status)
	assert.Equal(t, "c1", o.CustomerID)
	assert.Empty(t, o.AssignedDriverID)
	assert.Equal(t, model.PriorityNormal, o.Priority)
	assert.Equal(t, []int64{o.ID}, n.orders)
}

func TestCreateSucceedsWhenDispatchFails(t *testing.T) {
	for _, n := range []*fakeNotifier{{err: errors.New("mailbox down")}, {panic: true}} {
		m := newTestManager(t)
		m.SetNotifier(n)
		o, err := m.Create(context.Background(), customer, validInput())
		m.Wait()
		require.NoError(t, err)
		got, err := m.Get(context.Background(), admin, o.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPendingAssignment, got.Status)
	}
}

func TestCreatePermissionsAndValidation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Create(ctx, driver("d1"), validInput())
	assert.ErrorIs(t, err, model.ErrPermission)

	_, err = m.Create(ctx, admin, validInput())
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "customer_id", verr.Fields[len(verr.Fields)-1].Field)

	in := validInput()
	in.CustomerID = "c9"
	o, err := m.Create(ctx, admin, in)
	require.NoError(t, err)
	assert.Equal(t, "c9", o.CustomerID)

	in = validInput()
	in.CustomerID = "c9"
	o, err = m.Create(ctx, customer, in)
	require.NoError(t, err)
	assert.Equal(t, "c1", o.CustomerID, "customers always create for themselves")

	_, err = m.Create(ctx, customer, CreateInput{})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestClaimScenario(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	o := create(t, m)

	got, err := m.Transition(ctx, o.ID, driver("B"), model.StatusAssigned, TransitionExtra{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusAssigned, got.Status)
	assert.Equal(t, "B", got.AssignedDriverID)
	assert.NotNil(t, got.AcceptedAt)

	_, err = m.Transition(ctx, o.ID, driver("C"), model.StatusAssigned, TransitionExtra{})
	assert.ErrorIs(t, err, model.ErrAlreadyAssigned)

	_, err = m.Transition(ctx, o.ID, driver("C"), model.StatusInProgress, TransitionExtra{})
	assert.ErrorIs(t, err, model.ErrPermission)

	_, err = m.Transition(ctx, o.ID, driver("B"), model.StatusDelivered, TransitionExtra{})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	var terr *model.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, []model.OrderStatus{model.StatusInProgress, model.StatusCancelled}, terr.Allowed)
	assert.EqualError(t, err, "cannot move order from assigned to delivered (allowed: in_progress, cancelled)")

	got, err = m.Transition(ctx, o.ID, driver("B"), model.StatusInProgress, TransitionExtra{})
	require.NoError(t, err)
	assert.NotNil(t, got.StartedAt)

	got, err = m.Transition(ctx, o.ID, driver("B"), model.StatusDelivered, TransitionExtra{})
	require.NoError(t, err)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, "B", got.AssignedDriverID)
	assert.NoError(t, got.CheckInvariants())

	_, err = m.Transition(ctx, o.ID, driver("B"), model.StatusCancelled, TransitionExtra{})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestClaimRace(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	sink := &countingSink{}
	m.metrics = sink
	o := create(t, m)

	const n = 16
	var (
		wg       sync.WaitGroup
		wins     atomic.Int64
		lost     atomic.Int64
		other    atomic.Int64
		winnerMu sync.Mutex
		winner   string
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			_, err := m.Transition(ctx, o.ID, driver(id), model.StatusAssigned, TransitionExtra{})
			switch {
			case err == nil:
				wins.Add(1)
				winnerMu.Lock()
				winner = id
				winnerMu.Unlock()
			case errors.Is(err, model.ErrAlreadyAssigned):
				lost.Add(1)
			default:
				other.Add(1)
			}
		}(fmt.Sprintf("d%02d", i))
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load())
	assert.Equal(t, int64(n-1), lost.Load())
	assert.Zero(t, other.Load())
	got, err := m.Get(ctx, admin, o.ID)
	require.NoError(t, err)
	assert.Equal(t, winner, got.AssignedDriverID)
	assert.Equal(t, int64(2), sink.transitions.Load(), "create + one claim")
}

// reach drives a fresh order into status s with driver d1 bound where needed.
func reach(t *testing.T, m *Manager, s model.OrderStatus) model.Order {
	t.Helper()
	ctx := context.Background()
	o := create(t, m)
	path := map[model.OrderStatus][]model.OrderStatus{
		model.StatusPendingAssignment: nil,
		model.StatusAssigned:          {model.StatusAssigned},
		model.StatusInProgress:        {model.StatusAssigned, model.StatusInProgress},
		model.StatusDelivered:         {model.StatusAssigned, model.StatusInProgress, model.StatusDelivered},
		model.StatusCancelled:         {model.StatusCancelled},
	}[s]
	for _, step := range path {
		var err error
		o, err = m.Transition(ctx, o.ID, admin, step, TransitionExtra{DriverID: "d1"})
		require.NoError(t, err)
	}
	require.Equal(t, s, o.Status)
	return o
}

func TestTransitionTableCompleteness(t *testing.T) {
	for _, actor := range []model.Actor{admin, driver("d1")} {
		for _, from := range model.Statuses {
			for _, to := range model.Statuses {
				name := fmt.Sprintf("%s/%s->%s", actor.Role, from, to)
				t.Run(name, func(t *testing.T) {
					m := newTestManager(t)
					o := reach(t, m, from)
					got, err := m.Transition(context.Background(), o.ID, actor, to, TransitionExtra{DriverID: "d1", Reason: "r"})
					// a driver only cancels orders bound to them
					if actor.IsDriver() && from == model.StatusPendingAssignment && to == model.StatusCancelled {
						assert.ErrorIs(t, err, model.ErrPermission)
						return
					}
					if CanTransition(from, to) {
						require.NoError(t, err)
						assert.Equal(t, to, got.Status)
						assert.NoError(t, got.CheckInvariants())
					} else {
						assert.ErrorIs(t, err, model.ErrInvalidTransition)
					}
				})
			}
		}
	}
}

func TestCancelClearsDriver(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	store := audit.NewMemoryStore()
	m.SetAuditStore(store)
	o := reach(t, m, model.StatusInProgress)

	got, err := m.Transition(ctx, o.ID, driver("d1"), model.StatusCancelled, TransitionExtra{Reason: "flat tyre"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Empty(t, got.AssignedDriverID)
	assert.Equal(t, "flat tyre", got.CancelReason)
	assert.Equal(t, "d1", got.CancelledBy)
	assert.NotNil(t, got.CancelledAt)
	assert.NoError(t, got.CheckInvariants())

	recs, err := store.Query(ctx, audit.Query{OrderID: o.ID})
	require.NoError(t, err)
	require.Len(t, recs, 4)
	last := recs[3]
	assert.Equal(t, model.StatusCancelled, last.To)
	assert.Equal(t, "d1", last.DriverID)
	assert.Equal(t, "flat tyre", last.Reason)
}

func TestDriverCannotCancelUnboundOrder(t *testing.T) {
	m := newTestManager(t)
	o := create(t, m)
	_, err := m.Transition(context.Background(), o.ID, driver("d1"), model.StatusCancelled, TransitionExtra{})
	assert.ErrorIs(t, err, model.ErrPermission)
}

func TestTransitionErrors(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	o := create(t, m)

	_, err := m.Transition(ctx, 404, admin, model.StatusCancelled, TransitionExtra{})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = m.Transition(ctx, o.ID, customer, model.StatusCancelled, TransitionExtra{})
	assert.ErrorIs(t, err, model.ErrPermission)

	_, err = m.Transition(ctx, o.ID, admin, "teleported", TransitionExtra{})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = m.Transition(ctx, o.ID, admin, model.StatusAssigned, TransitionExtra{})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestClaimUsesDirectoryAndPresence(t *testing.T) {
	ctx := context.Background()
	dir := identity.NewMemoryDirectory(
		identity.User{ID: "d1", Name: "Ali", Phone: "+331", Role: model.RoleDriver, Active: true},
		identity.User{ID: "d2", Name: "Bea", Role: model.RoleDriver, Active: true},
		identity.User{ID: "d3", Name: "Old", Role: model.RoleDriver, Active: false},
	)
	pres := fakePresence{"d2": {Presence: model.Presence{DriverID: "d2", ForceOffline: true}}}
	m, err := NewManager(NewMemoryStore(), pres, dir, logger.NopLogger{}, nil)
	require.NoError(t, err)
	o := create(t, m)

	_, err = m.Transition(ctx, o.ID, driver("d2"), model.StatusAssigned, TransitionExtra{})
	assert.ErrorIs(t, err, model.ErrForcedOffline)

	_, err = m.Transition(ctx, o.ID, driver("d3"), model.StatusAssigned, TransitionExtra{})
	assert.ErrorIs(t, err, model.ErrPermission)

	_, err = m.Transition(ctx, o.ID, admin, model.StatusAssigned, TransitionExtra{DriverID: "ghost"})
	assert.ErrorIs(t, err, model.ErrNotFound)

	got, err := m.Transition(ctx, o.ID, driver("d1"), model.StatusAssigned, TransitionExtra{})
	require.NoError(t, err)
	assert.Equal(t, "Ali", got.DriverName)
	assert.Equal(t, "+331", got.DriverPhone)
}

func TestScopedReads(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mine := create(t, m)
	other, err := m.Create(ctx, model.Actor{ID: "c2", Role: model.RoleCustomer}, validInput())
	require.NoError(t, err)
	taken := reach(t, m, model.StatusAssigned) // bound to d1
	_ = reach(t, m, model.StatusCancelled)

	_, err = m.Get(ctx, customer, other.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	got, err := m.Get(ctx, customer, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got.ID)

	_, err = m.Get(ctx, driver("d2"), taken.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = m.Get(ctx, driver("d1"), taken.ID)
	assert.NoError(t, err)

	list, err := m.List(ctx, driver("d2"), ListFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2, "only the two open orders")

	list, err = m.List(ctx, driver("d1"), ListFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 3)

	list, err = m.List(ctx, driver("d1"), ListFilter{Status: model.StatusAssigned})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, taken.ID, list[0].ID)

	list, err = m.List(ctx, customer, ListFilter{})
	require.NoError(t, err)
	for _, o := range list {
		assert.Equal(t, "c1", o.CustomerID)
	}

	list, err = m.List(ctx, admin, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 4)
	assert.Greater(t, list[0].ID, list[1].ID)

	_, err = m.List(ctx, admin, ListFilter{Status: "bogus"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = m.List(ctx, model.Actor{ID: "x", Role: "robot"}, ListFilter{})
	assert.ErrorIs(t, err, model.ErrPermission)
}

func TestEventsPublished(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	bus := eventbus.NewTypedBuffered[events.OrderEvent](4)
	m.SetBus(bus)
	sub := bus.Subscribe()
	fixed := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return fixed })

	o := create(t, m)
	ev := <-sub
	assert.True(t, ev.Created())
	assert.Equal(t, fixed, ev.Time)

	_, err := m.Transition(ctx, o.ID, driver("d1"), model.StatusAssigned, TransitionExtra{})
	require.NoError(t, err)
	ev = <-sub
	assert.Equal(t, model.StatusPendingAssignment, ev.From)
	assert.Equal(t, model.StatusAssigned, ev.Order.Status)
	assert.Equal(t, "d1", ev.Actor.ID)
}

func TestStageTimesSurviveClockStepBack(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })
	o := create(t, m)

	_, err := m.Transition(ctx, o.ID, driver("d1"), model.StatusAssigned, TransitionExtra{})
	require.NoError(t, err)
	accepted := now

	now = now.Add(-time.Minute)
	got, err := m.Transition(ctx, o.ID, driver("d1"), model.StatusInProgress, TransitionExtra{})
	require.NoError(t, err)
	assert.Equal(t, accepted, *got.StartedAt)

	now = now.Add(-time.Minute)
	got, err = m.Transition(ctx, o.ID, driver("d1"), model.StatusDelivered, TransitionExtra{})
	require.NoError(t, err)
	assert.Equal(t, accepted, *got.CompletedAt)
	assert.NoError(t, got.CheckInvariants())
}
