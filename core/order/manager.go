// Package order implements the order lifecycle: creation, guarded status
// transitions and caller-scoped reads.
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/courierd/core/audit"
	"github.com/kilianp07/courierd/core/events"
	"github.com/kilianp07/courierd/core/identity"
	"github.com/kilianp07/courierd/core/logger"
	"github.com/kilianp07/courierd/core/metrics"
	"github.com/kilianp07/courierd/core/model"
	"github.com/kilianp07/courierd/core/monitoring"
	"github.com/kilianp07/courierd/internal/eventbus"
)

const (
	maxApplyAttempts       = 8
	defaultListLimit       = 100
	maxListLimit           = 500
	defaultDispatchTimeout = 10 * time.Second
)

// Notifier fans a freshly created order out to available drivers.
type Notifier interface {
	NotifyNewOrder(ctx context.Context, o model.Order) (int, error)
}

// PresenceReader exposes the presence state needed to vet a claim.
type PresenceReader interface {
	Status(ctx context.Context, driverID string) (model.PresenceView, error)
}

// TransitionExtra carries optional transition arguments.
type TransitionExtra struct {
	// Reason is recorded on cancellation.
	Reason string `json:"reason,omitempty"`
	// DriverID names the driver when an admin assigns an order.
	DriverID string `json:"driver_id,omitempty"`
}

// ListFilter holds the caller supplied list criteria. Scoping by role is
// added by Manager.List.
type ListFilter struct {
	Status     model.OrderStatus
	DriverID   string
	CustomerID string
	Limit      int
	Offset     int
}

// Manager is the only writer of the order store.
type Manager struct {
	store     Store
	presence  PresenceReader
	directory identity.Directory
	notifier  Notifier
	audit     audit.Store
	logger    logger.Logger
	metrics   metrics.MetricsSink
	bus       *eventbus.TypedBus[events.OrderEvent]
	now       func() time.Time

	dispatchTimeout time.Duration
	wg              sync.WaitGroup
}

// NewManager creates an order manager. presence and directory may be nil;
// without them claims skip the force-offline check and driver snapshots are
// left empty.
func NewManager(store Store, presence PresenceReader, directory identity.Directory, log logger.Logger, sink metrics.MetricsSink) (*Manager, error) {
	if store == nil || log == nil {
		return nil, fmt.Errorf("order: nil parameter provided to NewManager")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Manager{
		store:           store,
		presence:        presence,
		directory:       directory,
		audit:           audit.NopStore{},
		logger:          log,
		metrics:         sink,
		now:             time.Now,
		dispatchTimeout: defaultDispatchTimeout,
	}, nil
}

// SetNotifier configures the fan-out triggered after Create.
func (m *Manager) SetNotifier(n Notifier) { m.notifier = n }

// SetAuditStore configures where committed writes are recorded.
func (m *Manager) SetAuditStore(s audit.Store) {
	if s != nil {
		m.audit = s
	}
}

// SetBus configures the bus receiving order events.
func (m *Manager) SetBus(bus *eventbus.TypedBus[events.OrderEvent]) { m.bus = bus }

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// SetDispatchTimeout bounds each asynchronous fan-out.
func (m *Manager) SetDispatchTimeout(d time.Duration) {
	if d > 0 {
		m.dispatchTimeout = d
	}
}

// Wait blocks until every pending fan-out has finished.
func (m *Manager) Wait() { m.wg.Wait() }

// Create validates in and stores a new pending order. Notification fan-out
// runs in the background and never fails creation.
func (m *Manager) Create(ctx context.Context, actor model.Actor, in CreateInput) (model.Order, error) {
	in.normalize()
	customerID := actor.ID
	switch actor.Role {
	case model.RoleCustomer:
	case model.RoleAdmin:
		customerID = in.CustomerID
	default:
		return model.Order{}, model.ErrPermission
	}
	verr := &model.ValidationError{}
	if err := in.Validate(); err != nil && !errors.As(err, &verr) {
		return model.Order{}, model.Internal("validate order", err)
	}
	if customerID == "" {
		verr.Add("customer_id", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return model.Order{}, err
	}

	now := m.now()
	o := model.Order{
		CustomerID:      customerID,
		CustomerName:    in.CustomerName,
		CustomerPhone:   in.CustomerPhone,
		PickupName:      in.PickupName,
		PickupAddress:   in.PickupAddress,
		DeliveryAddress: in.DeliveryAddress,
		Notes:           in.Notes,
		Items:           in.Items,
		Totals: model.Totals{
			Subtotal:    in.Subtotal,
			DeliveryFee: in.DeliveryFee,
			Tax:         in.Tax,
			Total:       in.Total,
		},
		Priority:  in.Priority,
		Status:    model.StatusPendingAssignment,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.CheckInvariants(); err != nil {
		return model.Order{}, model.Internal("create order", err)
	}
	saved, err := m.store.Insert(ctx, o)
	if err != nil {
		m.logger.Errorf("insert order: %v", err)
		return model.Order{}, model.Internal("create order", err)
	}
	m.logger.Infof("order %d created by %s %s", saved.ID, actor.Role, actor.ID)
	m.committed(ctx, saved, "", actor, "", "")
	m.dispatch(ctx, saved)
	return saved, nil
}

// dispatch notifies drivers in the background. The request context only
// contributes values; its cancellation must not abort the fan-out.
func (m *Manager) dispatch(ctx context.Context, o model.Order) {
	if m.notifier == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		var err error
		defer func() {
			if err != nil {
				m.logger.Errorf("dispatch order %d: %v", o.ID, err)
				monitoring.CaptureException(err, map[string]string{"op": "dispatch", "order_id": fmt.Sprint(o.ID)})
			}
		}()
		defer monitoring.RecoverAsError(&err)
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.dispatchTimeout)
		defer cancel()
		var n int
		n, err = m.notifier.NotifyNewOrder(dctx, o)
		if err == nil {
			m.logger.Infof("order %d dispatched to %d drivers", o.ID, n)
		}
	}()
}

// Transition moves order id to the requested status on behalf of actor.
//
// Every write is guarded by the status and driver observed when the decision
// was made. When another writer got there first the decision is re-evaluated
// against the fresh record, so a lost claim surfaces as ErrAlreadyAssigned.
func (m *Manager) Transition(ctx context.Context, id int64, actor model.Actor, to model.OrderStatus, extra TransitionExtra) (model.Order, error) {
	if !to.Valid() {
		verr := &model.ValidationError{}
		verr.Add("status", "unknown status "+string(to))
		return model.Order{}, verr
	}
	if actor.Role != model.RoleDriver && actor.Role != model.RoleAdmin {
		return model.Order{}, model.ErrPermission
	}
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		cur, err := m.store.Get(ctx, id)
		if err != nil {
			return model.Order{}, m.storeErr("get order", err)
		}
		driverID, err := m.authorize(ctx, cur, actor, to, extra)
		if err != nil {
			return model.Order{}, err
		}
		snap, err := m.driverSnapshot(ctx, to, driverID)
		if err != nil {
			return model.Order{}, err
		}
		now := m.now()
		guard := Guard{Status: cur.Status, DriverID: cur.AssignedDriverID}
		updated, err := m.store.Apply(ctx, id, guard, func(o *model.Order) error {
			apply(o, to, actor, extra, snap, now)
			return o.CheckInvariants()
		})
		if errors.Is(err, ErrConflict) {
			if to == model.StatusAssigned {
				if rerr := metrics.ClaimConflict(m.metrics, metrics.ClaimConflictEvent{OrderID: id, DriverID: driverID, Time: now}); rerr != nil {
					m.logger.Errorf("claim conflict metrics error: %v", rerr)
				}
			}
			m.logger.Debugw("transition conflict", map[string]any{"order_id": id, "to": to, "attempt": attempt})
			continue
		}
		if err != nil {
			return model.Order{}, m.storeErr("transition order", err)
		}
		m.logger.Infow("order transition", map[string]any{
			"order_id": id, "from": cur.Status, "to": to, "actor_id": actor.ID, "actor_role": actor.Role,
		})
		m.committed(ctx, updated, cur.Status, actor, extra.Reason, driverID)
		return updated, nil
	}
	return model.Order{}, model.Internal("transition order", fmt.Errorf("order %d: too much contention", id))
}

// authorize decides whether actor may move cur to to and returns the driver
// that will be bound after the write.
func (m *Manager) authorize(ctx context.Context, cur model.Order, actor model.Actor, to model.OrderStatus, extra TransitionExtra) (string, error) {
	claimant := ""
	if to == model.StatusAssigned {
		claimant = actor.ID
		if actor.IsAdmin() {
			claimant = extra.DriverID
		}
		if cur.AssignedDriverID != "" && cur.AssignedDriverID != claimant {
			return "", model.ErrAlreadyAssigned
		}
	}
	if !CanTransition(cur.Status, to) {
		return "", &model.TransitionError{From: cur.Status, To: to, Allowed: Allowed(cur.Status)}
	}
	switch {
	case actor.IsAdmin():
		if to == model.StatusAssigned {
			if claimant == "" {
				verr := &model.ValidationError{}
				verr.Add("driver_id", "is required to assign an order")
				return "", verr
			}
			if err := m.checkDriver(ctx, claimant, model.ErrNotFound); err != nil {
				return "", err
			}
		}
	case actor.IsDriver():
		if to == model.StatusAssigned {
			if err := m.checkDriver(ctx, claimant, model.ErrPermission); err != nil {
				return "", err
			}
			if err := m.checkNotForced(ctx, claimant); err != nil {
				return "", err
			}
		} else if cur.AssignedDriverID != actor.ID {
			return "", model.ErrPermission
		}
	default:
		return "", model.ErrPermission
	}
	if to == model.StatusAssigned {
		return claimant, nil
	}
	return cur.AssignedDriverID, nil
}

// checkDriver verifies id is an active driver, returning missing otherwise.
func (m *Manager) checkDriver(ctx context.Context, id string, missing error) error {
	if m.directory == nil {
		return nil
	}
	u, err := m.directory.GetUser(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("driver %s: %w", id, missing)
	}
	if err != nil {
		return model.Internal("directory", err)
	}
	if u.Role != model.RoleDriver || !u.Active {
		return fmt.Errorf("driver %s: %w", id, missing)
	}
	return nil
}

func (m *Manager) checkNotForced(ctx context.Context, driverID string) error {
	if m.presence == nil {
		return nil
	}
	v, err := m.presence.Status(ctx, driverID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.ErrPermission
		}
		return err
	}
	if v.ForceOffline {
		return model.ErrForcedOffline
	}
	return nil
}

type driverSnap struct {
	id    string
	name  string
	phone string
}

func (m *Manager) driverSnapshot(ctx context.Context, to model.OrderStatus, driverID string) (driverSnap, error) {
	snap := driverSnap{id: driverID}
	if to != model.StatusAssigned || m.directory == nil {
		return snap, nil
	}
	u, err := m.directory.GetUser(ctx, driverID)
	if err != nil {
		return snap, model.Internal("directory", err)
	}
	snap.name, snap.phone = u.Name, u.Phone
	return snap, nil
}

// apply writes the status change and the fields derived from it.
func apply(o *model.Order, to model.OrderStatus, actor model.Actor, extra TransitionExtra, snap driverSnap, now time.Time) {
	o.Status = to
	o.UpdatedAt = now
	switch to {
	case model.StatusAssigned:
		o.AssignedDriverID = snap.id
		o.DriverName = snap.name
		o.DriverPhone = snap.phone
		o.AcceptedAt = &now
	case model.StatusInProgress:
		started := notBefore(now, o.AcceptedAt)
		o.StartedAt = &started
	case model.StatusDelivered:
		completed := notBefore(now, o.StartedAt)
		o.CompletedAt = &completed
	case model.StatusCancelled:
		o.CancelledAt = &now
		o.CancelReason = extra.Reason
		o.CancelledBy = actor.ID
		o.AssignedDriverID = ""
		o.DriverName = ""
		o.DriverPhone = ""
	}
}

// notBefore keeps stage timestamps ordered when the wall clock steps back
// between two transitions.
func notBefore(now time.Time, prev *time.Time) time.Time {
	if prev != nil && now.Before(*prev) {
		return *prev
	}
	return now
}

// Get returns order id if actor may see it. Orders outside the caller's
// scope are reported as not found.
func (m *Manager) Get(ctx context.Context, actor model.Actor, id int64) (model.Order, error) {
	f, err := scope(actor, Filter{})
	if err != nil {
		return model.Order{}, err
	}
	o, err := m.store.Get(ctx, id)
	if err != nil {
		return model.Order{}, m.storeErr("get order", err)
	}
	if !f.Match(o) {
		return model.Order{}, model.ErrNotFound
	}
	return o, nil
}

// List returns the orders matching f within the caller's scope, newest first.
func (m *Manager) List(ctx context.Context, actor model.Actor, lf ListFilter) ([]model.Order, error) {
	if lf.Status != "" && !lf.Status.Valid() {
		verr := &model.ValidationError{}
		verr.Add("status", "unknown status "+string(lf.Status))
		return nil, verr
	}
	f := Filter{
		Status:     lf.Status,
		DriverID:   lf.DriverID,
		CustomerID: lf.CustomerID,
		Limit:      lf.Limit,
		Offset:     lf.Offset,
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f, err := scope(actor, f)
	if err != nil {
		return nil, err
	}
	res, err := m.store.List(ctx, f)
	if err != nil {
		return nil, m.storeErr("list orders", err)
	}
	return res, nil
}

// scope narrows f to what actor may see.
func scope(actor model.Actor, f Filter) (Filter, error) {
	switch actor.Role {
	case model.RoleAdmin:
	case model.RoleCustomer:
		f.CustomerID = actor.ID
	case model.RoleDriver:
		f.VisibleToDriver = actor.ID
	default:
		return f, model.ErrPermission
	}
	return f, nil
}

// committed publishes the side effects of a successful write.
func (m *Manager) committed(ctx context.Context, o model.Order, from model.OrderStatus, actor model.Actor, reason, driverID string) {
	now := o.UpdatedAt
	if err := m.metrics.RecordTransition(metrics.TransitionEvent{OrderID: o.ID, From: from, To: o.Status, ActorRole: actor.Role, Time: now}); err != nil {
		m.logger.Errorf("transition metrics error: %v", err)
	}
	rec := audit.Record{
		Timestamp: now,
		OrderID:   o.ID,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		From:      from,
		To:        o.Status,
		DriverID:  driverID,
		Reason:    reason,
	}
	if err := m.audit.Append(ctx, rec); err != nil {
		m.logger.Errorf("audit append: %v", err)
	}
	if m.bus != nil {
		m.bus.Publish(events.OrderEvent{Order: o, From: from, Actor: actor, Time: now})
	}
}

func (m *Manager) storeErr(op string, err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return err
	}
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return err
	}
	m.logger.Errorf("%s: %v", op, err)
	return model.Internal(op, err)
}
