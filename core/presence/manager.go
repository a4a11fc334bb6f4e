// Package presence tracks which drivers can receive dispatch notifications.
//
// Availability is derived lazily from the stored record at read time, so a
// driver whose heartbeat went stale is unavailable even if the sweeper has
// not expired the record yet.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/courierd/core/events"
	"github.com/kilianp07/courierd/core/identity"
	"github.com/kilianp07/courierd/core/logger"
	"github.com/kilianp07/courierd/core/metrics"
	"github.com/kilianp07/courierd/core/model"
	"github.com/kilianp07/courierd/core/policy"
	"github.com/kilianp07/courierd/internal/eventbus"
)

// Manager owns the presence store and applies presence rules.
type Manager struct {
	store     Store
	policy    policy.Policy
	directory identity.Directory
	logger    logger.Logger
	metrics   metrics.MetricsSink
	bus       *eventbus.TypedBus[events.PresenceEvent]
	now       func() time.Time
}

// NewManager creates a presence manager. directory may be nil, in which case
// unknown driver ids are treated as drivers without a record.
func NewManager(store Store, pol policy.Policy, directory identity.Directory, log logger.Logger, sink metrics.MetricsSink) (*Manager, error) {
	if store == nil || log == nil {
		return nil, fmt.Errorf("presence: nil parameter provided to NewManager")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Manager{
		store:     store,
		policy:    pol.WithDefaults(),
		directory: directory,
		logger:    log,
		metrics:   sink,
		now:       time.Now,
	}, nil
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// SetBus configures the bus receiving presence events.
func (m *Manager) SetBus(bus *eventbus.TypedBus[events.PresenceEvent]) { m.bus = bus }

// Policy returns the effective limits.
func (m *Manager) Policy() policy.Policy { return m.policy }

// SetStatus records the availability a driver asks for. Going online stamps a
// fresh heartbeat; going offline clears it.
func (m *Manager) SetStatus(ctx context.Context, driverID string, status model.PresenceStatus) (model.PresenceView, error) {
	if err := requireDriverID(driverID); err != nil {
		return model.PresenceView{}, err
	}
	if status != model.PresenceOnline && status != model.PresenceOffline {
		verr := &model.ValidationError{}
		verr.Add("status", "must be online or offline")
		return model.PresenceView{}, verr
	}
	now := m.now()
	p, err := m.store.Update(ctx, driverID, func(p *model.Presence) error {
		if status == model.PresenceOnline {
			if p.ForceOffline {
				return model.ErrForcedOffline
			}
			p.Online = true
			p.LastHeartbeat = &now
		} else {
			p.Online = false
			p.LastHeartbeat = nil
		}
		p.LastStatusChange = now
		return nil
	})
	if err != nil {
		return model.PresenceView{}, m.storeErr("set status", err)
	}
	m.logger.Infof("driver %s set %s", driverID, status)
	return m.emit(p, "status", now), nil
}

// Heartbeat refreshes liveness and implies online.
func (m *Manager) Heartbeat(ctx context.Context, driverID string) (model.PresenceView, error) {
	if err := requireDriverID(driverID); err != nil {
		return model.PresenceView{}, err
	}
	now := m.now()
	p, err := m.store.Update(ctx, driverID, func(p *model.Presence) error {
		if p.ForceOffline {
			return model.ErrForcedOffline
		}
		if !p.Online {
			p.Online = true
			p.LastStatusChange = now
		}
		p.LastHeartbeat = &now
		return nil
	})
	if err != nil {
		return model.PresenceView{}, m.storeErr("heartbeat", err)
	}
	m.logger.Debugw("heartbeat", map[string]any{"driver_id": driverID})
	return m.emit(p, "heartbeat", now), nil
}

// EffectiveAvailability reports whether driverID can be dispatched right now.
func (m *Manager) EffectiveAvailability(ctx context.Context, driverID string) (bool, error) {
	p, ok, err := m.store.Get(ctx, driverID)
	if err != nil {
		return false, model.Internal("presence get", err)
	}
	if !ok {
		return false, nil
	}
	return Available(p, m.now(), m.policy.HeartbeatTimeout), nil
}

// Status returns the stored record of driverID with its derived availability.
// A driver without a record is reported offline.
func (m *Manager) Status(ctx context.Context, driverID string) (model.PresenceView, error) {
	if err := requireDriverID(driverID); err != nil {
		return model.PresenceView{}, err
	}
	name, err := m.driverName(ctx, driverID)
	if err != nil {
		return model.PresenceView{}, err
	}
	p, ok, err := m.store.Get(ctx, driverID)
	if err != nil {
		return model.PresenceView{}, model.Internal("presence get", err)
	}
	if !ok {
		p = model.Presence{DriverID: driverID}
	}
	v := m.view(p, m.now())
	v.Name = name
	return v, nil
}

// ForceOffline suppresses the driver's own online signal until AllowOnline.
func (m *Manager) ForceOffline(ctx context.Context, driverID, reason string, actor model.Actor) (model.PresenceView, error) {
	if !actor.IsAdmin() {
		return model.PresenceView{}, model.ErrPermission
	}
	if err := requireDriverID(driverID); err != nil {
		return model.PresenceView{}, err
	}
	if _, err := m.driverName(ctx, driverID); err != nil {
		return model.PresenceView{}, err
	}
	now := m.now()
	p, err := m.store.Update(ctx, driverID, func(p *model.Presence) error {
		p.ForceOffline = true
		p.Online = false
		p.OfflineReason = reason
		p.LastStatusChange = now
		return nil
	})
	if err != nil {
		return model.PresenceView{}, m.storeErr("force offline", err)
	}
	m.logger.Warnf("driver %s forced offline by %s: %s", driverID, actor.ID, reason)
	return m.emit(p, "force_offline", now), nil
}

// AllowOnline lifts a force-offline. The driver stays offline until it
// signals availability again.
func (m *Manager) AllowOnline(ctx context.Context, driverID string, actor model.Actor) (model.PresenceView, error) {
	if !actor.IsAdmin() {
		return model.PresenceView{}, model.ErrPermission
	}
	if err := requireDriverID(driverID); err != nil {
		return model.PresenceView{}, err
	}
	if _, err := m.driverName(ctx, driverID); err != nil {
		return model.PresenceView{}, err
	}
	now := m.now()
	p, err := m.store.Update(ctx, driverID, func(p *model.Presence) error {
		p.ForceOffline = false
		p.OfflineReason = ""
		p.LastStatusChange = now
		return nil
	})
	if err != nil {
		return model.PresenceView{}, m.storeErr("allow online", err)
	}
	m.logger.Infof("driver %s allowed online by %s", driverID, actor.ID)
	return m.emit(p, "allow_online", now), nil
}

// ListAvailable returns the sorted ids of every currently available driver.
func (m *Manager) ListAvailable(ctx context.Context) ([]string, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, model.Internal("presence list", err)
	}
	now := m.now()
	ids := make([]string, 0, len(all))
	for _, p := range all {
		if Available(p, now, m.policy.HeartbeatTimeout) {
			ids = append(ids, p.DriverID)
		}
	}
	if err := metrics.AvailableDrivers(m.metrics, len(ids)); err != nil {
		m.logger.Errorf("available drivers metrics error: %v", err)
	}
	return ids, nil
}

// ListDrivers is the admin roster: every known driver with its presence.
func (m *Manager) ListDrivers(ctx context.Context, actor model.Actor) ([]model.PresenceView, error) {
	if !actor.IsAdmin() {
		return nil, model.ErrPermission
	}
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, model.Internal("presence list", err)
	}
	now := m.now()
	byID := make(map[string]model.Presence, len(all))
	for _, p := range all {
		byID[p.DriverID] = p
	}
	res := make([]model.PresenceView, 0, len(all))
	seen := make(map[string]bool, len(all))
	if m.directory != nil {
		users, err := m.directory.ListUsersByRole(ctx, model.RoleDriver)
		if err != nil {
			return nil, model.Internal("list drivers", err)
		}
		for _, u := range users {
			p, ok := byID[u.ID]
			if !ok {
				p = model.Presence{DriverID: u.ID}
			}
			v := m.view(p, now)
			v.Name = u.Name
			res = append(res, v)
			seen[u.ID] = true
		}
	}
	for _, p := range all {
		if !seen[p.DriverID] {
			res = append(res, m.view(p, now))
		}
	}
	return res, nil
}

// ExpireStale flips online records whose heartbeat timed out to offline.
// Records are never removed. It returns the number of expired drivers.
func (m *Manager) ExpireStale(ctx context.Context) (int, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return 0, model.Internal("presence list", err)
	}
	now := m.now()
	timeout := m.policy.HeartbeatTimeout
	expired := 0
	for _, p := range all {
		if !p.Online || Available(p, now, timeout) {
			continue
		}
		changed := false
		updated, err := m.store.Update(ctx, p.DriverID, func(cur *model.Presence) error {
			// a heartbeat may have landed since List
			if !cur.Online || Available(*cur, now, timeout) {
				return nil
			}
			cur.Online = false
			cur.LastStatusChange = now
			changed = true
			return nil
		})
		if err != nil {
			return expired, model.Internal("presence expire", err)
		}
		if changed {
			expired++
			m.emit(updated, "expire", now)
		}
	}
	if expired > 0 {
		m.logger.Infof("expired %d stale drivers", expired)
	}
	return expired, nil
}

func (m *Manager) view(p model.Presence, now time.Time) model.PresenceView {
	return model.PresenceView{Presence: p, Available: Available(p, now, m.policy.HeartbeatTimeout)}
}

func (m *Manager) emit(p model.Presence, source string, now time.Time) model.PresenceView {
	v := m.view(p, now)
	status := model.PresenceOffline
	if p.Online {
		status = model.PresenceOnline
	}
	if err := metrics.Presence(m.metrics, metrics.PresenceEvent{DriverID: p.DriverID, Status: status, Forced: p.ForceOffline, Time: now}); err != nil {
		m.logger.Errorf("presence metrics error: %v", err)
	}
	if m.bus != nil {
		m.bus.Publish(events.PresenceEvent{Presence: p, Available: v.Available, Source: source, Time: now})
	}
	return v
}

// driverName resolves a driver through the directory when one is configured.
func (m *Manager) driverName(ctx context.Context, driverID string) (string, error) {
	if m.directory == nil {
		return "", nil
	}
	u, err := m.directory.GetUser(ctx, driverID)
	if errors.Is(err, model.ErrNotFound) || (err == nil && u.Role != model.RoleDriver) {
		return "", fmt.Errorf("driver %s: %w", driverID, model.ErrNotFound)
	}
	if err != nil {
		return "", model.Internal("directory", err)
	}
	return u.Name, nil
}

func (m *Manager) storeErr(op string, err error) error {
	if errors.Is(err, model.ErrForcedOffline) {
		return err
	}
	m.logger.Errorf("presence %s: %v", op, err)
	return model.Internal("presence "+op, err)
}

func requireDriverID(id string) error {
	if id == "" {
		verr := &model.ValidationError{}
		verr.Add("driver_id", "required")
		return verr
	}
	return nil
}
