package presence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/courierd/core/events"
	"github.com/kilianp07/courierd/core/identity"
	"github.com/kilianp07/courierd/core/model"
	"github.com/kilianp07/courierd/core/policy"
	"github.com/kilianp07/courierd/infra/logger"
	"github.com/kilianp07/courierd/internal/eventbus"
)

var admin = model.Actor{ID: "a1", Role: model.RoleAdmin}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T, dir identity.Directory) (*Manager, *clock) {
	t.Helper()
	m, err := NewManager(NewMemoryStore(), policy.Default(), dir, logger.NopLogger{}, nil)
	require.NoError(t, err)
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	m.SetClock(c.Now)
	return m, c
}

func TestSetStatusOnlineStampsHeartbeat(t *testing.T) {
	ctx := context.Background()
	m, c := newManager(t, nil)

	v, err := m.SetStatus(ctx, "d1", model.PresenceOnline)
	require.NoError(t, err)
	assert.True(t, v.Online)
	assert.True(t, v.Available)
	require.NotNil(t, v.LastHeartbeat)
	assert.Equal(t, c.Now(), *v.LastHeartbeat)

	v, err = m.SetStatus(ctx, "d1", model.PresenceOffline)
	require.NoError(t, err)
	assert.False(t, v.Online)
	assert.Nil(t, v.LastHeartbeat)
	assert.False(t, v.Available)
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	m, _ := newManager(t, nil)
	_, err := m.SetStatus(context.Background(), "d1", "busy")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestHeartbeatTimeout(t *testing.T) {
	ctx := context.Background()
	m, c := newManager(t, nil)

	_, err := m.Heartbeat(ctx, "A")
	require.NoError(t, err)
	ok, err := m.EffectiveAvailability(ctx, "A")
	require.NoError(t, err)
	assert.True(t, ok)

	c.Advance(2 * time.Minute)
	ok, _ = m.EffectiveAvailability(ctx, "A")
	assert.True(t, ok, "exactly at the timeout the driver is still fresh")

	c.Advance(10 * time.Second)
	ok, _ = m.EffectiveAvailability(ctx, "A")
	assert.False(t, ok)

	ids, err := m.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestForceOfflineBlocksSelfSignals(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, nil)
	_, err := m.SetStatus(ctx, "d1", model.PresenceOnline)
	require.NoError(t, err)

	_, err = m.ForceOffline(ctx, "d1", "complaints", model.Actor{ID: "d2", Role: model.RoleDriver})
	assert.ErrorIs(t, err, model.ErrPermission)

	v, err := m.ForceOffline(ctx, "d1", "complaints", admin)
	require.NoError(t, err)
	assert.True(t, v.ForceOffline)
	assert.False(t, v.Online)
	assert.Equal(t, "complaints", v.OfflineReason)

	_, err = m.SetStatus(ctx, "d1", model.PresenceOnline)
	assert.ErrorIs(t, err, model.ErrForcedOffline)
	_, err = m.Heartbeat(ctx, "d1")
	assert.ErrorIs(t, err, model.ErrForcedOffline)

	// going offline is still allowed
	_, err = m.SetStatus(ctx, "d1", model.PresenceOffline)
	require.NoError(t, err)

	v, err = m.AllowOnline(ctx, "d1", admin)
	require.NoError(t, err)
	assert.False(t, v.ForceOffline)
	assert.Empty(t, v.OfflineReason)
	assert.False(t, v.Online, "allow online must not set online")

	_, err = m.Heartbeat(ctx, "d1")
	require.NoError(t, err)
	ok, _ := m.EffectiveAvailability(ctx, "d1")
	assert.True(t, ok)
}

func TestAvailableEachConditionFlipsResult(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Minute)
	stale := now.Add(-3 * time.Minute)
	base := model.Presence{Online: true, LastHeartbeat: &fresh}
	timeout := 2 * time.Minute
	require.True(t, Available(base, now, timeout))

	offline := base
	offline.Online = false
	assert.False(t, Available(offline, now, timeout))

	forced := base
	forced.ForceOffline = true
	assert.False(t, Available(forced, now, timeout))

	old := base
	old.LastHeartbeat = &stale
	assert.False(t, Available(old, now, timeout))

	none := base
	none.LastHeartbeat = nil
	assert.False(t, Available(none, now, timeout))
}

func TestListAvailableSorted(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, nil)
	for _, id := range []string{"d3", "d1", "d2"} {
		_, err := m.Heartbeat(ctx, id)
		require.NoError(t, err)
	}
	_, err := m.SetStatus(ctx, "d2", model.PresenceOffline)
	require.NoError(t, err)

	ids, err := m.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d3"}, ids)
}

func TestStatusWithDirectory(t *testing.T) {
	ctx := context.Background()
	dir := identity.NewMemoryDirectory(
		identity.User{ID: "d1", Name: "Ali", Role: model.RoleDriver, Active: true},
		identity.User{ID: "c1", Name: "Cy", Role: model.RoleCustomer, Active: true},
	)
	m, _ := newManager(t, dir)

	v, err := m.Status(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Ali", v.Name)
	assert.False(t, v.Online)

	_, err = m.Status(ctx, "ghost")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = m.ForceOffline(ctx, "c1", "x", admin)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestListDriversJoinsDirectory(t *testing.T) {
	ctx := context.Background()
	dir := identity.NewMemoryDirectory(
		identity.User{ID: "d1", Name: "Ali", Role: model.RoleDriver},
		identity.User{ID: "d2", Name: "Bea", Role: model.RoleDriver},
	)
	m, _ := newManager(t, dir)
	_, err := m.Heartbeat(ctx, "d2")
	require.NoError(t, err)
	_, err = m.Heartbeat(ctx, "unlisted")
	require.NoError(t, err)

	_, err = m.ListDrivers(ctx, model.Actor{ID: "d1", Role: model.RoleDriver})
	assert.ErrorIs(t, err, model.ErrPermission)

	views, err := m.ListDrivers(ctx, admin)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, "d1", views[0].DriverID)
	assert.False(t, views[0].Available)
	assert.Equal(t, "Bea", views[1].Name)
	assert.True(t, views[1].Available)
	assert.Equal(t, "unlisted", views[2].DriverID)
}

func TestExpireStale(t *testing.T) {
	ctx := context.Background()
	m, c := newManager(t, nil)
	bus := eventbus.NewTypedBuffered[events.PresenceEvent](16)
	m.SetBus(bus)
	sub := bus.Subscribe()

	_, err := m.Heartbeat(ctx, "old")
	require.NoError(t, err)
	c.Advance(90 * time.Second)
	_, err = m.Heartbeat(ctx, "new")
	require.NoError(t, err)
	c.Advance(time.Minute)

	n, err := m.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, err := m.Status(ctx, "old")
	require.NoError(t, err)
	assert.False(t, v.Online)
	v, err = m.Status(ctx, "new")
	require.NoError(t, err)
	assert.True(t, v.Online)

	var last events.PresenceEvent
	for i := 0; i < 3; i++ {
		last = <-sub
	}
	assert.Equal(t, "expire", last.Source)
	assert.Equal(t, "old", last.Presence.DriverID)
}

func TestConcurrentDriversIndependent(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("d%02d", i)
			for j := 0; j < 20; j++ {
				_, _ = m.Heartbeat(ctx, id)
			}
		}(i)
	}
	wg.Wait()
	ids, err := m.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 50)
}

func TestEmptyDriverID(t *testing.T) {
	m, _ := newManager(t, nil)
	_, err := m.Heartbeat(context.Background(), "")
	assert.ErrorIs(t, err, model.ErrValidation)
}
