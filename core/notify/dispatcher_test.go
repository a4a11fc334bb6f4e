package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/courierd/core/events"
	"github.com/kilianp07/courierd/core/model"
	"github.com/kilianp07/courierd/core/policy"
	"github.com/kilianp07/courierd/core/presence"
	"github.com/kilianp07/courierd/infra/logger"
	"github.com/kilianp07/courierd/internal/eventbus"
)

func sampleOrder(id int64) model.Order {
	return model.Order{
		ID:              id,
		CustomerName:    "Cy",
		PickupName:      "Pharma",
		DeliveryAddress: "1 rue de la Paix",
		Items:           []model.LineItem{{Name: "a", Quantity: 2}, {Name: "b", Quantity: 1}},
		Totals:          model.Totals{Subtotal: 10, DeliveryFee: 2, Total: 12},
		Priority:        model.PriorityHigh,
		Status:          model.StatusPendingAssignment,
	}
}

type staticDrivers []string

func (s staticDrivers) ListAvailable(context.Context) ([]string, error) { return s, nil }

type failingMailbox struct {
	*MemoryMailbox
	fail string
}

func (f failingMailbox) Append(ctx context.Context, driverID string, n model.Notification) (model.Notification, int, error) {
	if driverID == f.fail {
		return model.Notification{}, 0, errors.New("disk full")
	}
	return f.MemoryMailbox.Append(ctx, driverID, n)
}

func TestNotifyNewOrderFanOutCompleteness(t *testing.T) {
	ctx := context.Background()
	now := t0
	pm, err := presence.NewManager(presence.NewMemoryStore(), policy.Default(), nil, logger.NopLogger{}, nil)
	require.NoError(t, err)
	pm.SetClock(func() time.Time { return now })

	_, err = pm.Heartbeat(ctx, "A") // goes stale
	require.NoError(t, err)
	now = t0.Add(130 * time.Second)
	_, err = pm.Heartbeat(ctx, "B")
	require.NoError(t, err)
	_, err = pm.SetStatus(ctx, "C", model.PresenceOnline)
	require.NoError(t, err)
	_, err = pm.SetStatus(ctx, "D", model.PresenceOffline)
	require.NoError(t, err)
	_, err = pm.Heartbeat(ctx, "E")
	require.NoError(t, err)
	_, err = pm.ForceOffline(ctx, "E", "fraud", model.Actor{ID: "admin", Role: model.RoleAdmin})
	require.NoError(t, err)
	now = t0.Add(131 * time.Second)

	mb := NewMemoryMailbox(50)
	d, err := NewDispatcher(pm, mb, logger.NopLogger{}, nil)
	require.NoError(t, err)
	d.SetClock(func() time.Time { return now })
	bus := eventbus.NewTypedBuffered[events.NotificationEvent](8)
	d.SetBus(bus)
	sub := bus.Subscribe()

	n, err := d.NotifyNewOrder(ctx, sampleOrder(7))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"B", "C"} {
		list, _ := mb.List(ctx, id, false)
		require.Len(t, list, 1, id)
		assert.Equal(t, int64(7), list[0].OrderID)
		assert.Equal(t, 3, list[0].Order.ItemCount)
		assert.Equal(t, 12.0, list[0].Order.Total)
		assert.False(t, list[0].Read)
	}
	for _, id := range []string{"A", "D", "E"} {
		list, _ := mb.List(ctx, id, false)
		assert.Empty(t, list, id)
	}
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		ev := <-sub
		got[ev.Notification.DriverID] = true
	}
	assert.Equal(t, map[string]bool{"B": true, "C": true}, got)
}

func TestNotifyNewOrderNoDrivers(t *testing.T) {
	d, err := NewDispatcher(staticDrivers(nil), NewMemoryMailbox(50), logger.NopLogger{}, nil)
	require.NoError(t, err)
	n, err := d.NotifyNewOrder(context.Background(), sampleOrder(1))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNotifyNewOrderPartialFailure(t *testing.T) {
	mb := failingMailbox{MemoryMailbox: NewMemoryMailbox(50), fail: "d2"}
	d, err := NewDispatcher(staticDrivers{"d1", "d2", "d3"}, mb, logger.NopLogger{}, nil)
	require.NoError(t, err)
	n, err := d.NotifyNewOrder(context.Background(), sampleOrder(1))
	assert.Error(t, err)
	assert.Equal(t, 2, n)
	list, _ := mb.List(context.Background(), "d3", false)
	assert.Len(t, list, 1)
}

func TestNewOrderNotificationIsSnapshot(t *testing.T) {
	o := sampleOrder(3)
	n := NewOrderNotification(o, t0)
	o.Totals.Total = 99
	assert.Equal(t, 12.0, n.Order.Total)
	assert.Equal(t, model.PriorityHigh, n.Order.Priority)
	assert.Contains(t, n.Message, "Pharma")
	assert.Equal(t, t0, n.CreatedAt)
}
