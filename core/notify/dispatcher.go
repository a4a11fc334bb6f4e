package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/courierd/core/events"
	"github.com/kilianp07/courierd/core/logger"
	"github.com/kilianp07/courierd/core/metrics"
	"github.com/kilianp07/courierd/core/model"
	"github.com/kilianp07/courierd/internal/eventbus"
)

// AvailabilitySource lists the drivers that may be dispatched right now.
type AvailabilitySource interface {
	ListAvailable(ctx context.Context) ([]string, error)
}

// Dispatcher writes one new-order notification per available driver.
type Dispatcher struct {
	presence AvailabilitySource
	mailbox  Mailbox
	logger   logger.Logger
	metrics  metrics.MetricsSink
	bus      *eventbus.TypedBus[events.NotificationEvent]
	now      func() time.Time
}

func NewDispatcher(presence AvailabilitySource, mailbox Mailbox, log logger.Logger, sink metrics.MetricsSink) (*Dispatcher, error) {
	if presence == nil || mailbox == nil || log == nil {
		return nil, fmt.Errorf("notify: nil parameter provided to NewDispatcher")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Dispatcher{presence: presence, mailbox: mailbox, logger: log, metrics: sink, now: time.Now}, nil
}

// SetBus configures the bus receiving one event per delivered notification.
func (d *Dispatcher) SetBus(bus *eventbus.TypedBus[events.NotificationEvent]) { d.bus = bus }

// SetClock replaces the time source.
func (d *Dispatcher) SetClock(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

// NotifyNewOrder appends a snapshot of o to the mailbox of every available
// driver and returns how many drivers were notified. No available driver is
// not an error. Failed appends are joined into the returned error while the
// remaining drivers are still notified.
func (d *Dispatcher) NotifyNewOrder(ctx context.Context, o model.Order) (int, error) {
	start := d.now()
	drivers, err := d.presence.ListAvailable(ctx)
	if err != nil {
		return 0, fmt.Errorf("list available drivers: %w", err)
	}
	tmpl := NewOrderNotification(o, start)
	var (
		notified int
		errs     []error
	)
	for _, id := range drivers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, evicted, err := d.mailbox.Append(ctx, id, tmpl)
		if err != nil {
			errs = append(errs, fmt.Errorf("driver %s: %w", id, err))
			continue
		}
		notified++
		if err := metrics.MailboxEviction(d.metrics, id, evicted); err != nil {
			d.logger.Errorf("eviction metrics error: %v", err)
		}
		if d.bus != nil {
			d.bus.Publish(events.NotificationEvent{Notification: n})
		}
	}
	ev := metrics.FanOutEvent{
		OrderID:  o.ID,
		Notified: notified,
		Failed:   len(drivers) - notified,
		Duration: d.now().Sub(start),
		Time:     start,
	}
	if err := metrics.FanOut(d.metrics, ev); err != nil {
		d.logger.Errorf("fan-out metrics error: %v", err)
	}
	d.logger.Debugw("fan-out", map[string]any{"order_id": o.ID, "available": len(drivers), "notified": notified})
	return notified, errors.Join(errs...)
}

// NewOrderNotification builds the point-in-time notification for o.
func NewOrderNotification(o model.Order, now time.Time) model.Notification {
	qty := 0
	for _, it := range o.Items {
		qty += it.Quantity
	}
	from := o.PickupName
	if from == "" {
		from = o.PickupAddress
	}
	msg := fmt.Sprintf("Order #%d for %s, %d item(s), total %.2f", o.ID, o.DeliveryAddress, qty, o.Total)
	if from != "" {
		msg = fmt.Sprintf("Order #%d from %s to %s, %d item(s), total %.2f", o.ID, from, o.DeliveryAddress, qty, o.Total)
	}
	return model.Notification{
		Type:    model.NotificationNewOrder,
		OrderID: o.ID,
		Title:   "New order available",
		Message: msg,
		Order: model.OrderSnapshot{
			Total:           o.Total,
			DeliveryFee:     o.DeliveryFee,
			CustomerName:    o.CustomerName,
			PickupName:      o.PickupName,
			PickupAddress:   o.PickupAddress,
			DeliveryAddress: o.DeliveryAddress,
			ItemCount:       qty,
			Priority:        o.Priority,
		},
		CreatedAt: now,
	}
}
