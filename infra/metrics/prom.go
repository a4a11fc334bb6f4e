package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/courierd/core/metrics"
)

// PromSink records dispatch activity in Prometheus metrics.
type PromSink struct {
	created     *prometheus.CounterVec
	transitions *prometheus.CounterVec
	conflicts   prometheus.Counter
	notified    prometheus.Counter
	failed      prometheus.Counter
	fanOut      prometheus.Histogram
	evictions   prometheus.Counter
	purged      *prometheus.CounterVec
	presence    *prometheus.CounterVec
	available   prometheus.Gauge
}

// NewPromSink registers dispatch metrics on the default Prometheus registerer.
// The /metrics endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// register adds c to reg, reusing an identical collector registered earlier.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.created, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "courierd_orders_created_total",
		Help: "Orders created, by creator role",
	}, []string{"actor_role"})); err != nil {
		return nil, err
	}
	if s.transitions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "courierd_order_transitions_total",
		Help: "Committed order status changes",
	}, []string{"from", "to", "actor_role"})); err != nil {
		return nil, err
	}
	if s.conflicts, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "courierd_claim_conflicts_total",
		Help: "Concurrent writes that lost the race for an order",
	})); err != nil {
		return nil, err
	}
	if s.notified, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "courierd_notifications_sent_total",
		Help: "New-order notifications written to driver mailboxes",
	})); err != nil {
		return nil, err
	}
	if s.failed, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "courierd_notifications_failed_total",
		Help: "New-order notifications that could not be written",
	})); err != nil {
		return nil, err
	}
	if s.fanOut, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "courierd_fanout_duration_seconds",
		Help:    "Time to notify every available driver of a new order",
		Buckets: prometheus.DefBuckets,
	})); err != nil {
		return nil, err
	}
	if s.evictions, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "courierd_mailbox_evictions_total",
		Help: "Notifications dropped because a mailbox was full",
	})); err != nil {
		return nil, err
	}
	if s.purged, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "courierd_retention_purged_total",
		Help: "Records removed by the retention sweeper",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if s.presence, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "courierd_presence_changes_total",
		Help: "Driver presence writes",
	}, []string{"status", "forced"})); err != nil {
		return nil, err
	}
	if s.available, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "courierd_available_drivers",
		Help: "Drivers currently eligible for new-order notifications",
	})); err != nil {
		return nil, err
	}
	return s, nil
}

// RecordTransition counts creations and status changes.
func (s *PromSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	if ev.From == "" {
		s.created.WithLabelValues(string(ev.ActorRole)).Inc()
		return nil
	}
	s.transitions.WithLabelValues(string(ev.From), string(ev.To), string(ev.ActorRole)).Inc()
	return nil
}

func (s *PromSink) RecordClaimConflict(coremetrics.ClaimConflictEvent) error {
	s.conflicts.Inc()
	return nil
}

func (s *PromSink) RecordFanOut(ev coremetrics.FanOutEvent) error {
	s.notified.Add(float64(ev.Notified))
	s.failed.Add(float64(ev.Failed))
	s.fanOut.Observe(ev.Duration.Seconds())
	return nil
}

func (s *PromSink) RecordMailboxEviction(_ string, evicted int) error {
	s.evictions.Add(float64(evicted))
	return nil
}

func (s *PromSink) RecordPurge(ev coremetrics.PurgeEvent) error {
	s.purged.WithLabelValues("notification").Add(float64(ev.Notifications))
	s.purged.WithLabelValues("stale_presence").Add(float64(ev.StalePresence))
	return nil
}

func (s *PromSink) RecordPresence(ev coremetrics.PresenceEvent) error {
	s.presence.WithLabelValues(string(ev.Status), strconv.FormatBool(ev.Forced)).Inc()
	return nil
}

// RecordAvailableDrivers sets the gauge to the size of the available pool.
func (s *PromSink) RecordAvailableDrivers(n int) error {
	s.available.Set(float64(n))
	return nil
}
