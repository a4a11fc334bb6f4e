package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/courierd/core/logger"
	"github.com/kilianp07/courierd/core/metrics"
	"github.com/kilianp07/courierd/core/monitoring"
	"github.com/kilianp07/courierd/core/policy"
)

// StaleExpirer flips drivers with timed-out heartbeats offline.
type StaleExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// PurgeResult reports what one sweep removed.
type PurgeResult struct {
	Notifications int       `json:"notifications"`
	StalePresence int       `json:"stale_presence"`
	Cutoff        time.Time `json:"cutoff"`
}

// Sweeper evicts notifications older than the retention window and,
// optionally, expires stale presence.
type Sweeper struct {
	mailbox  Mailbox
	presence StaleExpirer
	policy   policy.Policy
	logger   logger.Logger
	metrics  metrics.MetricsSink
	now      func() time.Time
}

// NewSweeper creates a sweeper. presence may be nil.
func NewSweeper(mailbox Mailbox, presence StaleExpirer, pol policy.Policy, log logger.Logger, sink metrics.MetricsSink) (*Sweeper, error) {
	if mailbox == nil || log == nil {
		return nil, fmt.Errorf("notify: nil parameter provided to NewSweeper")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Sweeper{mailbox: mailbox, presence: presence, policy: pol.WithDefaults(), logger: log, metrics: sink, now: time.Now}, nil
}

// SetClock replaces the time source.
func (s *Sweeper) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// PurgeExpired runs one sweep. Read status does not matter.
func (s *Sweeper) PurgeExpired(ctx context.Context) (PurgeResult, error) {
	start := s.now()
	res := PurgeResult{Cutoff: start.Add(-s.policy.NotificationRetention)}
	n, err := s.mailbox.PurgeOlderThan(ctx, res.Cutoff)
	if err != nil {
		return res, fmt.Errorf("purge notifications: %w", err)
	}
	res.Notifications = n
	if s.presence != nil && s.policy.ExpireStalePresence {
		n, err := s.presence.ExpireStale(ctx)
		if err != nil {
			return res, fmt.Errorf("expire presence: %w", err)
		}
		res.StalePresence = n
	}
	ev := metrics.PurgeEvent{Notifications: res.Notifications, StalePresence: res.StalePresence, Duration: s.now().Sub(start), Time: start}
	if err := metrics.Purge(s.metrics, ev); err != nil {
		s.logger.Errorf("purge metrics error: %v", err)
	}
	s.logger.Infof("purged %d notifications older than %s, expired %d drivers", res.Notifications, res.Cutoff.Format(time.RFC3339), res.StalePresence)
	return res, nil
}

// Run sweeps every SweepInterval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.policy.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	var err error
	defer func() {
		if err != nil {
			s.logger.Errorf("retention sweep: %v", err)
			monitoring.CaptureException(err, map[string]string{"op": "sweep"})
		}
	}()
	defer monitoring.RecoverAsError(&err)
	_, err = s.PurgeExpired(ctx)
}
