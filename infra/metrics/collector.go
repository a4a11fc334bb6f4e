package metrics

import (
	"context"
	"time"

	coremon "github.com/kilianp07/courierd/core/monitoring"
	"github.com/kilianp07/courierd/infra/logger"
)

// AvailabilitySource recomputes the available pool; the presence manager
// records the gauge as a side effect.
type AvailabilitySource interface {
	ListAvailable(ctx context.Context) ([]string, error)
}

// StartAvailabilitySampler refreshes the available drivers gauge every
// interval. Drivers age out of the pool without any write, so the gauge would
// otherwise only move on presence changes. It stops when ctx is canceled.
func StartAvailabilitySampler(ctx context.Context, src AvailabilitySource, interval time.Duration, log logger.Logger) {
	if src == nil || interval <= 0 {
		return
	}
	go func() {
		defer coremon.Recover()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := src.ListAvailable(ctx); err != nil && ctx.Err() == nil {
					log.Warnf("sample available drivers: %v", err)
				}
			}
		}
	}()
}
