// Package policy centralizes the dispatch tunables that bound presence
// freshness and mailbox growth.
package policy

import (
	"fmt"
	"time"
)

const (
	DefaultHeartbeatTimeout      = 2 * time.Minute
	DefaultMailboxCapacity       = 50
	DefaultNotificationRetention = 7 * 24 * time.Hour
	DefaultSweepInterval         = time.Hour
)

// Policy groups the dispatch limits shared by the presence manager, the
// mailbox and the retention sweeper.
type Policy struct {
	// HeartbeatTimeout is how long a heartbeat keeps a driver available.
	HeartbeatTimeout time.Duration
	// MailboxCapacity is the maximum number of notifications kept per driver.
	MailboxCapacity int
	// NotificationRetention is the age after which notifications are purged.
	NotificationRetention time.Duration
	// SweepInterval is the period of the retention sweeper.
	SweepInterval time.Duration
	// ExpireStalePresence makes the sweeper flip timed-out drivers offline.
	ExpireStalePresence bool
}

// Default returns the production limits.
func Default() Policy {
	return Policy{
		HeartbeatTimeout:      DefaultHeartbeatTimeout,
		MailboxCapacity:       DefaultMailboxCapacity,
		NotificationRetention: DefaultNotificationRetention,
		SweepInterval:         DefaultSweepInterval,
		ExpireStalePresence:   true,
	}
}

// WithDefaults fills zero fields from Default.
func (p Policy) WithDefaults() Policy {
	d := Default()
	if p.HeartbeatTimeout <= 0 {
		p.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if p.MailboxCapacity <= 0 {
		p.MailboxCapacity = d.MailboxCapacity
	}
	if p.NotificationRetention <= 0 {
		p.NotificationRetention = d.NotificationRetention
	}
	if p.SweepInterval <= 0 {
		p.SweepInterval = d.SweepInterval
	}
	return p
}

// Validate rejects negative limits.
func (p Policy) Validate() error {
	if p.HeartbeatTimeout < 0 {
		return fmt.Errorf("heartbeat timeout must be positive")
	}
	if p.MailboxCapacity < 0 {
		return fmt.Errorf("mailbox capacity must be positive")
	}
	if p.NotificationRetention < 0 {
		return fmt.Errorf("notification retention must be positive")
	}
	if p.SweepInterval < 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	return nil
}
