package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/courierd/core/policy"
)

// DispatchConfig exposes the presence and mailbox limits.
type DispatchConfig struct {
	HeartbeatTimeoutSeconds int `json:"heartbeat_timeout_seconds"`
	MailboxCapacity         int `json:"mailbox_capacity"`
	RetentionHours          int `json:"retention_hours"`
	SweepIntervalSeconds    int `json:"sweep_interval_seconds"`
	// ExpireStalePresence defaults to true when unset.
	ExpireStalePresence *bool `json:"expire_stale_presence"`
	// FanOutTimeoutSeconds bounds the background notification of a new order.
	FanOutTimeoutSeconds int `json:"fan_out_timeout_seconds"`
}

func (c *DispatchConfig) SetDefaults() {
	d := policy.Default()
	if c.HeartbeatTimeoutSeconds == 0 {
		c.HeartbeatTimeoutSeconds = int(d.HeartbeatTimeout / time.Second)
	}
	if c.MailboxCapacity == 0 {
		c.MailboxCapacity = d.MailboxCapacity
	}
	if c.RetentionHours == 0 {
		c.RetentionHours = int(d.NotificationRetention / time.Hour)
	}
	if c.SweepIntervalSeconds == 0 {
		c.SweepIntervalSeconds = int(d.SweepInterval / time.Second)
	}
	if c.ExpireStalePresence == nil {
		v := d.ExpireStalePresence
		c.ExpireStalePresence = &v
	}
	if c.FanOutTimeoutSeconds == 0 {
		c.FanOutTimeoutSeconds = 30
	}
}

func (c DispatchConfig) Validate() error {
	if c.FanOutTimeoutSeconds < 0 {
		return fmt.Errorf("fan_out_timeout_seconds must be positive")
	}
	return c.Policy().Validate()
}

// Policy converts the section into the limits used by the core packages.
func (c DispatchConfig) Policy() policy.Policy {
	p := policy.Policy{
		HeartbeatTimeout:      time.Duration(c.HeartbeatTimeoutSeconds) * time.Second,
		MailboxCapacity:       c.MailboxCapacity,
		NotificationRetention: time.Duration(c.RetentionHours) * time.Hour,
		SweepInterval:         time.Duration(c.SweepIntervalSeconds) * time.Second,
		ExpireStalePresence:   c.ExpireStalePresence == nil || *c.ExpireStalePresence,
	}
	return p
}

func (c DispatchConfig) FanOutTimeout() time.Duration {
	return time.Duration(c.FanOutTimeoutSeconds) * time.Second
}
