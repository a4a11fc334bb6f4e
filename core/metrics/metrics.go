package metrics

import (
	"time"

	"github.com/kilianp07/courierd/core/model"
)

// TransitionEvent is emitted for every committed order status change,
// including creation (From is empty).
type TransitionEvent struct {
	OrderID   int64
	From      model.OrderStatus
	To        model.OrderStatus
	ActorRole model.Role
	Time      time.Time
}

// MetricsSink records dispatch activity for observability purposes.
type MetricsSink interface {
	RecordTransition(ev TransitionEvent) error
}

// ClaimConflictEvent records a claim that lost the race for an order.
type ClaimConflictEvent struct {
	OrderID  int64
	DriverID string
	Time     time.Time
}

// ClaimConflictRecorder records lost claims.
type ClaimConflictRecorder interface {
	RecordClaimConflict(ev ClaimConflictEvent) error
}

// FanOutEvent summarizes one new-order notification round.
type FanOutEvent struct {
	OrderID  int64
	Notified int
	Failed   int
	Duration time.Duration
	Time     time.Time
}

// FanOutRecorder records notification fan-out rounds.
type FanOutRecorder interface {
	RecordFanOut(ev FanOutEvent) error
}

// MailboxEvictionRecorder records notifications dropped by the mailbox cap.
type MailboxEvictionRecorder interface {
	RecordMailboxEviction(driverID string, evicted int) error
}

// PurgeEvent summarizes one retention sweep.
type PurgeEvent struct {
	Notifications int
	StalePresence int
	Duration      time.Duration
	Time          time.Time
}

// PurgeRecorder records retention sweeps.
type PurgeRecorder interface {
	RecordPurge(ev PurgeEvent) error
}

// PresenceEvent captures a driver presence change.
type PresenceEvent struct {
	DriverID string
	Status   model.PresenceStatus
	Forced   bool
	Time     time.Time
}

// PresenceRecorder records presence changes.
type PresenceRecorder interface {
	RecordPresence(ev PresenceEvent) error
}

// AvailableDriversRecorder records the size of the available pool.
type AvailableDriversRecorder interface {
	RecordAvailableDrivers(n int) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordTransition(TransitionEvent) error       { return nil }
func (NopSink) RecordClaimConflict(ClaimConflictEvent) error { return nil }
func (NopSink) RecordFanOut(FanOutEvent) error               { return nil }
func (NopSink) RecordMailboxEviction(string, int) error      { return nil }
func (NopSink) RecordPurge(PurgeEvent) error                 { return nil }
func (NopSink) RecordPresence(PresenceEvent) error           { return nil }
func (NopSink) RecordAvailableDrivers(int) error             { return nil }
