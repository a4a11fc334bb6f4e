package events

import (
	"time"

	"github.com/kilianp07/courierd/core/model"
)

// PresenceEvent is published when a driver presence record is written.
// Source is "status", "heartbeat", "force_offline", "allow_online" or "expire".
type PresenceEvent struct {
	Presence  model.Presence
	Available bool
	Source    string
	Time      time.Time
}
