package presence

import (
	"time"

	"github.com/kilianp07/courierd/core/model"
)

// Available is the only definition of dispatch availability: the driver
// reports online, is not forced offline, and has a heartbeat no older than
// timeout at now.
func Available(p model.Presence, now time.Time, timeout time.Duration) bool {
	if !p.Online || p.ForceOffline || p.LastHeartbeat == nil {
		return false
	}
	return now.Sub(*p.LastHeartbeat) <= timeout
}
