package model

import "time"

// PresenceStatus is the availability a driver can ask for.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// Presence is the stored dispatch-availability record of one driver.
type Presence struct {
	DriverID         string     `json:"driver_id"`
	Online           bool       `json:"online"`
	ForceOffline     bool       `json:"force_offline"`
	LastHeartbeat    *time.Time `json:"last_heartbeat,omitempty"`
	LastStatusChange time.Time  `json:"last_status_change"`
	OfflineReason    string     `json:"offline_reason,omitempty"`
}

// PresenceView is a Presence together with the availability derived at read time.
type PresenceView struct {
	Presence
	Name      string `json:"name,omitempty"`
	Available bool   `json:"available"`
}
