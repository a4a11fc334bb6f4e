package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/courierd/core/events"
	"github.com/kilianp07/courierd/core/model"
	coremon "github.com/kilianp07/courierd/core/monitoring"
	"github.com/kilianp07/courierd/infra/logger"
)

type publisher interface {
	Publish(topic, kind string, payload []byte) error
}

// NotificationMessage is the payload pushed to a driver device.
type NotificationMessage struct {
	MessageID    string             `json:"message_id"`
	Notification model.Notification `json:"notification"`
}

// Pusher forwards mailbox notifications to {prefix}/{driver}/notifications.
type Pusher struct {
	pub    publisher
	prefix string
	logger logger.Logger
}

// NewPusher returns a Pusher publishing through pub.
func NewPusher(pub publisher, cfg Config, log logger.Logger) (*Pusher, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is nil")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	return &Pusher{pub: pub, prefix: cfg.prefix(), logger: log}, nil
}

// NotificationTopic returns the topic a driver subscribes to.
func (p *Pusher) NotificationTopic(driverID string) string {
	return fmt.Sprintf("%s/%s/notifications", p.prefix, driverID)
}

// Push publishes one notification. The mailbox already holds it, so a failed
// push only delays delivery until the driver polls.
func (p *Pusher) Push(n model.Notification) error {
	payload, err := json.Marshal(NotificationMessage{MessageID: uuid.NewString(), Notification: n})
	if err != nil {
		return err
	}
	return p.pub.Publish(p.NotificationTopic(n.DriverID), "notification", payload)
}

// Run pushes every event received on sub until ctx is done or sub closes.
func (p *Pusher) Run(ctx context.Context, sub <-chan events.NotificationEvent) {
	defer coremon.Recover()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := p.Push(ev.Notification); err != nil {
				p.logger.Warnf("push notification %d to %s: %v", ev.Notification.ID, ev.Notification.DriverID, err)
			}
		}
	}
}

// PresenceMessage tells a driver device what dispatch believes about it, so
// a forced-offline device can stop reporting online.
type PresenceMessage struct {
	DriverID     string    `json:"driver_id"`
	Online       bool      `json:"online"`
	Available    bool      `json:"available"`
	ForceOffline bool      `json:"force_offline"`
	Reason       string    `json:"reason,omitempty"`
	Source       string    `json:"source"`
	Time         time.Time `json:"time"`
}

// PresenceTopic returns the topic carrying presence updates of driverID.
func (p *Pusher) PresenceTopic(driverID string) string {
	return fmt.Sprintf("%s/%s/presence", p.prefix, driverID)
}

// RunPresence publishes presence changes until ctx is done or sub closes.
// Heartbeats are skipped since the device originated them.
func (p *Pusher) RunPresence(ctx context.Context, sub <-chan events.PresenceEvent) {
	defer coremon.Recover()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Source == "heartbeat" {
				continue
			}
			payload, err := json.Marshal(PresenceMessage{
				DriverID:     ev.Presence.DriverID,
				Online:       ev.Presence.Online,
				Available:    ev.Available,
				ForceOffline: ev.Presence.ForceOffline,
				Reason:       ev.Presence.OfflineReason,
				Source:       ev.Source,
				Time:         ev.Time,
			})
			if err != nil {
				p.logger.Errorf("encode presence of %s: %v", ev.Presence.DriverID, err)
				continue
			}
			if err := p.pub.Publish(p.PresenceTopic(ev.Presence.DriverID), "presence", payload); err != nil {
				p.logger.Warnf("push presence to %s: %v", ev.Presence.DriverID, err)
			}
		}
	}
}
