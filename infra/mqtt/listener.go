package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/courierd/core/model"
	"github.com/kilianp07/courierd/infra/logger"
)

type subscriber interface {
	Subscribe(topic, kind string, handler paho.MessageHandler) error
}

// PresenceUpdater is the part of the presence manager fed by devices.
type PresenceUpdater interface {
	Heartbeat(ctx context.Context, driverID string) (model.PresenceView, error)
	SetStatus(ctx context.Context, driverID string, status model.PresenceStatus) (model.PresenceView, error)
}

// HeartbeatListener ingests {prefix}/{driver}/heartbeat and
// {prefix}/{driver}/status messages published by driver devices.
type HeartbeatListener struct {
	sub      subscriber
	presence PresenceUpdater
	prefix   string
	logger   logger.Logger
	timeout  time.Duration
}

// NewHeartbeatListener wires device messages into presence.
func NewHeartbeatListener(sub subscriber, presence PresenceUpdater, cfg Config, log logger.Logger) (*HeartbeatListener, error) {
	if sub == nil || presence == nil {
		return nil, fmt.Errorf("subscriber and presence are required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	return &HeartbeatListener{sub: sub, presence: presence, prefix: cfg.prefix(), logger: log, timeout: 5 * time.Second}, nil
}

// Start subscribes to the device topics.
func (l *HeartbeatListener) Start() error {
	if err := l.sub.Subscribe(l.prefix+"/+/heartbeat", "heartbeat", l.onMessage); err != nil {
		return err
	}
	return l.sub.Subscribe(l.prefix+"/+/status", "status", l.onMessage)
}

type statusMessage struct {
	Status model.PresenceStatus `json:"status"`
}

func (l *HeartbeatListener) onMessage(_ paho.Client, msg paho.Message) {
	driverID, kind, ok := l.parseTopic(msg.Topic())
	if !ok {
		l.logger.Warnf("ignoring message on %s", msg.Topic())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	var err error
	switch kind {
	case "heartbeat":
		_, err = l.presence.Heartbeat(ctx, driverID)
	case "status":
		var m statusMessage
		if err = json.Unmarshal(msg.Payload(), &m); err != nil {
			l.logger.Errorf("failed to decode status from %s: %v", driverID, err)
			return
		}
		_, err = l.presence.SetStatus(ctx, driverID, m.Status)
	}
	switch {
	case err == nil:
		l.logger.Debugw("device presence", map[string]any{"driver_id": driverID, "kind": kind})
	case errors.Is(err, model.ErrForcedOffline):
		l.logger.Warnf("driver %s is forced offline, %s ignored", driverID, kind)
	default:
		l.logger.Errorf("%s from %s: %v", kind, driverID, err)
	}
}

func (l *HeartbeatListener) parseTopic(topic string) (driverID, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, l.prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	if parts[1] != "heartbeat" && parts[1] != "status" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
