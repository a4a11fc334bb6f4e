package events

import "github.com/kilianp07/courierd/core/model"

// NotificationEvent is published for each notification appended to a mailbox.
type NotificationEvent struct {
	Notification model.Notification
}
