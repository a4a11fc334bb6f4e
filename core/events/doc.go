// Package events defines the dispatch events emitted on the typed event buses.
//
// Available event types:
//   - OrderEvent: an order was created or changed status
//   - NotificationEvent: a notification landed in a driver mailbox
//   - PresenceEvent: a driver presence record changed
package events
