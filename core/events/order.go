package events

import (
	"time"

	"github.com/kilianp07/courierd/core/model"
)

// OrderEvent is published after an order write commits. From is empty for
// newly created orders.
type OrderEvent struct {
	Order model.Order
	From  model.OrderStatus
	Actor model.Actor
	Time  time.Time
}

// Created reports whether the event announces a new order.
func (e OrderEvent) Created() bool { return e.From == "" }
