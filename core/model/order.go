package model

import (
	"fmt"
	"time"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPendingAssignment OrderStatus = "pending_assignment"
	StatusAssigned          OrderStatus = "assigned"
	StatusInProgress        OrderStatus = "in_progress"
	StatusDelivered         OrderStatus = "delivered"
	StatusCancelled         OrderStatus = "cancelled"
)

// Statuses lists every order status in lifecycle order.
var Statuses = []OrderStatus{
	StatusPendingAssignment,
	StatusAssigned,
	StatusInProgress,
	StatusDelivered,
	StatusCancelled,
}

func (s OrderStatus) String() string { return string(s) }

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Bound reports whether an order in status s must carry a driver.
func (s OrderStatus) Bound() bool {
	return s == StatusAssigned || s == StatusInProgress || s == StatusDelivered
}

// Priority ranks how urgently an order should be picked up.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// LineItem is one entry of an order basket.
type LineItem struct {
	Name     string  `json:"name" validate:"required"`
	Quantity int     `json:"quantity" validate:"gte=1"`
	Price    float64 `json:"price" validate:"gte=0"`
}

// Totals are computed upstream and carried as-is.
type Totals struct {
	Subtotal    float64 `json:"subtotal"`
	DeliveryFee float64 `json:"delivery_fee"`
	Tax         float64 `json:"tax"`
	Total       float64 `json:"total"`
}

// Order is a delivery job routed to couriers.
type Order struct {
	ID              int64      `json:"id"`
	CustomerID      string     `json:"customer_id"`
	CustomerName    string     `json:"customer_name"`
	CustomerPhone   string     `json:"customer_phone"`
	PickupName      string     `json:"pickup_name,omitempty"`
	PickupAddress   string     `json:"pickup_address,omitempty"`
	DeliveryAddress string     `json:"delivery_address"`
	Notes           string     `json:"notes,omitempty"`
	Items           []LineItem `json:"items"`
	Totals
	Priority Priority    `json:"priority"`
	Status   OrderStatus `json:"status"`

	AssignedDriverID string `json:"assigned_driver_id,omitempty"`
	DriverName       string `json:"driver_name,omitempty"`
	DriverPhone      string `json:"driver_phone,omitempty"`

	CancelReason string `json:"cancel_reason,omitempty"`
	CancelledBy  string `json:"cancelled_by,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// Clone returns a deep copy so stores never hand out shared slices or pointers.
func (o Order) Clone() Order {
	c := o
	if o.Items != nil {
		c.Items = append([]LineItem(nil), o.Items...)
	}
	c.AcceptedAt = cloneTime(o.AcceptedAt)
	c.StartedAt = cloneTime(o.StartedAt)
	c.CompletedAt = cloneTime(o.CompletedAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CheckInvariants verifies that the assignee and timestamps agree with Status.
// Status is the source of truth; the other fields are derived from it.
func (o Order) CheckInvariants() error {
	if !o.Status.Valid() {
		return fmt.Errorf("order %d: unknown status %q", o.ID, o.Status)
	}
	if o.Status.Bound() != (o.AssignedDriverID != "") {
		return fmt.Errorf("order %d: status %s with driver %q", o.ID, o.Status, o.AssignedDriverID)
	}
	if o.Status.Bound() && o.AcceptedAt == nil {
		return fmt.Errorf("order %d: %s without accepted_at", o.ID, o.Status)
	}
	if o.CompletedAt != nil && o.Status != StatusDelivered {
		return fmt.Errorf("order %d: completed_at set while %s", o.ID, o.Status)
	}
	if o.Status == StatusDelivered && (o.StartedAt == nil || o.CompletedAt == nil) {
		return fmt.Errorf("order %d: delivered without start/completion time", o.ID)
	}
	if o.Status == StatusInProgress && o.StartedAt == nil {
		return fmt.Errorf("order %d: in_progress without started_at", o.ID)
	}
	if o.StartedAt != nil && o.AcceptedAt != nil && o.StartedAt.Before(*o.AcceptedAt) {
		return fmt.Errorf("order %d: started before accepted", o.ID)
	}
	if o.CompletedAt != nil && o.StartedAt != nil && o.CompletedAt.Before(*o.StartedAt) {
		return fmt.Errorf("order %d: completed before started", o.ID)
	}
	return nil
}
