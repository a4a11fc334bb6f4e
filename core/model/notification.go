package model

import "time"

// NotificationType tags the kind of dispatch notification.
type NotificationType string

const NotificationNewOrder NotificationType = "new_order"

// OrderSnapshot is a point-in-time copy of the order fields a driver needs
// to decide whether to accept it.
type OrderSnapshot struct {
	Total           float64  `json:"total"`
	DeliveryFee     float64  `json:"delivery_fee"`
	CustomerName    string   `json:"customer_name"`
	PickupName      string   `json:"pickup_name,omitempty"`
	PickupAddress   string   `json:"pickup_address,omitempty"`
	DeliveryAddress string   `json:"delivery_address"`
	ItemCount       int      `json:"item_count"`
	Priority        Priority `json:"priority"`
}

// Notification is one entry of a driver mailbox.
type Notification struct {
	ID        int64            `json:"id"`
	DriverID  string           `json:"driver_id"`
	Type      NotificationType `json:"type"`
	OrderID   int64            `json:"order_id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Order     OrderSnapshot    `json:"order"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}
