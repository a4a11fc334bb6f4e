package order

import "github.com/kilianp07/courierd/core/model"

var transitions = map[model.OrderStatus][]model.OrderStatus{
	model.StatusPendingAssignment: {model.StatusAssigned, model.StatusCancelled},
	model.StatusAssigned:          {model.StatusInProgress, model.StatusCancelled},
	model.StatusInProgress:        {model.StatusDelivered, model.StatusCancelled},
	model.StatusDelivered:         nil,
	model.StatusCancelled:         nil,
}

// Allowed returns the statuses reachable from from in one step.
func Allowed(from model.OrderStatus) []model.OrderStatus {
	return append([]model.OrderStatus(nil), transitions[from]...)
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to model.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
