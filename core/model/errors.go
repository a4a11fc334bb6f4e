package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrPermission        = errors.New("permission denied")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyAssigned   = errors.New("order already assigned to another driver")
	ErrForcedOffline     = errors.New("driver is forced offline")
	ErrValidation        = errors.New("validation failed")
	ErrInternal          = errors.New("internal error")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every violation found in an input, not just the first.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

// Add records a violation.
func (e *ValidationError) Add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// OrNil returns e when it holds violations.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TransitionError reports a status change absent from the transition table.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
	// Allowed lists the statuses reachable from From.
	Allowed []OrderStatus
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
	if len(e.Allowed) == 0 {
		return msg
	}
	next := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		next[i] = string(s)
	}
	return msg + " (allowed: " + strings.Join(next, ", ") + ")"
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// Internal wraps an unexpected failure so callers can tell it apart from
// the expected error kinds while keeping the cause for logs.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
}
