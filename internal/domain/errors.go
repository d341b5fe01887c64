package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPolicy is returned when a provider policy has unusable values
	ErrInvalidPolicy = errors.New("invalid provider policy")

	// ErrMissingDefaultPolicy is returned when no policy is available for unknown providers
	ErrMissingDefaultPolicy = errors.New("no default provider policy configured")

	// ErrQueueClosed is returned when enqueueing into a cancelled queue
	ErrQueueClosed = errors.New("delivery queue is closed")
)

// DeliveryErrorKind classifies why a message was not delivered
type DeliveryErrorKind string

const (
	DeliveryErrorTransient DeliveryErrorKind = "transient"
	DeliveryErrorTimeout   DeliveryErrorKind = "timeout"
	DeliveryErrorPermanent DeliveryErrorKind = "permanent"
	DeliveryErrorRender    DeliveryErrorKind = "render"
	DeliveryErrorCancelled DeliveryErrorKind = "cancelled"
)

// DeliveryError describes a failed attempt or a terminal failure of one message
type DeliveryError struct {
	Kind     DeliveryErrorKind
	Category string
	Attempts int
	Err      error
}

// Error implements the error interface
func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s delivery failure after %d attempt(s)", e.Kind, e.Attempts)
	}
	return fmt.Sprintf("%s delivery failure after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

// Unwrap returns the underlying error
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewDeliveryError creates a new delivery error
func NewDeliveryError(kind DeliveryErrorKind, category string, attempts int, err error) *DeliveryError {
	return &DeliveryError{
		Kind:     kind,
		Category: category,
		Attempts: attempts,
		Err:      err,
	}
}

// IsDeliveryErrorKind reports whether err wraps a DeliveryError of the given kind
func IsDeliveryErrorKind(err error, kind DeliveryErrorKind) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}
