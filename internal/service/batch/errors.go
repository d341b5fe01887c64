package batch

import (
	"errors"
	"fmt"
)

// ErrorCode represents specific error conditions of a batch submission
type ErrorCode string

const (
	ErrCodeNoRecipients         ErrorCode = "NO_RECIPIENTS"
	ErrCodeBatchTooLarge        ErrorCode = "BATCH_TOO_LARGE"
	ErrCodeRendererMissing      ErrorCode = "RENDERER_MISSING"
	ErrCodeBatchCancelled       ErrorCode = "BATCH_CANCELLED"
	ErrCodeConfigurationInvalid ErrorCode = "CONFIGURATION_INVALID"
)

// BatchError represents an error of the batch as a whole, never of a single message
type BatchError struct {
	Code      ErrorCode
	Message   string
	BatchID   string
	Retryable bool
	Err       error
}

// Error implements the error interface
func (e *BatchError) Error() string {
	if e.Err != nil {
		if e.BatchID != "" {
			return fmt.Sprintf("[%s] %s (batch: %s): %v", e.Code, e.Message, e.BatchID, e.Err)
		}
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	if e.BatchID != "" {
		return fmt.Sprintf("[%s] %s (batch: %s)", e.Code, e.Message, e.BatchID)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *BatchError) Unwrap() error {
	return e.Err
}

// NewBatchError creates a new batch error
func NewBatchError(code ErrorCode, message string, retryable bool, err error) *BatchError {
	return &BatchError{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Err:       err,
	}
}

// NewBatchErrorWithID creates a new batch error bound to a batch id
func NewBatchErrorWithID(code ErrorCode, message string, batchID string, retryable bool, err error) *BatchError {
	return &BatchError{
		Code:      code,
		Message:   message,
		BatchID:   batchID,
		Retryable: retryable,
		Err:       err,
	}
}

// IsRetryable reports whether err is a retryable BatchError
func IsRetryable(err error) bool {
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return batchErr.Retryable
	}
	return false
}

// HasCode reports whether err is a BatchError with the given code
func HasCode(err error, code ErrorCode) bool {
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return batchErr.Code == code
	}
	return false
}
