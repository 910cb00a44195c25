package errors

import (
	"net/http"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Request errors (400xx)
	ErrInvalidRequest   ErrorCode = "40001"
	ErrValidationFailed ErrorCode = "40002"

	// Payment errors (402xx)
	ErrPaymentRequired ErrorCode = "40201"
	ErrPaymentRejected ErrorCode = "40202"

	// Authorization errors (403xx)
	ErrUsageProofRequired ErrorCode = "40301"

	// Resource errors (404xx)
	ErrProjectNotFound ErrorCode = "40401"
	ErrReviewNotFound  ErrorCode = "40402"

	// Server errors (500xx)
	ErrInternalServer ErrorCode = "50001"
)

// APIError represents a standardized API error
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Reason     string    `json:"reason,omitempty"`
	Details    any       `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// ErrorResponse represents the error response format
type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id"`
}

// Common errors
var (
	ErrProjectNotFoundError = &APIError{
		Code:       ErrProjectNotFound,
		Message:    "Project not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrReviewNotFoundError = &APIError{
		Code:       ErrReviewNotFound,
		Message:    "Review not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrInternalServerError = &APIError{
		Code:       ErrInternalServer,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}
)

// NewValidationError creates a validation error with details
func NewValidationError(details any) *APIError {
	return &APIError{
		Code:       ErrValidationFailed,
		Message:    "Validation failed",
		Details:    details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:       ErrInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewPaymentRejectedError creates a 402 error carrying the machine-readable
// rejection reason, so an automated client can tell "retry with a fresh
// challenge" from "your proof is malformed".
func NewPaymentRejectedError(reason string) *APIError {
	return &APIError{
		Code:       ErrPaymentRejected,
		Message:    "Payment rejected",
		Reason:     reason,
		HTTPStatus: http.StatusPaymentRequired,
	}
}

// NewUsageProofRequiredError creates a 403 error for review submissions that
// require an on-chain usage proof the probe could not find.
func NewUsageProofRequiredError(details any) *APIError {
	return &APIError{
		Code:       ErrUsageProofRequired,
		Message:    "Usage proof required",
		Details:    details,
		HTTPStatus: http.StatusForbidden,
	}
}
