package common

import (
	"errors"
	"net/http"
)

// Error codes shared by every service.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeOfferIneligible   = "OFFER_INELIGIBLE"
	CodeValidation        = "VALIDATION_ERROR"
	CodeConflict          = "CONFLICT"
	CodeForbidden         = "FORBIDDEN"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeInternal          = "INTERNAL"
	CodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// NotFound reports a missing product, offer, order or other resource.
func NotFound(message string, err error) *AppError {
	return NewAppError(CodeNotFound, message, http.StatusNotFound, err)
}

// InvalidInput reports a malformed request such as a non-positive quantity or unknown pack size.
func InvalidInput(message string, err error) *AppError {
	return NewAppError(CodeInvalidInput, message, http.StatusBadRequest, err)
}

// InsufficientStock reports that one or more products cannot cover the requested units.
func InsufficientStock(message string, details any, err error) *AppError {
	appErr := NewAppError(CodeInsufficientStock, message, http.StatusConflict, err)
	appErr.Details = details
	return appErr
}

// OfferIneligible reports an offer that exists but cannot be applied; reason is surfaced in details.
func OfferIneligible(reason string, err error) *AppError {
	appErr := NewAppError(CodeOfferIneligible, reason, http.StatusUnprocessableEntity, err)
	appErr.Details = map[string]string{"reason": reason}
	return appErr
}

// ValidationFailed reports malformed configuration or payload fields.
func ValidationFailed(message string, details any, err error) *AppError {
	appErr := NewAppError(CodeValidation, message, http.StatusUnprocessableEntity, err)
	appErr.Details = details
	return appErr
}

// Conflict reports a uniqueness or state conflict.
func Conflict(message string, err error) *AppError {
	return NewAppError(CodeConflict, message, http.StatusConflict, err)
}

// WriteError renders err using its AppError shape, falling back to a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		code := appErr.Code
		if code == "" {
			code = CodeInternal
		}
		message := appErr.Message
		if message == "" {
			message = "internal error"
		}
		JSONError(w, status, code, message, appErr.Details)
		return
	}
	JSONError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
}
