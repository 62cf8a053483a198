package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is an error with a client-facing message and HTTP status.
// Cause is only ever logged.
type AppError struct {
	Code     string
	Message  string
	HTTPCode int
	Cause    error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInternalError    = "INTERNAL_ERROR"
)

func ValidationError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeValidationFailed,
		Message:  message,
		HTTPCode: http.StatusBadRequest,
		Cause:    cause,
	}
}

func NotFoundError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeNotFound,
		Message:  message,
		HTTPCode: http.StatusNotFound,
		Cause:    cause,
	}
}

func MethodNotAllowedError(method string) *AppError {
	return &AppError{
		Code:     CodeMethodNotAllowed,
		Message:  fmt.Sprintf("Method %s Not Allowed", method),
		HTTPCode: http.StatusMethodNotAllowed,
	}
}

func RateLimitedError(message string) *AppError {
	return &AppError{
		Code:     CodeRateLimited,
		Message:  message,
		HTTPCode: http.StatusTooManyRequests,
	}
}

func InternalError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeInternalError,
		Message:  message,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

// IsType reports whether err is an AppError with the given code.
func IsType(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
