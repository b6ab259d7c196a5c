package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Stack      string `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Stack:      string(debug.Stack()),
	}
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(code string, message string) *AppError {
	return NewError(http.StatusBadRequest, code, message)
}

// NewUnauthorizedError creates a 401 Unauthorized error
func NewUnauthorizedError(code string, message string) *AppError {
	return NewError(http.StatusUnauthorized, code, message)
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(code string, message string) *AppError {
	return NewError(http.StatusNotFound, code, message)
}

// NewInternalServerError creates a 500 Internal Server Error
func NewInternalServerError(code string, message string) *AppError {
	return NewError(http.StatusInternalServerError, code, message)
}

// Is checks if the target error is of type AppError
func Is(err error, target *AppError) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Code == target.Code
}

// Chat synchronization error constructors. These are client-side conditions,
// so the HTTP status is only meaningful when one leaks out through the REST
// collaborator or the mock server.

// NewNotConnectedError indicates a send was attempted while the socket was
// not in the open state.
func NewNotConnectedError(state string) *AppError {
	return NewError(http.StatusServiceUnavailable, "WS_NOT_CONNECTED",
		fmt.Sprintf("socket is %s, message not sent", state))
}

// NewEmptyMessageError indicates a send was refused before any network call.
func NewEmptyMessageError() *AppError {
	return NewBadRequestError("EMPTY_MESSAGE", "message text must not be empty")
}

// NewNoActiveChatError indicates an operation that requires an open chat.
func NewNoActiveChatError() *AppError {
	return NewBadRequestError("NO_ACTIVE_CHAT", "no chat is currently open")
}

// NewInvalidPayloadError indicates a request body or frame payload that does
// not parse into the expected shape.
func NewInvalidPayloadError(detail string) *AppError {
	return NewBadRequestError("PAYLOAD_INVALID", detail)
}

// NewUnknownMessageError indicates an update or delete referencing an id the
// store has never seen.
func NewUnknownMessageError(id string) *AppError {
	return NewNotFoundError("MESSAGE_UNKNOWN", fmt.Sprintf("no message with id %q", id))
}
