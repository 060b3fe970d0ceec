package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels shared by every service. Repositories wrap these; handlers map
// them onto HTTP responses through Classify.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrAlreadyExists  = errors.New("resource already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInternal       = errors.New("internal error")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrRateLimited    = errors.New("rate limited")
)

type kind struct {
	sentinel error
	code     string
	status   int
}

var (
	kindNotFound    = kind{ErrNotFound, "NOT_FOUND", http.StatusNotFound}
	kindExists      = kind{ErrAlreadyExists, "ALREADY_EXISTS", http.StatusConflict}
	kindConflict    = kind{ErrConflict, "CONFLICT", http.StatusConflict}
	kindInvalid     = kind{ErrInvalidInput, "INVALID_INPUT", http.StatusBadRequest}
	kindRateLimited = kind{ErrRateLimited, "RATE_LIMITED", http.StatusTooManyRequests}
	kindUnavailable = kind{ErrServiceUnavail, "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable}
	kindInternal    = kind{ErrInternal, "INTERNAL_ERROR", http.StatusInternalServerError}

	// First match wins.
	kinds = []kind{kindNotFound, kindExists, kindConflict, kindInvalid, kindRateLimited, kindUnavailable}
)

// AppError carries a client-facing code and message plus the HTTP status.
// Err is the wrapped cause and is never shown to clients.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func newAppError(k kind, message string) *AppError {
	return &AppError{Code: k.code, Message: message, Status: k.status, Err: k.sentinel}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound reports a missing order, stock item, payment or saga instance.
func NotFound(resource, id string) *AppError {
	return newAppError(kindNotFound, fmt.Sprintf("%s with id %s not found", resource, id))
}

func AlreadyExists(resource, field, value string) *AppError {
	return newAppError(kindExists, fmt.Sprintf("%s with %s %q already exists", resource, field, value))
}

func InvalidInput(message string) *AppError {
	return newAppError(kindInvalid, message)
}

// Conflict reports a request that clashes with current state, such as
// deleting stock that still holds reservations.
func Conflict(message string) *AppError {
	return newAppError(kindConflict, message)
}

func ServiceUnavailable(message string) *AppError {
	return newAppError(kindUnavailable, message)
}

func RateLimited() *AppError {
	return newAppError(kindRateLimited, "too many requests")
}

// Internal hides cause behind a generic message.
func Internal(cause error) *AppError {
	e := newAppError(kindInternal, "an internal error occurred")
	e.Err = errors.Join(ErrInternal, cause)
	return e
}

// Classify returns the HTTP status and error code for err. An AppError
// anywhere in the chain wins over sentinels; anything unrecognised is a 500.
func Classify(err error) (status int, code string) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status, appErr.Code
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.status, k.code
		}
	}
	return kindInternal.status, kindInternal.code
}

// HTTPStatus returns the status half of Classify.
func HTTPStatus(err error) int {
	status, _ := Classify(err)
	return status
}
