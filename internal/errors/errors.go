package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types for the storemap client
var (
	// Storage errors
	ErrNotFound      = errors.New("not found")
	ErrStorageClosed = errors.New("storage closed")

	// Token errors
	ErrInvalidToken      = errors.New("invalid token")
	ErrNoRefreshToken    = errors.New("no refresh token")
	ErrRefreshFailed     = errors.New("token refresh failed")
	ErrInvalidProfile    = errors.New("invalid user profile")
	ErrInvalidCredential = errors.New("invalid federated credential")

	// Request errors
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrSessionExpired         = errors.New("session expired")
	ErrUnrecognizedResponse   = errors.New("unrecognized server response")

	// Connectivity errors
	ErrOffline           = errors.New("offline")
	ErrServerUnreachable = errors.New("server unreachable")
	ErrConnectionFailed  = errors.New("connection failed")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// UserError carries a localized message that can be shown to an end user as-is.
// The underlying cause stays reachable through errors.Is / errors.As.
type UserError struct {
	Message string
	Err     error
}

// NewUserError returns a UserError with the given display message and cause.
func NewUserError(message string, cause error) *UserError {
	return &UserError{Message: message, Err: cause}
}

func (e *UserError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *UserError) Unwrap() error { return e.Err }

// UserMessage implements Displayable.
func (e *UserError) UserMessage() string { return e.Message }

// Displayable is implemented by errors that carry a message fit for end users.
type Displayable interface {
	error
	UserMessage() string
}

// UserMessage returns the first display message found in err's chain, or fallback.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var d Displayable
	if errors.As(err, &d) {
		return d.UserMessage()
	}
	return fallback
}

// StatusError reports an HTTP response whose status the caller could not accept.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// StatusCode returns the HTTP status carried by err, or 0 when there is none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
