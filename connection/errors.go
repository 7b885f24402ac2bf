package connection

import (
	"context"
	"errors"
	"net"
	"net/url"

	errs "github.com/jrsteele09/go-storemap-client/internal/errors"
)

type Kind int

const (
	// KindOffline means the platform reported no network. No request was sent.
	KindOffline Kind = iota + 1
	// KindUnreachable means every attempt failed at the transport level.
	KindUnreachable
)

func (k Kind) String() string {
	switch k {
	case KindOffline:
		return "offline"
	case KindUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Error is a connectivity failure the caller can offer a retry for.
// It matches errors.ErrOffline or errors.ErrServerUnreachable with errors.Is.
type Error struct {
	Kind    Kind
	URL     string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := "connection " + e.Kind.String()
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindOffline:
		return target == errs.ErrOffline
	case KindUnreachable:
		return target == errs.ErrServerUnreachable
	}
	return false
}

// UserMessage implements errors.Displayable.
func (e *Error) UserMessage() string { return e.Message }

// isNetworkError reports transport-level failures. HTTP status errors never count.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var se *errs.StatusError
	if errors.As(err, &se) {
		return false
	}
	if errors.Is(err, errs.ErrConnectionFailed) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
