// Package api is the single path from the client to the backend's business
// endpoints. Every call carries a fresh bearer token and survives one token
// expiry race by refreshing and reissuing once.
package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-storemap-client/connection"
	errs "github.com/jrsteele09/go-storemap-client/internal/errors"
	"github.com/jrsteele09/go-storemap-client/internal/messages"
	"github.com/jrsteele09/go-storemap-client/internal/telemetry"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const HeaderRequestID = "X-Request-ID"

// Session is the part of the auth manager the dispatcher depends on.
type Session interface {
	EnsureValidToken(ctx context.Context) bool
	RefreshToken(ctx context.Context) bool
	CurrentToken() (*oauth2.Token, bool)
	HasRefreshToken() bool
}

// Transport executes a request against the working backend URL.
type Transport interface {
	MakeRequest(ctx context.Context, req *connection.Request) (*http.Response, error)
}

// Options describe one logical call.
type Options struct {
	Method string
	// Header entries replace the defaults and the Authorization header.
	Header http.Header
	Body   []byte
	// SkipAuth sends the call even when no valid session exists.
	SkipAuth bool
}

// Dispatcher sends authenticated backend requests. A 401 answer triggers one
// token refresh and one resend of the same request.
type Dispatcher struct {
	session   Session
	transport Transport
	printer   *messages.Printer
	metrics   *telemetry.Recorder
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithPrinter(p *messages.Printer) Option {
	return func(d *Dispatcher) {
		d.printer = p
	}
}

func WithMetrics(r *telemetry.Recorder) Option {
	return func(d *Dispatcher) {
		d.metrics = r
	}
}

// NewDispatcher returns a Dispatcher that takes tokens from session and sends
// requests through transport.
func NewDispatcher(session Session, transport Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		session:   session,
		transport: transport,
		printer:   messages.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Do sends the call and returns the backend's response, whatever its status.
// A 401 is retried once after a successful refresh; when the refresh fails the
// error matches errors.ErrSessionExpired. The caller closes the body.
func (d *Dispatcher) Do(ctx context.Context, endpoint string, opts Options) (*http.Response, error) {
	if !opts.SkipAuth && !d.session.EnsureValidToken(ctx) {
		return nil, errs.NewUserError(d.printer.AuthenticationRequired(), errs.ErrAuthenticationRequired)
	}

	requestID := uuid.NewString()
	logger := log.With().Str("request_id", requestID).Str("endpoint", endpoint).Logger()

	resp, err := d.send(ctx, endpoint, opts, requestID)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || !d.session.HasRefreshToken() {
		return resp, nil
	}
	_ = resp.Body.Close()

	logger.Debug().Msg("unauthorized, refreshing token and retrying once")
	if !d.session.RefreshToken(ctx) {
		d.metrics.UnauthorizedRetry(ctx, telemetry.OutcomeFailure)
		logger.Info().Msg("token refresh failed after 401")
		return nil, errs.NewUserError(d.printer.SessionExpired(), errs.ErrSessionExpired)
	}
	d.metrics.UnauthorizedRetry(ctx, telemetry.OutcomeSuccess)
	return d.send(ctx, endpoint, opts, requestID)
}

func (d *Dispatcher) send(ctx context.Context, endpoint string, opts Options, requestID string) (*http.Response, error) {
	resp, err := d.transport.MakeRequest(ctx, &connection.Request{
		Method: opts.Method,
		Path:   endpoint,
		Header: d.headers(opts.Header, requestID),
		Body:   opts.Body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "[Dispatcher.Do] %s %s", methodOrGet(opts.Method), endpoint)
	}
	return resp, nil
}

// headers layers the JSON defaults, the current bearer token and the caller's
// headers, in that order of precedence.
func (d *Dispatcher) headers(caller http.Header, requestID string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set(HeaderRequestID, requestID)
	if tok, ok := d.session.CurrentToken(); ok {
		tok.SetAuthHeader(&http.Request{Header: h})
	}
	for k, vs := range caller {
		h.Del(k)
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	return h
}

func methodOrGet(method string) string {
	if method == "" {
		return http.MethodGet
	}
	return method
}
