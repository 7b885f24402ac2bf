package connection

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v5"
	errs "github.com/jrsteele09/go-storemap-client/internal/errors"
	"github.com/jrsteele09/go-storemap-client/internal/telemetry"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Request is a backend call relative to the working base URL.
type Request struct {
	Method string
	// Path starts with "/" and may carry a query string.
	Path   string
	Header http.Header
	Body   []byte
}

// MakeRequest executes req against the working URL with retries. Any response
// with a status below 500 is returned as-is, including 4xx. The caller closes the body.
//
// Errors are a *connection.Error for offline and unreachable conditions, or wrap
// an *errors.StatusError when the server kept answering 5xx.
func (m *Manager) MakeRequest(ctx context.Context, req *Request) (*http.Response, error) {
	if !m.IsOnline() {
		return nil, &Error{Kind: KindOffline, Message: m.printer.NoInternet(), Err: errs.ErrOffline}
	}
	if m.State().ConsecutiveFailures > failureThreshold {
		log.Debug().Msg("many failures detected, testing connection first")
		m.TestConnection(ctx)
	}

	attempt := 0
	operation := func() (*http.Response, error) {
		attempt++
		base := m.WorkingURL()
		log.Debug().Int("attempt", attempt).Int("max", m.maxAttempts).Str("url", base+req.Path).Msg("request attempt")

		resp, err := m.attempt(ctx, base, req)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			m.metrics.RequestAttempt(ctx, telemetry.OutcomeSuccess)
			m.markSuccess(base)
			return resp, nil
		}
		if err == nil {
			err = statusError(resp)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}

		m.metrics.RequestAttempt(ctx, telemetry.OutcomeFailure)
		log.Debug().Err(err).Int("attempt", attempt).Msg("request attempt failed")
		if isNetworkError(err) && attempt < m.maxAttempts {
			log.Debug().Msg("network error detected, trying another URL")
			m.findWorkingURL(ctx)
		}
		return nil, err
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&linearBackOff{step: m.retryDelay}),
		backoff.WithMaxTries(uint(m.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, errors.Wrap(err, "[Manager.MakeRequest] cancelled")
	}

	m.markFailure()
	if isNetworkError(err) {
		return nil, &Error{
			Kind:    KindUnreachable,
			URL:     m.WorkingURL(),
			Message: m.printer.ServerUnreachable(),
			Err:     err,
		}
	}
	if code := errs.StatusCode(err); code != 0 {
		return nil, errs.NewUserError(m.printer.ServerError(code), err)
	}
	return nil, errs.NewUserError(m.printer.ConnectionFailed(), err)
}

// attempt issues one request with credentials and, on a transport failure
// other than a timeout, once more without them.
func (m *Manager) attempt(ctx context.Context, base string, req *Request) (*http.Response, error) {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")
	mergeHeaders(headers, req.Header)

	resp, err := m.send(ctx, m.credClient, base, req, headers)
	if err == nil || ctx.Err() != nil || !isNetworkError(err) || errors.Is(err, context.DeadlineExceeded) {
		return resp, err
	}

	log.Debug().Err(err).Msg("trying request without credentials")
	fallback := http.Header{}
	fallback.Set("Accept", "application/json")
	mergeHeaders(fallback, req.Header)

	resp, ferr := m.send(ctx, m.anonClient, base, req, fallback)
	if ferr != nil {
		return nil, errors.Wrap(errs.ErrConnectionFailed, ferr.Error())
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		_ = resp.Body.Close()
		return nil, errors.Wrapf(errs.ErrConnectionFailed, "fallback status %d", resp.StatusCode)
	}
	return resp, nil
}

func (m *Manager) send(ctx context.Context, client *http.Client, base string, req *Request, headers http.Header) (*http.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	actx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(actx, method, base+req.Path, body)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "[Manager.send] building request")
	}
	httpReq.Header = headers.Clone()

	resp, err := client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases the attempt's timeout context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func mergeHeaders(dst, src http.Header) {
	for k, vs := range src {
		dst.Del(k)
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func statusError(resp *http.Response) error {
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &errs.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}
