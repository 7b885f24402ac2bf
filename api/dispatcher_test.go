package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jrsteele09/go-storemap-client/api"
	"github.com/jrsteele09/go-storemap-client/connection"
	errs "github.com/jrsteele09/go-storemap-client/internal/errors"
	"github.com/jrsteele09/go-storemap-client/internal/messages"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type stubSession struct {
	mu        sync.Mutex
	valid     bool
	access    string
	refresh   string
	refreshOK bool
	newAccess string
	ensures   int
	refreshes int
}

func (s *stubSession) EnsureValidToken(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensures++
	return s.valid
}

func (s *stubSession) RefreshToken(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	if s.refreshOK {
		s.access = s.newAccess
	}
	return s.refreshOK
}

func (s *stubSession) CurrentToken() (*oauth2.Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.access == "" {
		return nil, false
	}
	return &oauth2.Token{AccessToken: s.access, TokenType: "Bearer", RefreshToken: s.refresh}, true
}

func (s *stubSession) HasRefreshToken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh != ""
}

// scriptedTransport answers with the given statuses in order and records every request.
type scriptedTransport struct {
	statuses []int
	requests []*connection.Request
}

func (s *scriptedTransport) MakeRequest(_ context.Context, req *connection.Request) (*http.Response, error) {
	s.requests = append(s.requests, req)
	status := s.statuses[len(s.requests)-1]
	rec := httptest.NewRecorder()
	rec.WriteHeader(status)
	return rec.Result(), nil
}

func TestDoAttachesHeaders(t *testing.T) {
	sess := &stubSession{valid: true, access: "a1"}
	tr := &scriptedTransport{statuses: []int{http.StatusOK}}
	d := api.NewDispatcher(sess, tr)

	resp, err := d.Do(context.Background(), "/stores", api.Options{
		Method: http.MethodPost,
		Header: http.Header{"Content-Type": {"text/plain"}, "X-Extra": {"1"}},
		Body:   []byte("hi"),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, tr.requests, 1)
	req := tr.requests[0]
	require.Equal(t, http.MethodPost, req.Method)
	require.Equal(t, "/stores", req.Path)
	require.Equal(t, []byte("hi"), req.Body)
	require.Equal(t, "Bearer a1", req.Header.Get("Authorization"))
	require.Equal(t, "text/plain", req.Header.Get("Content-Type"))
	require.Equal(t, "application/json", req.Header.Get("Accept"))
	require.Equal(t, "1", req.Header.Get("X-Extra"))
	require.NotEmpty(t, req.Header.Get(api.HeaderRequestID))
}

func TestDoCallerHeaderOverridesBearer(t *testing.T) {
	sess := &stubSession{valid: true, access: "a1"}
	tr := &scriptedTransport{statuses: []int{http.StatusOK}}
	d := api.NewDispatcher(sess, tr)

	_, err := d.Do(context.Background(), "/brands", api.Options{Header: http.Header{"Authorization": {"Bearer override"}}})
	require.NoError(t, err)
	require.Equal(t, "Bearer override", tr.requests[0].Header.Get("Authorization"))
}

func TestDoRequiresAuthentication(t *testing.T) {
	sess := &stubSession{}
	tr := &scriptedTransport{}
	d := api.NewDispatcher(sess, tr)

	_, err := d.Do(context.Background(), "/stores", api.Options{})
	require.ErrorIs(t, err, errs.ErrAuthenticationRequired)
	require.Equal(t, messages.Default().AuthenticationRequired(), errs.UserMessage(err, ""))
	require.Empty(t, tr.requests)
}

func TestDoSkipAuth(t *testing.T) {
	sess := &stubSession{}
	tr := &scriptedTransport{statuses: []int{http.StatusOK}}
	d := api.NewDispatcher(sess, tr)

	resp, err := d.Do(context.Background(), "/health", api.Options{SkipAuth: true})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, tr.requests[0].Header.Get("Authorization"))
	require.Zero(t, sess.ensures)
}

func TestDoRetriesOnceAfterRefresh(t *testing.T) {
	sess := &stubSession{valid: true, access: "old", refresh: "r", refreshOK: true, newAccess: "new"}
	tr := &scriptedTransport{statuses: []int{http.StatusUnauthorized, http.StatusOK}}
	d := api.NewDispatcher(sess, tr)

	resp, err := d.Do(context.Background(), "/stores", api.Options{})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, sess.refreshes)
	require.Len(t, tr.requests, 2)
	require.Equal(t, "Bearer old", tr.requests[0].Header.Get("Authorization"))
	require.Equal(t, "Bearer new", tr.requests[1].Header.Get("Authorization"))
	require.Equal(t, tr.requests[0].Header.Get(api.HeaderRequestID), tr.requests[1].Header.Get(api.HeaderRequestID))
}

func TestDoSecond401IsReturned(t *testing.T) {
	sess := &stubSession{valid: true, access: "old", refresh: "r", refreshOK: true, newAccess: "new"}
	tr := &scriptedTransport{statuses: []int{http.StatusUnauthorized, http.StatusUnauthorized}}
	d := api.NewDispatcher(sess, tr)

	resp, err := d.Do(context.Background(), "/stores", api.Options{})
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, 1, sess.refreshes)
	require.Len(t, tr.requests, 2)
}

func TestDoRefreshFailureIsSessionExpired(t *testing.T) {
	sess := &stubSession{valid: true, access: "old", refresh: "r"}
	tr := &scriptedTransport{statuses: []int{http.StatusUnauthorized}}
	d := api.NewDispatcher(sess, tr)

	_, err := d.Do(context.Background(), "/stores", api.Options{})
	require.ErrorIs(t, err, errs.ErrSessionExpired)
	require.Equal(t, messages.Default().SessionExpired(), errs.UserMessage(err, ""))
	require.Equal(t, 1, sess.refreshes)
	require.Len(t, tr.requests, 1)
}

func TestDo401WithoutRefreshTokenIsReturned(t *testing.T) {
	sess := &stubSession{valid: true, access: "a1"}
	tr := &scriptedTransport{statuses: []int{http.StatusUnauthorized}}
	d := api.NewDispatcher(sess, tr)

	resp, err := d.Do(context.Background(), "/stores", api.Options{})
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Zero(t, sess.refreshes)
}

func TestDoPropagatesTransportErrors(t *testing.T) {
	sess := &stubSession{valid: true, access: "a1"}
	d := api.NewDispatcher(sess, transportFunc(func(context.Context, *connection.Request) (*http.Response, error) {
		return nil, &connection.Error{Kind: connection.KindUnreachable, Message: "down", Err: errs.ErrServerUnreachable}
	}))

	_, err := d.Do(context.Background(), "/stores", api.Options{})
	require.ErrorIs(t, err, errs.ErrServerUnreachable)
	require.Equal(t, "down", errs.UserMessage(err, ""))
}

type transportFunc func(context.Context, *connection.Request) (*http.Response, error)

func (f transportFunc) MakeRequest(ctx context.Context, req *connection.Request) (*http.Response, error) {
	return f(ctx, req)
}
