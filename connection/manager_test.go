package connection_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-storemap-client/connection"
	"github.com/jrsteele09/go-storemap-client/events"
	errs "github.com/jrsteele09/go-storemap-client/internal/errors"
	"github.com/jrsteele09/go-storemap-client/storage"
	"github.com/stretchr/testify/require"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// countingTransport counts every request reaching the network.
type countingTransport struct {
	calls atomic.Int32
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return http.DefaultTransport.RoundTrip(r)
}

func statusServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url + "/api"
}

func newKV(t *testing.T) *storage.Store {
	t.Helper()
	medium := storage.NewMemoryMedium()
	t.Cleanup(func() { _ = medium.Close() })
	return medium.Open()
}

func fastOptions(extra ...connection.Option) []connection.Option {
	return append([]connection.Option{
		connection.WithProbeTimeout(time.Second),
		connection.WithStrategyTimeout(time.Second),
		connection.WithRequestTimeout(2 * time.Second),
		connection.WithRetryDelay(time.Millisecond),
	}, extra...)
}

func newManager(t *testing.T, candidates []string, kv connection.KV, opts ...connection.Option) *connection.Manager {
	t.Helper()
	m, err := connection.New(candidates, kv, fastOptions(opts...)...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

type eventRecorder struct {
	mu     sync.Mutex
	events []connection.StatusEvent
}

func recordEvents(bus *events.Bus) *eventRecorder {
	rec := &eventRecorder{}
	bus.Subscribe(events.ConnectionStatusChanged, func(e events.Event) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.events = append(rec.events, e.Payload.(connection.StatusEvent))
	})
	return rec
}

func (r *eventRecorder) all() []connection.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]connection.StatusEvent(nil), r.events...)
}

func TestNew_Validation(t *testing.T) {
	_, err := connection.New(nil, newKV(t))
	require.Error(t, err)

	_, err = connection.New([]string{"http://localhost/api"}, nil)
	require.Error(t, err)
}

func TestNew_RestoresPersistedState(t *testing.T) {
	kv := newKV(t)
	require.NoError(t, kv.Set(connection.KeyWorkingURL, "http://127.0.0.1:7240/api"))
	require.NoError(t, kv.Set(connection.KeyFailureCount, "2"))
	require.NoError(t, kv.Set(connection.KeyLastSuccess, "1700000000000"))

	m := newManager(t, []string{"https://localhost:7240/api/", "http://127.0.0.1:7240/api"}, kv)
	st := m.State()
	require.Equal(t, "http://127.0.0.1:7240/api", st.WorkingURL)
	require.Equal(t, 2, st.ConsecutiveFailures)
	require.Equal(t, time.UnixMilli(1700000000000), st.LastSuccess)
	require.Equal(t, connection.StatusUnknown, st.Status)
	require.True(t, st.IsOnline)
	require.Equal(t, []string{"https://localhost:7240/api", "http://127.0.0.1:7240/api"}, m.Candidates())
}

func TestTestConnection_FailoverToThirdCandidate(t *testing.T) {
	kv := newKV(t)
	bus := events.NewBus()
	defer bus.Close()
	rec := recordEvents(bus)

	candidates := []string{
		statusServer(t, http.StatusInternalServerError).URL + "/api",
		deadURL(t),
		statusServer(t, http.StatusNotFound).URL + "/api",
		statusServer(t, http.StatusOK).URL + "/api",
	}
	m := newManager(t, candidates, kv, connection.WithBus(bus))

	require.True(t, m.TestConnection(context.Background()))

	st := m.State()
	require.Equal(t, candidates[2], st.WorkingURL)
	require.Equal(t, connection.StatusConnected, st.Status)
	require.Zero(t, st.ConsecutiveFailures)

	v, err := kv.Get(connection.KeyWorkingURL)
	require.NoError(t, err)
	require.Equal(t, candidates[2], v)
	v, err = kv.Get(connection.KeyFailureCount)
	require.NoError(t, err)
	require.Equal(t, "0", v)

	require.Equal(t, []connection.StatusEvent{
		{Status: connection.StatusConnected, URL: candidates[2], Failures: 0},
	}, rec.all())
}

func TestTestConnection_AllCandidatesFail(t *testing.T) {
	kv := newKV(t)
	bus := events.NewBus()
	defer bus.Close()
	rec := recordEvents(bus)

	candidates := []string{deadURL(t), statusServer(t, http.StatusBadGateway).URL}
	m := newManager(t, candidates, kv, connection.WithBus(bus))

	require.False(t, m.TestConnection(context.Background()))
	require.False(t, m.TestConnection(context.Background()))

	st := m.State()
	require.Equal(t, connection.StatusFailed, st.Status)
	require.Equal(t, 2, st.ConsecutiveFailures)

	v, err := kv.Get(connection.KeyFailureCount)
	require.NoError(t, err)
	require.Equal(t, "2", v)

	require.Equal(t, []connection.StatusEvent{
		{Status: connection.StatusFailed, URL: candidates[0], Failures: 1},
		{Status: connection.StatusFailed, URL: candidates[0], Failures: 2},
	}, rec.all())
}

func TestTestConnection_OpaqueStrategyAcceptsAnyResponse(t *testing.T) {
	var strategies []string
	var mu sync.Mutex
	transport := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		mu.Lock()
		strategies = append(strategies, r.Header.Get("Accept"))
		mu.Unlock()
		if r.Header.Get("Accept") != "" {
			return nil, errors.New("blocked by cross-origin policy")
		}
		return &http.Response{
			StatusCode: http.StatusServiceUnavailable,
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     http.Header{},
			Request:    r,
		}, nil
	})

	m := newManager(t, []string{"http://backend.test/api"}, newKV(t), connection.WithTransport(transport))
	require.True(t, m.TestConnection(context.Background()))
	require.Equal(t, connection.StatusConnected, m.State().Status)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"application/json", "application/json", ""}, strategies)
}

func TestTestConnection_ConcurrentCallersShareOneRun(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newManager(t, []string{srv.URL + "/api"}, newKV(t))

	const callers = 5
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		go func() { results <- m.TestConnection(context.Background()) }()
	}

	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < callers; i++ {
		require.True(t, <-results)
	}
	require.Equal(t, int32(1), hits.Load())
}

func TestMakeRequest_OfflineFailsFast(t *testing.T) {
	transport := &countingTransport{}
	m := newManager(t, []string{statusServer(t, http.StatusOK).URL}, newKV(t), connection.WithTransport(transport))

	m.SetOnline(false)
	require.Equal(t, connection.StatusOffline, m.State().Status)

	resp, err := m.MakeRequest(context.Background(), &connection.Request{Path: "/stores"})
	require.Nil(t, resp)
	require.ErrorIs(t, err, errs.ErrOffline)
	require.NotErrorIs(t, err, errs.ErrServerUnreachable)

	var connErr *connection.Error
	require.ErrorAs(t, err, &connErr)
	require.Equal(t, connection.KindOffline, connErr.Kind)
	require.NotEmpty(t, errs.UserMessage(err, ""))

	require.False(t, m.TestConnection(context.Background()))
	require.Zero(t, transport.calls.Load())
}

func TestMakeRequest_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var lastHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastHeader.Store(r.Header.Clone())
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	kv := newKV(t)
	m := newManager(t, []string{srv.URL + "/api"}, kv)

	resp, err := m.MakeRequest(context.Background(), &connection.Request{
		Method: http.MethodPost,
		Path:   "/stores",
		Header: http.Header{"X-Custom": []string{"yes"}},
		Body:   []byte(`{"name":"Loja"}`),
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, `{"name":"Loja"}`, string(body))
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, connection.StatusConnected, m.State().Status)

	header := lastHeader.Load().(http.Header)
	require.Equal(t, "application/json", header.Get("Accept"))
	require.Equal(t, "application/json", header.Get("Content-Type"))
	require.Equal(t, "yes", header.Get("X-Custom"))
}

func TestMakeRequest_ReturnsClientErrorsWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := newManager(t, []string{srv.URL}, newKV(t))
	resp, err := m.MakeRequest(context.Background(), &connection.Request{Path: "/stores"})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, int32(1), calls.Load())
}

func TestMakeRequest_ExhaustedServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "database down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	kv := newKV(t)
	m := newManager(t, []string{srv.URL}, kv)

	_, err := m.MakeRequest(context.Background(), &connection.Request{Path: "/stores"})
	require.Error(t, err)
	require.Equal(t, http.StatusInternalServerError, errs.StatusCode(err))
	require.NotEmpty(t, errs.UserMessage(err, ""))
	require.Equal(t, int32(3), calls.Load())

	st := m.State()
	require.Equal(t, connection.StatusFailed, st.Status)
	require.Equal(t, 1, st.ConsecutiveFailures)

	v, err := kv.Get(connection.KeyFailureCount)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(1), v)
}

func TestMakeRequest_NetworkErrorSwitchesURL(t *testing.T) {
	alive := statusServer(t, http.StatusOK).URL + "/api"
	dead := deadURL(t)

	kv := newKV(t)
	require.NoError(t, kv.Set(connection.KeyWorkingURL, dead))
	m := newManager(t, []string{dead, alive}, kv)

	resp, err := m.MakeRequest(context.Background(), &connection.Request{Path: "/brands"})
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, alive, m.WorkingURL())
	v, err := kv.Get(connection.KeyWorkingURL)
	require.NoError(t, err)
	require.Equal(t, alive, v)
}

func TestMakeRequest_AllUnreachable(t *testing.T) {
	m := newManager(t, []string{deadURL(t), deadURL(t)}, newKV(t))

	_, err := m.MakeRequest(context.Background(), &connection.Request{Path: "/brands"})
	require.ErrorIs(t, err, errs.ErrServerUnreachable)

	var connErr *connection.Error
	require.ErrorAs(t, err, &connErr)
	require.Equal(t, connection.KindUnreachable, connErr.Kind)
	require.Equal(t, 1, m.State().ConsecutiveFailures)
}

func TestMakeRequest_TestsConnectionAfterRepeatedFailures(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	kv := newKV(t)
	require.NoError(t, kv.Set(connection.KeyFailureCount, "3"))
	m := newManager(t, []string{srv.URL + "/api"}, kv)

	resp, err := m.MakeRequest(context.Background(), &connection.Request{Path: "/stores"})
	require.NoError(t, err)
	resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"/api", "/api/stores"}, paths)
	require.Zero(t, m.State().ConsecutiveFailures)
}

func TestOnVisible_RetestsOnlyWhenStale(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	m := newManager(t, []string{statusServer(t, http.StatusOK).URL}, newKV(t), connection.WithNowFunc(clock))

	require.True(t, m.OnVisible(context.Background()))
	require.Equal(t, connection.StatusConnected, m.State().Status)
	require.False(t, m.OnVisible(context.Background()))

	mu.Lock()
	now = now.Add(31 * time.Second)
	mu.Unlock()
	require.True(t, m.OnVisible(context.Background()))
}

func TestSetOnline_ResetsFailuresAndRetests(t *testing.T) {
	kv := newKV(t)
	require.NoError(t, kv.Set(connection.KeyFailureCount, "4"))
	m := newManager(t, []string{statusServer(t, http.StatusOK).URL}, kv)

	m.SetOnline(false)
	m.SetOnline(true)
	require.True(t, m.IsOnline())

	require.Eventually(t, func() bool {
		return m.State().Status == connection.StatusConnected
	}, 2*time.Second, 5*time.Millisecond)
	require.Zero(t, m.State().ConsecutiveFailures)
}

func TestStart_HealthCheckRunsWhileNotConnected(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newManager(t, []string{srv.URL}, newKV(t), connection.WithHealthInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	require.Eventually(t, func() bool {
		return m.State().Status == connection.StatusConnected
	}, 2*time.Second, 5*time.Millisecond)

	settled := hits.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, settled, hits.Load())
}

func hangingServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTestConnection_TimeoutSkipsAlternativeStrategies(t *testing.T) {
	var hits atomic.Int32
	srv := hangingServer(t, &hits)

	m := newManager(t, []string{srv.URL + "/api"}, newKV(t),
		connection.WithProbeTimeout(50*time.Millisecond),
		connection.WithStrategyTimeout(50*time.Millisecond),
	)

	require.False(t, m.TestConnection(context.Background()))
	require.Equal(t, int32(len(connection.DefaultProbePaths)), hits.Load())
	require.Equal(t, connection.StatusFailed, m.State().Status)
}

func TestMakeRequest_TimeoutIsNotResentWithoutCredentials(t *testing.T) {
	var hits atomic.Int32
	srv := hangingServer(t, &hits)

	m := newManager(t, []string{srv.URL + "/api"}, newKV(t),
		connection.WithRequestTimeout(100*time.Millisecond),
		connection.WithMaxAttempts(1),
	)

	_, err := m.MakeRequest(context.Background(), &connection.Request{Path: "/stores"})
	require.ErrorIs(t, err, errs.ErrServerUnreachable)
	require.Equal(t, int32(1), hits.Load())
}

func TestTestConnection_CancelledCallerStopsWaiting(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
			w.WriteHeader(http.StatusOK)
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	m := newManager(t, []string{srv.URL + "/api"}, newKV(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.False(t, m.TestConnection(ctx))
	require.Less(t, time.Since(start), 500*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		return m.State().Status == connection.StatusConnected
	}, 2*time.Second, 5*time.Millisecond)
}
