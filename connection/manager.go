// Package connection hides an unreliable backend endpoint behind one logical
// request interface. It probes a fixed list of candidate base URLs, remembers the
// one that works, retries failed requests and publishes connectivity changes.
package connection

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-storemap-client/events"
	"github.com/jrsteele09/go-storemap-client/internal/messages"
	"github.com/jrsteele09/go-storemap-client/internal/telemetry"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultProbeTimeout    = 5 * time.Second
	DefaultStrategyTimeout = 3 * time.Second
	DefaultRequestTimeout  = 15 * time.Second
	DefaultRetryDelay      = time.Second
	DefaultMaxAttempts     = 3
	DefaultHealthInterval  = 60 * time.Second

	// failureThreshold is the failure count above which a request re-tests first.
	failureThreshold = 2
	// staleAfter is how old the last success may be before a foreground re-test.
	staleAfter = 30 * time.Second
)

// DefaultProbePaths are tried in order against each candidate: root, health, a known read endpoint.
var DefaultProbePaths = []string{"", "/health", "/brands"}

// Manager tracks which candidate base URL answers and sends requests to it.
type Manager struct {
	candidates []string
	kv         KV

	// credClient keeps cookies between requests; anonClient never sends any.
	credClient *http.Client
	anonClient *http.Client

	bus     *events.Bus
	printer *messages.Printer
	metrics *telemetry.Recorder
	nowFunc func() time.Time

	probeTimeout    time.Duration
	strategyTimeout time.Duration
	requestTimeout  time.Duration
	retryDelay      time.Duration
	maxAttempts     int
	healthInterval  time.Duration
	probePaths      []string

	mu    sync.RWMutex
	state State

	probes singleflight.Group

	baseCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithTransport replaces the RoundTripper of both HTTP clients.
func WithTransport(rt http.RoundTripper) Option {
	return func(m *Manager) {
		m.credClient.Transport = rt
		m.anonClient.Transport = rt
	}
}

func WithBus(bus *events.Bus) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

func WithPrinter(p *messages.Printer) Option {
	return func(m *Manager) {
		m.printer = p
	}
}

func WithMetrics(r *telemetry.Recorder) Option {
	return func(m *Manager) {
		m.metrics = r
	}
}

// WithNowFunc overrides the clock. Used by tests.
func WithNowFunc(fn func() time.Time) Option {
	return func(m *Manager) {
		m.nowFunc = fn
	}
}

func WithProbeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.probeTimeout = d
	}
}

func WithStrategyTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.strategyTimeout = d
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.requestTimeout = d
	}
}

// WithRetryDelay sets the step of the linear delay between request attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) {
		m.retryDelay = d
	}
}

func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

func WithHealthInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.healthInterval = d
	}
}

func WithProbePaths(paths ...string) Option {
	return func(m *Manager) {
		m.probePaths = paths
	}
}

// New builds a manager over candidates (in priority order) and restores the
// persisted working URL and failure counter from kv.
func New(candidates []string, kv KV, opts ...Option) (*Manager, error) {
	cleaned := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c = strings.TrimRight(strings.TrimSpace(c), "/"); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.New("[connection.New] at least one candidate URL is required")
	}
	if kv == nil {
		return nil, errors.New("[connection.New] kv is required")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "[connection.New] cookie jar")
	}

	m := &Manager{
		candidates:      cleaned,
		kv:              kv,
		credClient:      &http.Client{Jar: jar},
		anonClient:      &http.Client{},
		printer:         messages.Default(),
		nowFunc:         time.Now,
		probeTimeout:    DefaultProbeTimeout,
		strategyTimeout: DefaultStrategyTimeout,
		requestTimeout:  DefaultRequestTimeout,
		retryDelay:      DefaultRetryDelay,
		maxAttempts:     DefaultMaxAttempts,
		healthInterval:  DefaultHealthInterval,
		probePaths:      DefaultProbePaths,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.state = loadState(kv, cleaned[0])
	m.baseCtx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Candidates returns the candidate base URLs in probe order.
func (m *Manager) Candidates() []string {
	return append([]string(nil), m.candidates...)
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) WorkingURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.WorkingURL
}

func (m *Manager) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.IsOnline
}

// SetOnline mirrors the platform reachability signal. Going online resets the
// failure counter and re-tests in the background; going offline marks the status offline.
func (m *Manager) SetOnline(online bool) {
	if !online {
		log.Info().Msg("network offline")
		m.update(func(s *State) {
			s.IsOnline = false
			s.Status = StatusOffline
		})
		return
	}

	log.Info().Msg("network back online")
	m.update(func(s *State) {
		s.IsOnline = true
		s.ConsecutiveFailures = 0
	})
	writeKey(m.kv, KeyFailureCount, "0")
	m.goBackground(func(ctx context.Context) { m.TestConnection(ctx) })
}

// OnVisible re-tests when the last success is stale, failures were recorded or
// the status is unknown. It reports whether a test ran.
func (m *Manager) OnVisible(ctx context.Context) bool {
	if !m.shouldRetest() {
		return false
	}
	log.Debug().Msg("context visible, retesting connection")
	m.TestConnection(ctx)
	return true
}

func (m *Manager) shouldRetest() bool {
	st := m.State()
	return m.nowFunc().Sub(st.LastSuccess) > staleAfter ||
		st.ConsecutiveFailures > 0 ||
		st.Status == StatusUnknown
}

// Start runs the periodic health check until ctx is done or Close is called.
// The check only re-tests while the status is not connected or failures were recorded.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(m.healthInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-m.baseCtx.Done():
					return
				case <-ticker.C:
					if m.needsHealthCheck() {
						log.Debug().Msg("periodic health check")
						m.TestConnection(ctx)
					}
				}
			}
		}()
	})
}

func (m *Manager) needsHealthCheck() bool {
	st := m.State()
	return st.ConsecutiveFailures > 0 || st.Status != StatusConnected
}

// Close stops the health check and waits for background probes.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
	})
	m.wg.Wait()
}

func (m *Manager) goBackground(fn func(ctx context.Context)) {
	if m.baseCtx.Err() != nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(m.baseCtx)
	}()
}

func (m *Manager) markSuccess(url string) {
	now := m.nowFunc()
	m.update(func(s *State) {
		s.WorkingURL = url
		s.LastSuccess = now
		s.ConsecutiveFailures = 0
		s.Status = StatusConnected
	})
	writeKey(m.kv, KeyWorkingURL, url)
	writeKey(m.kv, KeyLastSuccess, strconv.FormatInt(now.UnixMilli(), 10))
	writeKey(m.kv, KeyFailureCount, "0")
}

func (m *Manager) markFailure() {
	var failures int
	m.update(func(s *State) {
		s.ConsecutiveFailures++
		s.Status = StatusFailed
		failures = s.ConsecutiveFailures
	})
	writeKey(m.kv, KeyFailureCount, strconv.Itoa(failures))
	log.Warn().Int("failures", failures).Msg("connection failed")
}

func (m *Manager) setWorkingURL(url string) {
	m.update(func(s *State) {
		s.WorkingURL = url
	})
}

// update applies fn under the lock and publishes a status event when the
// status, URL or failure counter changed.
func (m *Manager) update(fn func(*State)) {
	m.mu.Lock()
	before := m.state.event()
	fn(&m.state)
	after := m.state.event()
	m.mu.Unlock()

	if before == after || m.bus == nil {
		return
	}
	m.bus.Publish(events.ConnectionStatusChanged, after)
}
