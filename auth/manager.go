// Package auth owns the client's authenticated session: login, registration,
// federated login, logout, expiry checks and proactive refresh.
//
// Token claims are decoded without signature verification and are used for
// display and scheduling only. Authorization is always enforced by the server.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-storemap-client/connection"
	"github.com/jrsteele09/go-storemap-client/events"
	"github.com/jrsteele09/go-storemap-client/internal/messages"
	"github.com/jrsteele09/go-storemap-client/internal/telemetry"
	"github.com/jrsteele09/go-storemap-client/session"
	"github.com/jrsteele09/go-storemap-client/storage"
	"github.com/jrsteele09/go-storemap-client/token"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRefreshLead    = 5 * time.Minute
	DefaultRefreshTimeout = 30 * time.Second
	DefaultLogoutTimeout  = 5 * time.Second

	refreshFlightKey = "refresh"
)

// userDataDelays are the extra notifications sent after a commit for listeners that subscribe late.
var userDataDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond}

// Transport executes backend requests. *connection.Manager implements it.
type Transport interface {
	MakeRequest(ctx context.Context, req *connection.Request) (*http.Response, error)
}

// Storage is the session medium. Watch reports writes made by other contexts.
type Storage interface {
	session.KV
	Watch(fn func(storage.Change)) (cancel func())
}

// Manager owns the session lifecycle and keeps it in step with other contexts
// sharing the storage medium.
type Manager struct {
	transport Transport
	kv        Storage
	store     *session.Store
	codec     *token.Codec
	bus       *events.Bus
	printer   *messages.Printer
	metrics   *telemetry.Recorder
	verifier  *oidc.IDTokenVerifier

	refreshLead    time.Duration
	refreshTimeout time.Duration
	logoutTimeout  time.Duration

	refreshes singleflight.Group

	mu          sync.Mutex
	generation  uint64
	timer       *time.Timer
	nextRefresh time.Time
	unwatch     func()
	disposed    bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

func WithCodec(c *token.Codec) Option {
	return func(m *Manager) {
		m.codec = c
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

// WithIDTokenVerifier verifies federated credentials before they are exchanged.
func WithIDTokenVerifier(v *oidc.IDTokenVerifier) Option {
	return func(m *Manager) {
		m.verifier = v
	}
}

// WithRefreshLead sets how long before exp the auto-refresh fires.
func WithRefreshLead(d time.Duration) Option {
	return func(m *Manager) {
		m.refreshLead = d
	}
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.refreshTimeout = d
	}
}

func WithLogoutTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.logoutTimeout = d
	}
}

// New returns a Manager that talks to the backend through transport and keeps
// the session in kv. Call Init to start watching for external changes.
func New(transport Transport, kv Storage, opts ...Option) (*Manager, error) {
	if transport == nil {
		return nil, errors.New("[auth.New] transport is required")
	}
	if kv == nil {
		return nil, errors.New("[auth.New] storage is required")
	}

	m := &Manager{
		transport:      transport,
		kv:             kv,
		store:          session.NewStore(kv),
		codec:          token.NewCodec(),
		printer:        messages.Default(),
		refreshLead:    DefaultRefreshLead,
		refreshTimeout: DefaultRefreshTimeout,
		logoutTimeout:  DefaultLogoutTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.baseCtx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Codec returns the codec used for expiry decisions.
func (m *Manager) Codec() *token.Codec {
	return m.codec
}

func (m *Manager) post(ctx context.Context, route string, payload any, header http.Header) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "[Manager.post] encoding %s body", route)
	}
	return m.transport.MakeRequest(ctx, &connection.Request{
		Method: http.MethodPost,
		Path:   route,
		Header: header,
		Body:   body,
	})
}

// goBackgroundLocked runs fn unless the manager was disposed. Callers hold m.mu.
func (m *Manager) goBackgroundLocked(fn func(ctx context.Context)) {
	if m.disposed {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(m.baseCtx)
	}()
}

func (m *Manager) publishUserDataUpdated() {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.UserDataUpdated, nil)
	for _, d := range userDataDelays {
		m.bus.PublishAfter(d, events.UserDataUpdated, nil)
	}
}

// Dispose stops the auto-refresh timer and the storage subscription, then
// waits for background refreshes to finish.
func (m *Manager) Dispose() {
	m.mu.Lock()
	m.disposed = true
	m.stopTimerLocked()
	unwatch := m.unwatch
	m.unwatch = nil
	m.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	m.cancel()
	m.wg.Wait()
}
