// Package client wires the storemap client together: configuration, the shared
// storage medium, connectivity, the session manager and the typed API services.
// A process builds one Client per context and calls Init once and Close once.
package client

import (
	"context"
	"net/http"
	"os"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-storemap-client/api"
	"github.com/jrsteele09/go-storemap-client/auth"
	"github.com/jrsteele09/go-storemap-client/connection"
	"github.com/jrsteele09/go-storemap-client/events"
	"github.com/jrsteele09/go-storemap-client/internal/config"
	"github.com/jrsteele09/go-storemap-client/internal/messages"
	"github.com/jrsteele09/go-storemap-client/internal/telemetry"
	"github.com/jrsteele09/go-storemap-client/storage"
	"github.com/jrsteele09/go-storemap-client/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"
)

const (
	googleIssuer   = "https://accounts.google.com"
	googleCertsURL = "https://www.googleapis.com/oauth2/v3/certs"
)

type Client struct {
	medium     *storage.Medium
	ownsMedium bool
	kv         *storage.Store
	bus        *events.Bus
	printer    *messages.Printer
	metrics    *telemetry.Recorder
	conn       *connection.Manager
	auth       *auth.Manager
	dispatcher *api.Dispatcher
	stores     *api.Stores
	brands     *api.Brands
}

type options struct {
	medium    *storage.Medium
	transport http.RoundTripper
	meter     metric.Meter
	verifier  *oidc.IDTokenVerifier
}

type Option func(*options)

// WithMedium shares an already open medium between clients. The caller closes it.
func WithMedium(m *storage.Medium) Option {
	return func(o *options) {
		o.medium = m
	}
}

func WithHTTPTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// WithMeter records metrics on meter instead of the global MeterProvider.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) {
		o.meter = meter
	}
}

// WithIDTokenVerifier overrides the Google verifier built from the configured client ID.
func WithIDTokenVerifier(v *oidc.IDTokenVerifier) Option {
	return func(o *options) {
		o.verifier = v
	}
}

func New(ctx context.Context, cfg config.Config, opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{
		bus:     events.NewBus(),
		printer: messages.New(cfg.GetLocale()),
	}

	if o.meter != nil {
		r, err := telemetry.New(o.meter)
		if err != nil {
			c.bus.Close()
			return nil, errors.Wrap(err, "[client.New]")
		}
		c.metrics = r
	} else {
		c.metrics = telemetry.Global()
	}

	c.medium = o.medium
	if c.medium == nil {
		m, err := openMedium(cfg)
		if err != nil {
			c.bus.Close()
			return nil, err
		}
		c.medium = m
		c.ownsMedium = true
	}
	c.kv = c.medium.Open()

	connOpts := []connection.Option{
		connection.WithBus(c.bus),
		connection.WithPrinter(c.printer),
		connection.WithMetrics(c.metrics),
		connection.WithProbeTimeout(cfg.GetProbeTimeout()),
		connection.WithRequestTimeout(cfg.GetRequestTimeout()),
		connection.WithRetryDelay(cfg.GetRetryDelay()),
		connection.WithMaxAttempts(cfg.GetMaxAttempts()),
		connection.WithHealthInterval(cfg.GetHealthCheckInterval()),
	}
	if o.transport != nil {
		connOpts = append(connOpts, connection.WithTransport(o.transport))
	}
	conn, err := connection.New(cfg.GetAPIURLs(), c.kv, connOpts...)
	if err != nil {
		c.release()
		return nil, errors.Wrap(err, "[client.New]")
	}
	c.conn = conn

	authOpts := []auth.Option{
		auth.WithBus(c.bus),
		auth.WithPrinter(c.printer),
		auth.WithMetrics(c.metrics),
		auth.WithCodec(token.NewCodec(token.WithExpiryBuffer(cfg.GetExpiryBuffer()))),
		auth.WithRefreshLead(cfg.GetRefreshLead()),
		auth.WithRefreshTimeout(cfg.GetRefreshTimeout()),
	}
	verifier := o.verifier
	if verifier == nil && cfg.GetGoogleClientID() != "" {
		keys := oidc.NewRemoteKeySet(context.WithoutCancel(ctx), googleCertsURL)
		verifier = oidc.NewVerifier(googleIssuer, keys, &oidc.Config{ClientID: cfg.GetGoogleClientID()})
	}
	if verifier != nil {
		authOpts = append(authOpts, auth.WithIDTokenVerifier(verifier))
	}
	am, err := auth.New(c.conn, c.kv, authOpts...)
	if err != nil {
		c.release()
		return nil, errors.Wrap(err, "[client.New]")
	}
	c.auth = am

	c.dispatcher = api.NewDispatcher(c.auth, c.conn, api.WithPrinter(c.printer), api.WithMetrics(c.metrics))
	c.stores = api.NewStores(c.dispatcher)
	c.brands = api.NewBrands(c.dispatcher)
	return c, nil
}

func openMedium(cfg config.StorageConfig) (*storage.Medium, error) {
	if err := os.MkdirAll(cfg.GetDataFolder(), 0o700); err != nil {
		return nil, errors.Wrapf(err, "[client.openMedium] creating %s", cfg.GetDataFolder())
	}
	var boltOpts []storage.BoltOption
	if key := cfg.GetStorageKey(); key != "" {
		boltOpts = append(boltOpts, storage.WithPassphrase(key))
	}
	backend, err := storage.NewBoltBackend(cfg.GetStoragePath(), boltOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "[client.openMedium]")
	}
	return storage.NewMedium(backend), nil
}

// Init restores the persisted session, checks connectivity when the stored
// status is stale and starts the periodic health check.
func (c *Client) Init(ctx context.Context) {
	c.conn.OnVisible(ctx)
	c.conn.Start(ctx)
	c.auth.Init(ctx)
}

// OnVisible is called when the context regains the foreground.
func (c *Client) OnVisible(ctx context.Context) {
	c.conn.OnVisible(ctx)
	c.auth.OnVisible(ctx)
}

func (c *Client) SetOnline(online bool) {
	c.conn.SetOnline(online)
}

// Close stops background work and, when the client opened it, the storage medium.
func (c *Client) Close() error {
	c.auth.Dispose()
	c.conn.Close()
	return c.release()
}

func (c *Client) release() error {
	c.bus.Close()
	if !c.ownsMedium {
		return nil
	}
	if err := c.medium.Close(); err != nil {
		log.Err(err).Msg("closing storage medium")
		return errors.Wrap(err, "[Client.Close]")
	}
	return nil
}

func (c *Client) Auth() *auth.Manager             { return c.auth }
func (c *Client) Connection() *connection.Manager { return c.conn }
func (c *Client) Dispatcher() *api.Dispatcher     { return c.dispatcher }
func (c *Client) Stores() *api.Stores             { return c.stores }
func (c *Client) Brands() *api.Brands             { return c.brands }
func (c *Client) Events() *events.Bus             { return c.bus }
func (c *Client) Printer() *messages.Printer      { return c.printer }
