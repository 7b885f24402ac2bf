// Package telemetry records client-side metrics through OpenTelemetry. Without a
// host-installed MeterProvider the global no-op provider is used.
package telemetry

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const ScopeName = "github.com/jrsteele09/go-storemap-client"

// Outcome values used as the "outcome" attribute.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeUnreachable = "unreachable"
	OutcomeShared      = "shared"
)

// Recorder holds the client's instruments. A nil *Recorder records nothing.
type Recorder struct {
	requestAttempts metric.Int64Counter
	probes          metric.Int64Counter
	refreshes       metric.Int64Counter
	authRetries     metric.Int64Counter
}

func New(meter metric.Meter) (*Recorder, error) {
	requestAttempts, err := meter.Int64Counter("storemap.connection.request_attempts",
		metric.WithDescription("HTTP attempts issued by the connection manager"))
	if err != nil {
		return nil, errors.Wrap(err, "[telemetry.New] request_attempts")
	}
	probes, err := meter.Int64Counter("storemap.connection.probes",
		metric.WithDescription("Reachability probes by strategy and outcome"))
	if err != nil {
		return nil, errors.Wrap(err, "[telemetry.New] probes")
	}
	refreshes, err := meter.Int64Counter("storemap.auth.refreshes",
		metric.WithDescription("Access token refresh flights by outcome"))
	if err != nil {
		return nil, errors.Wrap(err, "[telemetry.New] refreshes")
	}
	authRetries, err := meter.Int64Counter("storemap.api.unauthorized_retries",
		metric.WithDescription("Requests reissued after a 401 and a token refresh"))
	if err != nil {
		return nil, errors.Wrap(err, "[telemetry.New] unauthorized_retries")
	}

	return &Recorder{
		requestAttempts: requestAttempts,
		probes:          probes,
		refreshes:       refreshes,
		authRetries:     authRetries,
	}, nil
}

// Global builds a Recorder on the global MeterProvider.
func Global() *Recorder {
	r, err := New(otel.GetMeterProvider().Meter(ScopeName))
	if err != nil {
		otel.Handle(err)
		return nil
	}
	return r
}

func (r *Recorder) RequestAttempt(ctx context.Context, outcome string) {
	if r == nil {
		return
	}
	r.requestAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (r *Recorder) Probe(ctx context.Context, strategy, outcome string) {
	if r == nil {
		return
	}
	r.probes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("outcome", outcome),
	))
}

func (r *Recorder) Refresh(ctx context.Context, outcome string) {
	if r == nil {
		return
	}
	r.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (r *Recorder) UnauthorizedRetry(ctx context.Context, outcome string) {
	if r == nil {
		return
	}
	r.authRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
