package connection

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/jrsteele09/go-storemap-client/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// strategy is one way of issuing a probe, from strictest to most lenient.
type strategy struct {
	name        string
	credentials bool
	headers     map[string]string
	// anyResponse accepts every completed response regardless of status.
	anyResponse bool
}

var (
	directStrategy = strategy{
		name:        "direct",
		credentials: true,
		headers: map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
		},
	}

	alternativeStrategies = []strategy{
		{name: "no-credentials", headers: map[string]string{"Accept": "application/json"}},
		{name: "opaque", anyResponse: true},
		{name: "bare", credentials: true},
	}
)

// TestConnection probes every candidate in order and records the first one that
// answers. Concurrent callers share one probe run. A caller whose ctx is done
// stops waiting and gets false while the run carries on for the others.
func (m *Manager) TestConnection(ctx context.Context) bool {
	if !m.IsOnline() {
		m.update(func(s *State) { s.Status = StatusOffline })
		return false
	}

	ch := m.probes.DoChan("test", func() (any, error) {
		log.Debug().Msg("testing API connection")
		flightCtx, done := m.flightContext(ctx)
		defer done()
		for _, base := range m.candidates {
			if m.testSingleURL(flightCtx, base) {
				m.markSuccess(base)
				log.Info().Str("url", base).Msg("connection established")
				return true, nil
			}
			if flightCtx.Err() != nil {
				return false, nil
			}
		}
		m.markFailure()
		return false, nil
	})
	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		return false
	}
}

// flightContext outlives the caller that started a shared probe run but not Close.
func (m *Manager) flightContext(ctx context.Context) (context.Context, context.CancelFunc) {
	flight, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(m.baseCtx, cancel)
	return flight, func() {
		stop()
		cancel()
	}
}

// findWorkingURL switches to another reachable candidate without marking success.
func (m *Manager) findWorkingURL(ctx context.Context) bool {
	current := m.WorkingURL()
	for _, base := range m.candidates {
		if base == current {
			continue
		}
		if m.testSingleURL(ctx, base) {
			log.Info().Str("from", current).Str("to", base).Msg("switching API URL")
			m.setWorkingURL(base)
			return true
		}
	}
	return false
}

func (m *Manager) testSingleURL(ctx context.Context, base string) bool {
	for _, path := range m.probePaths {
		target := base + path
		status, err := m.probe(ctx, target, directStrategy, m.probeTimeout)
		if err == nil {
			if status < http.StatusInternalServerError {
				log.Debug().Str("url", target).Int("status", status).Msg("probe succeeded")
				return true
			}
			continue
		}
		if ctx.Err() != nil {
			return false
		}
		log.Debug().Err(err).Str("url", target).Msg("probe failed")
		if errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		if m.tryAlternativeStrategies(ctx, target) {
			return true
		}
	}
	return false
}

func (m *Manager) tryAlternativeStrategies(ctx context.Context, target string) bool {
	for _, st := range alternativeStrategies {
		status, err := m.probe(ctx, target, st, m.strategyTimeout)
		if err != nil {
			log.Debug().Err(err).Str("url", target).Str("strategy", st.name).Msg("alternative strategy failed")
			continue
		}
		if st.anyResponse || status < http.StatusInternalServerError {
			log.Debug().Str("url", target).Str("strategy", st.name).Msg("alternative strategy worked")
			return true
		}
	}
	return false
}

func (m *Manager) probe(ctx context.Context, target string, st strategy, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	for k, v := range st.headers {
		req.Header.Set(k, v)
	}

	client := m.anonClient
	if st.credentials {
		client = m.credClient
	}
	resp, err := client.Do(req)
	if err != nil {
		m.metrics.Probe(ctx, st.name, telemetry.OutcomeUnreachable)
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	outcome := telemetry.OutcomeSuccess
	if resp.StatusCode >= http.StatusInternalServerError {
		outcome = telemetry.OutcomeFailure
	}
	m.metrics.Probe(ctx, st.name, outcome)
	return resp.StatusCode, nil
}
