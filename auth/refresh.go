package auth

import (
	"context"
	"net/http"
	"time"

	errs "github.com/jrsteele09/go-storemap-client/internal/errors"
	"github.com/jrsteele09/go-storemap-client/internal/telemetry"
	"github.com/jrsteele09/go-storemap-client/session"
	"github.com/jrsteele09/go-storemap-client/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// minRefreshDelay bounds how soon a freshly refreshed short-lived token is refreshed again.
const minRefreshDelay = time.Second

var errStaleSession = errors.New("session changed while the request was in flight")

type commitMode int

const (
	// commitLogin replaces the whole session, including the refresh token.
	commitLogin commitMode = iota
	// commitRefresh keeps the stored refresh token when the server issues none.
	commitRefresh
)

// EnsureValidToken reports whether a usable access token is stored, refreshing
// it first when it is inside the expiry buffer.
func (m *Manager) EnsureValidToken(ctx context.Context) bool {
	access, err := m.store.AccessToken()
	if err != nil {
		log.Err(err).Msg("reading access token")
		return false
	}
	if access == "" {
		return false
	}
	if !m.codec.IsExpired(access) {
		return true
	}
	log.Debug().Msg("access token expired or about to expire, refreshing")
	return m.RefreshToken(ctx)
}

// RefreshToken exchanges the stored refresh token for a new pair. Concurrent
// callers share one network call and its outcome. Any failure clears the session.
//
// The exchange is not cancelled with ctx; it runs until it completes or the
// refresh timeout elapses.
func (m *Manager) RefreshToken(ctx context.Context) bool {
	v, _, _ := m.refreshes.Do(refreshFlightKey, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return m.doRefresh(fctx), nil
	})
	ok, _ := v.(bool)
	return ok
}

func (m *Manager) doRefresh(ctx context.Context) bool {
	gen := m.currentGeneration()

	refresh, err := m.store.RefreshToken()
	if err != nil {
		return m.refreshFailed(ctx, gen, errors.Wrap(err, "reading refresh token"))
	}
	if refresh == "" {
		return m.refreshFailed(ctx, gen, errs.ErrNoRefreshToken)
	}

	resp, err := m.post(ctx, RouteRefreshToken, map[string]string{"refreshToken": refresh}, nil)
	if err != nil {
		return m.refreshFailed(ctx, gen, errors.Wrap(err, "refresh request failed"))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return m.refreshFailed(ctx, gen, errors.Wrap(errs.ErrRefreshFailed, "refresh token rejected"))
	}
	if !isSuccess(resp.StatusCode) {
		return m.refreshFailed(ctx, gen, errors.Wrap(&errs.StatusError{StatusCode: resp.StatusCode}, "refresh status error"))
	}

	parsed, err := decodeTokenResponse(RouteRefreshToken, resp.Body)
	if err != nil {
		return m.refreshFailed(ctx, gen, errors.Wrap(err, "decoding refresh response"))
	}
	if !parsed.succeeded() {
		return m.refreshFailed(ctx, gen, errors.Wrapf(errs.ErrRefreshFailed, "declined: %s", parsed.Message))
	}

	access, _ := parsed.accessToken()
	err = m.commit(gen, access, parsed.refreshToken(), nil, commitRefresh)
	switch {
	case errors.Is(err, errStaleSession):
		log.Debug().Msg("discarding refresh result for a replaced session")
		return m.hasUsableToken()
	case err != nil:
		return m.refreshFailed(ctx, gen, errors.Wrap(err, "committing refreshed session"))
	}

	m.metrics.Refresh(ctx, telemetry.OutcomeSuccess)
	log.Debug().Msg("token refreshed")
	return true
}

// refreshFailed logs cause and clears the session. When the session was replaced
// meanwhile the caller's answer is whether the replacement is usable.
func (m *Manager) refreshFailed(ctx context.Context, gen uint64, cause error) bool {
	log.Info().Err(cause).Msg("token refresh failed")
	m.metrics.Refresh(ctx, telemetry.OutcomeFailure)
	if m.clearIfGeneration(gen, cause.Error()) {
		return false
	}
	return m.hasUsableToken()
}

func (m *Manager) hasUsableToken() bool {
	access, err := m.store.AccessToken()
	return err == nil && access != "" && !m.codec.IsExpired(access)
}

func (m *Manager) currentGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// commit stores a new session unless the session changed since gen was read.
func (m *Manager) commit(gen uint64, access, refresh string, provider *token.UserProfile, mode commitMode) error {
	profile, err := m.codec.Profile(access)
	if err != nil {
		return errors.Wrap(err, "[Manager.commit] decoding access token")
	}
	if provider != nil {
		profile = token.MergeProviderProfile(profile, provider)
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return errStaleSession
	}
	err = m.commitLocked(access, refresh, profile, mode)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.publishUserDataUpdated()
	return nil
}

func (m *Manager) commitLocked(access, refresh string, profile *token.UserProfile, mode commitMode) error {
	m.generation++
	if mode == commitLogin && refresh == "" {
		if err := m.kv.Delete(session.KeyRefreshToken); err != nil {
			return errors.Wrap(err, "[Manager.commit] dropping previous refresh token")
		}
	}
	if err := m.store.SetTokens(access, refresh); err != nil {
		return errors.Wrap(err, "[Manager.commit]")
	}
	if err := m.store.SetUser(profile); err != nil {
		return errors.Wrap(err, "[Manager.commit]")
	}
	m.scheduleLocked(mode == commitRefresh)
	return nil
}

// clearSession removes every session key and stops the auto-refresh timer.
func (m *Manager) clearSession(reason string) {
	m.mu.Lock()
	m.clearLocked()
	m.mu.Unlock()

	log.Info().Str("reason", reason).Msg("session cleared")
	m.publishUserDataUpdated()
}

// clearIfGeneration clears the session only if nothing replaced it since gen was read.
func (m *Manager) clearIfGeneration(gen uint64, reason string) bool {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		log.Debug().Str("reason", reason).Msg("session replaced meanwhile, not clearing")
		return false
	}
	m.clearLocked()
	m.mu.Unlock()

	log.Info().Str("reason", reason).Msg("session cleared")
	m.publishUserDataUpdated()
	return true
}

func (m *Manager) clearLocked() {
	m.generation++
	m.stopTimerLocked()
	if err := m.store.Clear(); err != nil {
		log.Err(err).Msg("clearing session storage")
	}
}

// StartAutoRefresh schedules a refresh refreshLead before the access token
// expires, replacing any earlier schedule. A token already inside that window is
// refreshed immediately in the background.
func (m *Manager) StartAutoRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduleLocked(false)
}

func (m *Manager) StopAutoRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
}

// NextAutoRefresh returns when the scheduled refresh fires. ok is false when none is scheduled.
func (m *Manager) NextAutoRefresh() (at time.Time, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer == nil {
		return time.Time{}, false
	}
	return m.nextRefresh, true
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.nextRefresh = time.Time{}
}

// scheduleLocked arms the refresh timer for the stored token. afterRefresh marks
// a token that was just issued by a refresh; such a token is never refreshed
// again immediately, even when its lifetime is shorter than the lead.
func (m *Manager) scheduleLocked(afterRefresh bool) {
	m.stopTimerLocked()
	if m.disposed {
		return
	}

	access, err := m.store.AccessToken()
	if err != nil {
		log.Err(err).Msg("reading access token for auto-refresh")
		return
	}
	if access == "" {
		return
	}
	remaining, ok := m.codec.TimeUntilExpiry(access)
	if !ok {
		log.Debug().Msg("access token has no expiry, auto-refresh not scheduled")
		return
	}

	delay := remaining - m.refreshLead
	if delay <= 0 {
		if !afterRefresh {
			log.Debug().Dur("remaining", remaining).Msg("token expires within the refresh lead, refreshing now")
			m.goBackgroundLocked(func(ctx context.Context) {
				m.RefreshToken(ctx)
			})
			return
		}
		if remaining <= 0 {
			log.Warn().Msg("server issued an already expired token, auto-refresh not scheduled")
			return
		}
		delay = max(remaining/2, minRefreshDelay)
		log.Warn().Dur("lifetime", remaining).Dur("lead", m.refreshLead).
			Msg("token lifetime is shorter than the refresh lead")
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.timer != timer {
			return
		}
		m.timer = nil
		m.nextRefresh = time.Time{}
		m.goBackgroundLocked(func(ctx context.Context) {
			m.RefreshToken(ctx)
		})
	})
	m.timer = timer
	m.nextRefresh = m.codec.Now().Add(delay)
	log.Debug().Time("at", m.nextRefresh).Msg("auto-refresh scheduled")
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

// userError keeps the localized message of err when it already carries one.
func (m *Manager) userError(fallback string, err error) error {
	return errs.NewUserError(errs.UserMessage(err, fallback), err)
}
