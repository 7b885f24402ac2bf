package auth

import (
	"context"

	"github.com/jrsteele09/go-storemap-client/session"
	"github.com/jrsteele09/go-storemap-client/storage"
	"github.com/rs/zerolog/log"
)

// Init subscribes to session writes made through other handles of the storage
// medium and resynchronizes with whatever session is already stored.
func (m *Manager) Init(ctx context.Context) {
	m.mu.Lock()
	if m.unwatch == nil && !m.disposed {
		m.unwatch = m.kv.Watch(m.onStorageChange)
	}
	m.mu.Unlock()

	m.resync(ctx)
}

// OnVisible is called when the host regains the foreground.
func (m *Manager) OnVisible(ctx context.Context) {
	m.resync(ctx)
}

// resync rebuilds a missing profile cache, then schedules the auto-refresh or
// refreshes right away when the token is already inside the expiry buffer.
func (m *Manager) resync(ctx context.Context) {
	gen := m.currentGeneration()
	sess, err := m.store.Load()
	if err != nil {
		log.Err(err).Msg("reading session for resync")
		return
	}
	if sess.AccessToken == "" {
		m.StopAutoRefresh()
		return
	}
	if sess.User == nil && !m.healProfile(gen, sess.AccessToken) {
		return
	}
	if !m.codec.IsExpired(sess.AccessToken) {
		m.StartAutoRefresh()
		return
	}
	log.Debug().Msg("stored token expired, refreshing")
	m.RefreshToken(ctx)
}

// healProfile re-derives the cached profile from the access token read at gen.
// A token that cannot be decoded ends the session. Nothing is written when the
// session changed since gen.
func (m *Manager) healProfile(gen uint64, access string) bool {
	profile, err := m.codec.Profile(access)
	if err != nil {
		log.Err(err).Msg("stored token cannot be decoded")
		m.clearIfGeneration(gen, "undecodable token")
		return false
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		log.Debug().Msg("session changed while restoring the profile")
		return false
	}
	err = m.store.SetUser(profile)
	m.mu.Unlock()
	if err != nil {
		log.Err(err).Msg("restoring user profile")
		return false
	}
	log.Debug().Msg("user profile restored from token")
	m.publishUserDataUpdated()
	return true
}

// onStorageChange reacts to another context's writes. Any external change to the
// token invalidates refreshes in flight here, so the other context's session wins.
func (m *Manager) onStorageChange(c storage.Change) {
	switch c.Key {
	case session.KeyToken, session.KeyAuthToken:
		if c.Deleted || c.Value == "" {
			m.mu.Lock()
			m.generation++
			m.stopTimerLocked()
			m.mu.Unlock()
			log.Debug().Str("source", c.Source).Msg("session cleared elsewhere")
			m.publishUserDataUpdated()
			return
		}
		if c.Key != session.KeyToken {
			return
		}
		m.mu.Lock()
		m.generation++
		m.scheduleLocked(false)
		m.mu.Unlock()
		log.Debug().Str("source", c.Source).Msg("session replaced elsewhere")
		m.publishUserDataUpdated()

	case session.KeyUser:
		if !c.Deleted {
			m.publishUserDataUpdated()
			return
		}
		gen := m.currentGeneration()
		access, err := m.store.AccessToken()
		if err == nil && access != "" {
			m.healProfile(gen, access)
		}
	}
}
