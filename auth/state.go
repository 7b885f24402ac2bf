package auth

import (
	"context"

	errs "github.com/jrsteele09/go-storemap-client/internal/errors"
	"github.com/jrsteele09/go-storemap-client/session"
	"github.com/jrsteele09/go-storemap-client/token"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Session returns the persisted session as it is now.
func (m *Manager) Session() (session.Session, error) {
	return m.store.Load()
}

// CurrentUser returns the cached profile, or the one derived from the token when
// the cache is missing. It is nil when nobody is signed in.
func (m *Manager) CurrentUser() *token.UserProfile {
	sess, err := m.store.Load()
	if err != nil {
		log.Err(err).Msg("reading session")
		return nil
	}
	if sess.AccessToken == "" {
		return nil
	}
	if sess.User != nil {
		return sess.User
	}
	p, err := m.codec.Profile(sess.AccessToken)
	if err != nil {
		return nil
	}
	return p
}

// IsAuthenticated is true when a token is stored that is still valid or can be
// refreshed. It never touches the network.
func (m *Manager) IsAuthenticated() bool {
	sess, err := m.store.Load()
	if err != nil || sess.AccessToken == "" {
		return false
	}
	return !m.codec.IsExpired(sess.AccessToken) || sess.RefreshToken != ""
}

func (m *Manager) IsInRole(role string) bool {
	u := m.CurrentUser()
	return u != nil && u.HasRole(role)
}

func (m *Manager) HasRefreshToken() bool {
	refresh, err := m.store.RefreshToken()
	return err == nil && refresh != ""
}

// CurrentToken returns the stored token pair without validating it.
func (m *Manager) CurrentToken() (*oauth2.Token, bool) {
	sess, err := m.store.Load()
	if err != nil || sess.AccessToken == "" {
		return nil, false
	}
	tok := &oauth2.Token{
		AccessToken:  sess.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: sess.RefreshToken,
	}
	if exp, ok, err := m.codec.ExpiresAt(sess.AccessToken); err == nil && ok {
		tok.Expiry = exp
	}
	return tok, true
}

// TokenSource adapts the manager for code that takes an oauth2.TokenSource.
// Each Token call ensures the token is valid first.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, m: m}
}

type tokenSource struct {
	ctx context.Context
	m   *Manager
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	if !s.m.EnsureValidToken(s.ctx) {
		return nil, errs.NewUserError(s.m.printer.AuthenticationRequired(), errs.ErrAuthenticationRequired)
	}
	tok, ok := s.m.CurrentToken()
	if !ok {
		return nil, errs.NewUserError(s.m.printer.AuthenticationRequired(), errs.ErrAuthenticationRequired)
	}
	return tok, nil
}
