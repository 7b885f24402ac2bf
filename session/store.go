// Package session reads and writes the persisted session. It applies no policy:
// expiry, refresh and validity decisions belong to the auth package.
package session

import (
	"encoding/json"

	errs "github.com/jrsteele09/go-storemap-client/internal/errors"
	"github.com/jrsteele09/go-storemap-client/token"
	"github.com/pkg/errors"
)

// Persisted keys. KeyAuthToken is a legacy alias kept in sync with KeyToken.
const (
	KeyToken        = "token"
	KeyAuthToken    = "authToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)

// Keys lists every key owned by the session.
var Keys = []string{KeyToken, KeyAuthToken, KeyRefreshToken, KeyUser}

// KV is the string key-value medium the session is stored in.
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(keys ...string) error
}

// Session is a snapshot of the persisted state.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *token.UserProfile
}

func (s Session) Authenticated() bool {
	return s.AccessToken != ""
}

type Store struct {
	kv KV
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// AccessToken returns "" when no token is stored.
func (s *Store) AccessToken() (string, error) {
	v, err := s.get(KeyToken)
	if err != nil || v != "" {
		return v, err
	}
	return s.get(KeyAuthToken)
}

func (s *Store) RefreshToken() (string, error) {
	return s.get(KeyRefreshToken)
}

// User returns nil when no profile is cached.
func (s *Store) User() (*token.UserProfile, error) {
	v, err := s.get(KeyUser)
	if err != nil || v == "" {
		return nil, err
	}
	var p token.UserProfile
	if err := json.Unmarshal([]byte(v), &p); err != nil {
		return nil, errors.Wrap(errs.ErrInvalidProfile, err.Error())
	}
	return &p, nil
}

// SetTokens stores the access token under both token keys. The refresh token is
// only replaced when refresh is non-empty.
func (s *Store) SetTokens(access, refresh string) error {
	if err := s.kv.Set(KeyToken, access); err != nil {
		return errors.Wrap(err, "[Store.SetTokens] token")
	}
	if err := s.kv.Set(KeyAuthToken, access); err != nil {
		return errors.Wrap(err, "[Store.SetTokens] authToken")
	}
	if refresh == "" {
		return nil
	}
	if err := s.kv.Set(KeyRefreshToken, refresh); err != nil {
		return errors.Wrap(err, "[Store.SetTokens] refreshToken")
	}
	return nil
}

func (s *Store) SetUser(p *token.UserProfile) error {
	if p == nil {
		return s.kv.Delete(KeyUser)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "[Store.SetUser] marshal")
	}
	return errors.Wrap(s.kv.Set(KeyUser, string(data)), "[Store.SetUser]")
}

// Clear removes every session key.
func (s *Store) Clear() error {
	return errors.Wrap(s.kv.Delete(Keys...), "[Store.Clear]")
}

// Load reads the whole session. A corrupt cached profile is reported as a nil User.
func (s *Store) Load() (Session, error) {
	access, err := s.AccessToken()
	if err != nil {
		return Session{}, err
	}
	refresh, err := s.RefreshToken()
	if err != nil {
		return Session{}, err
	}
	user, err := s.User()
	if err != nil && !errs.Is(err, errs.ErrInvalidProfile) {
		return Session{}, err
	}
	return Session{AccessToken: access, RefreshToken: refresh, User: user}, nil
}

func (s *Store) get(key string) (string, error) {
	v, err := s.kv.Get(key)
	if errs.Is(err, errs.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "[Store.get] %s", key)
	}
	return v, nil
}
