package session_test

import (
	"testing"

	errs "github.com/jrsteele09/go-storemap-client/internal/errors"
	"github.com/jrsteele09/go-storemap-client/session"
	"github.com/jrsteele09/go-storemap-client/storage"
	"github.com/jrsteele09/go-storemap-client/token"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*session.Store, *storage.Store) {
	t.Helper()
	medium := storage.NewMemoryMedium()
	t.Cleanup(func() { _ = medium.Close() })
	kv := medium.Open()
	return session.NewStore(kv), kv
}

func TestStore_Empty(t *testing.T) {
	s, _ := newStore(t)

	sess, err := s.Load()
	require.NoError(t, err)
	require.False(t, sess.Authenticated())
	require.Empty(t, sess.RefreshToken)
	require.Nil(t, sess.User)
}

func TestStore_SetTokens_KeepsAliasInSync(t *testing.T) {
	s, kv := newStore(t)

	require.NoError(t, s.SetTokens("a1", "r1"))
	require.NoError(t, s.SetTokens("a2", ""))

	for _, key := range []string{session.KeyToken, session.KeyAuthToken} {
		v, err := kv.Get(key)
		require.NoError(t, err)
		require.Equal(t, "a2", v)
	}

	refresh, err := s.RefreshToken()
	require.NoError(t, err)
	require.Equal(t, "r1", refresh)
}

func TestStore_AccessToken_LegacyAlias(t *testing.T) {
	s, kv := newStore(t)
	require.NoError(t, kv.Set(session.KeyAuthToken, "legacy"))

	access, err := s.AccessToken()
	require.NoError(t, err)
	require.Equal(t, "legacy", access)
}

func TestStore_UserRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	p := &token.UserProfile{ID: "42", Name: "Alice", Role: "Admin", ExpiresAt: 1700000000}

	require.NoError(t, s.SetUser(p))
	got, err := s.User()
	require.NoError(t, err)
	require.Equal(t, p, got)

	require.NoError(t, s.SetUser(nil))
	got, err = s.User()
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStore_CorruptUser(t *testing.T) {
	s, kv := newStore(t)
	require.NoError(t, s.SetTokens("a1", "r1"))
	require.NoError(t, kv.Set(session.KeyUser, "{not json"))

	_, err := s.User()
	require.ErrorIs(t, err, errs.ErrInvalidProfile)

	sess, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, "a1", sess.AccessToken)
	require.Nil(t, sess.User)
}

func TestStore_Clear(t *testing.T) {
	s, kv := newStore(t)
	require.NoError(t, s.SetTokens("a1", "r1"))
	require.NoError(t, s.SetUser(&token.UserProfile{ID: "1"}))

	require.NoError(t, s.Clear())

	for _, key := range session.Keys {
		_, err := kv.Get(key)
		require.ErrorIs(t, err, errs.ErrNotFound, key)
	}
}
