package token_test

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	errs "github.com/jrsteele09/go-storemap-client/internal/errors"
	"github.com/jrsteele09/go-storemap-client/token"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sign(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("not-checked-client-side"))
	require.NoError(t, err)
	return raw
}

func newCodec() *token.Codec {
	return token.NewCodec(token.WithNowFunc(func() time.Time { return fixedNow }))
}

func TestCodec_Profile_ClaimMapping(t *testing.T) {
	raw := sign(t, jwtlib.MapClaims{
		"nameid":      "42",
		"given_name":  "Alice",
		"unique_name": "alice",
		"email":       "alice@example.com",
		"aud":         "storemap",
		"iss":         "storemap-api",
		"iat":         fixedNow.Unix(),
		"exp":         fixedNow.Add(time.Hour).Unix(),

		token.RoleClaimURI: []any{"Admin", "Editor"},
	})

	p, err := newCodec().Profile(raw)
	require.NoError(t, err)
	require.Equal(t, "42", p.ID)
	require.Equal(t, "Alice", p.Name)
	require.Equal(t, "alice", p.UserName)
	require.Equal(t, "alice@example.com", p.Email)
	require.Equal(t, "Admin,Editor", p.Role)
	require.Equal(t, []string{"Admin", "Editor"}, p.Roles())
	require.True(t, p.HasRole("editor"))
	require.False(t, p.HasRole("Owner"))
	require.Equal(t, "storemap", p.Audience)
	require.Equal(t, "storemap-api", p.Issuer)
	require.Equal(t, fixedNow.Unix(), p.IssuedAt)
	require.Equal(t, fixedNow.Add(time.Hour).Unix(), p.ExpiresAt)
}

func TestCodec_Profile_SubWinsOverNameID(t *testing.T) {
	raw := sign(t, jwtlib.MapClaims{"sub": "s-1", "nameid": "n-1", "name": "Bob", "given_name": "Robert"})

	p, err := newCodec().Profile(raw)
	require.NoError(t, err)
	require.Equal(t, "s-1", p.ID)
	require.Equal(t, "Bob", p.Name)
	require.Equal(t, "Bob", p.DisplayName())
}

func TestCodec_Profile_Undecodable(t *testing.T) {
	_, err := newCodec().Profile("not-a-jwt")
	require.ErrorIs(t, err, errs.ErrInvalidToken)

	_, err = newCodec().Profile("")
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestCodec_IsExpired_Buffer(t *testing.T) {
	c := newCodec()

	tests := []struct {
		name    string
		exp     time.Duration
		expired bool
	}{
		{"an hour left", time.Hour, false},
		{"just outside the buffer", 2*time.Minute + time.Second, false},
		{"exactly at the buffer", 2 * time.Minute, true},
		{"ninety seconds left", 90 * time.Second, true},
		{"already past", -time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := sign(t, jwtlib.MapClaims{"sub": "1", "exp": fixedNow.Add(tt.exp).Unix()})
			require.Equal(t, tt.expired, c.IsExpired(raw))
		})
	}
}

func TestCodec_IsExpired_EdgeCases(t *testing.T) {
	c := newCodec()

	require.True(t, c.IsExpired("garbage"))
	require.False(t, c.IsExpired(sign(t, jwtlib.MapClaims{"sub": "1"})))

	_, ok, err := c.ExpiresAt(sign(t, jwtlib.MapClaims{"sub": "1"}))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCodec_TimeUntilExpiry(t *testing.T) {
	c := newCodec()
	raw := sign(t, jwtlib.MapClaims{"exp": fixedNow.Add(time.Hour).Unix()})

	d, ok := c.TimeUntilExpiry(raw)
	require.True(t, ok)
	require.Equal(t, time.Hour, d)
}

func TestMergeProviderProfile_TokenWins(t *testing.T) {
	fromToken := &token.UserProfile{ID: "42", Name: "Alice", Email: "alice@corp.example"}
	provider := &token.UserProfile{
		ID:         "google-sub",
		Email:      "alice@gmail.example",
		Picture:    "https://img.example/alice.png",
		GivenName:  "Alice",
		FamilyName: "Liddell",
	}

	merged := token.MergeProviderProfile(fromToken, provider)
	require.Equal(t, "42", merged.ID)
	require.Equal(t, "alice@corp.example", merged.Email)
	require.Equal(t, "https://img.example/alice.png", merged.Picture)
	require.Equal(t, "Liddell", merged.FamilyName)

	require.Empty(t, fromToken.Picture)
	require.Equal(t, fromToken, token.MergeProviderProfile(fromToken, nil))
}

func TestCodec_ProviderProfile(t *testing.T) {
	credential := sign(t, jwtlib.MapClaims{
		"sub":         "g-1",
		"email":       "alice@gmail.example",
		"given_name":  "Alice",
		"family_name": "Liddell",
		"picture":     "https://img.example/alice.png",
	})

	p, err := newCodec().ProviderProfile(credential)
	require.NoError(t, err)
	require.Equal(t, "Alice", p.Name)
	require.Equal(t, "Liddell", p.FamilyName)

	_, err = newCodec().ProviderProfile("bogus")
	require.ErrorIs(t, err, errs.ErrInvalidCredential)
}
