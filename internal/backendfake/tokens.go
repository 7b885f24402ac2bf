package backendfake

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-storemap-client/token"
	"github.com/pkg/errors"
)

const (
	Issuer   = "storemap-backend"
	Audience = "storemap"

	refreshTokenBytes = 32
)

// hmacSigner signs and verifies HS256 access tokens.
type hmacSigner struct {
	secret []byte
}

func newHMACSigner(secret string) *hmacSigner {
	return &hmacSigner{secret: []byte(secret)}
}

func (h *hmacSigner) Sign(claims jwtlib.MapClaims) (string, error) {
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(h.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token with HMAC")
	}
	return signed, nil
}

func (h *hmacSigner) verificationKey(t *jwtlib.Token) (any, error) {
	if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return h.secret, nil
}

// accessClaims follows the ASP.NET identity claim names the client decodes.
func accessClaims(u *User, issuedAt time.Time, ttl time.Duration) jwtlib.MapClaims {
	claims := jwtlib.MapClaims{
		"iss":         Issuer,
		"aud":         Audience,
		"sub":         u.ID,
		"unique_name": u.UserName,
		"name":        u.Name,
		"iat":         issuedAt.Unix(),
		"exp":         issuedAt.Add(ttl).Unix(),
		"jti":         uuid.NewString(),
	}
	if u.Email != "" {
		claims["email"] = u.Email
	}
	if u.Picture != "" {
		claims["picture"] = u.Picture
	}
	switch len(u.Roles) {
	case 0:
	case 1:
		claims[token.RoleClaimURI] = u.Roles[0]
	default:
		claims[token.RoleClaimURI] = u.Roles
	}
	return claims
}

// newRefreshToken returns an opaque random string.
func newRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "failed to generate refresh token")
	}
	return hex.EncodeToString(b), nil
}

// IssueTokens signs an access token for the user and registers a new refresh token.
func (s *Server) IssueTokens(username string) (access, refresh string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(username)]
	if !ok {
		return "", "", errors.Errorf("unknown user %q", username)
	}
	return s.issueLocked(u)
}

func (s *Server) issueLocked(u *User) (string, string, error) {
	access, err := s.signer.Sign(accessClaims(u, s.nowFunc(), s.tokenTTL))
	if err != nil {
		return "", "", err
	}
	refresh, err := newRefreshToken()
	if err != nil {
		return "", "", err
	}
	s.refreshTokens[refresh] = strings.ToLower(u.UserName)
	return access, refresh, nil
}

// SignToken signs arbitrary claims with the server key.
func (s *Server) SignToken(claims jwtlib.MapClaims) (string, error) {
	return s.signer.Sign(claims)
}

// authorize validates the bearer token of r.
func (s *Server) authorize(authHeader string) (jwtlib.MapClaims, error) {
	scheme, raw, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || raw == "" {
		return nil, errors.New("missing bearer token")
	}
	claims := jwtlib.MapClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, s.signer.verificationKey,
		jwtlib.WithTimeFunc(s.nowFunc),
		jwtlib.WithIssuer(Issuer),
		jwtlib.WithAudience(Audience),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "invalid bearer token")
	}
	return claims, nil
}
