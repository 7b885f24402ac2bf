// Package token decodes access tokens issued by the backend. Signatures are never
// verified here: the client holds no key, so decoded claims are for display and
// expiry scheduling only.
package token

import (
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	errs "github.com/jrsteele09/go-storemap-client/internal/errors"
	"github.com/pkg/errors"
)

// DefaultExpiryBuffer is how long before exp a token is already treated as expired.
const DefaultExpiryBuffer = 2 * time.Minute

// Codec decodes JWT payloads and classifies expiry.
type Codec struct {
	nowFunc func() time.Time
	buffer  time.Duration
	parser  *jwtlib.Parser
}

type Option func(*Codec)

// WithNowFunc overrides the clock. Used by tests.
func WithNowFunc(fn func() time.Time) Option {
	return func(c *Codec) {
		c.nowFunc = fn
	}
}

func WithExpiryBuffer(d time.Duration) Option {
	return func(c *Codec) {
		c.buffer = d
	}
}

func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		nowFunc: time.Now,
		buffer:  DefaultExpiryBuffer,
		parser:  jwtlib.NewParser(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the codec's clock reading.
func (c *Codec) Now() time.Time {
	return c.nowFunc()
}

func (c *Codec) ExpiryBuffer() time.Duration {
	return c.buffer
}

// Claims decodes the payload without verifying the signature.
func (c *Codec) Claims(raw string) (jwtlib.MapClaims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errs.ErrInvalidToken
	}
	tok, _, err := c.parser.ParseUnverified(raw, jwtlib.MapClaims{})
	if err != nil {
		return nil, errs.Wrapf(errs.ErrInvalidToken, "%v", err)
	}
	claims, ok := tok.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errs.ErrInvalidToken
	}
	return claims, nil
}

// Profile derives the user profile from the token's claims.
func (c *Codec) Profile(raw string) (*UserProfile, error) {
	claims, err := c.Claims(raw)
	if err != nil {
		return nil, errors.Wrap(err, "[Codec.Profile]")
	}
	return ProfileFromClaims(claims), nil
}

// ProviderProfile decodes a federated provider credential (an OpenID ID token).
func (c *Codec) ProviderProfile(credential string) (*UserProfile, error) {
	claims, err := c.Claims(credential)
	if err != nil {
		return nil, errors.Wrap(errs.ErrInvalidCredential, err.Error())
	}
	return ProfileFromClaims(claims), nil
}

// ExpiresAt returns the exp claim. ok is false when the token carries no exp.
func (c *Codec) ExpiresAt(raw string) (exp time.Time, ok bool, err error) {
	claims, err := c.Claims(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	nd, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, false, errs.Wrapf(errs.ErrInvalidToken, "exp: %v", err)
	}
	if nd == nil {
		return time.Time{}, false, nil
	}
	return nd.Time, true, nil
}

// IsExpired reports whether now >= exp - buffer. An undecodable token is expired;
// a token without exp never expires.
func (c *Codec) IsExpired(raw string) bool {
	exp, ok, err := c.ExpiresAt(raw)
	if err != nil {
		return true
	}
	if !ok {
		return false
	}
	return !c.nowFunc().Before(exp.Add(-c.buffer))
}

// TimeUntilExpiry is negative once exp has passed. ok is false when there is no exp.
func (c *Codec) TimeUntilExpiry(raw string) (time.Duration, bool) {
	exp, ok, err := c.ExpiresAt(raw)
	if err != nil || !ok {
		return 0, false
	}
	return exp.Sub(c.nowFunc()), true
}
