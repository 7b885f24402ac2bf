package config

import "time"

type SessionConfig interface {
	GetExpiryBuffer() time.Duration
	GetRefreshLead() time.Duration
	GetRefreshTimeout() time.Duration
	GetGoogleClientID() string
}

type Session struct {
	vals values
}

var _ SessionConfig = Session{}

// GetExpiryBuffer is how long before exp a token is already treated as expired.
func (s Session) GetExpiryBuffer() time.Duration {
	return parseDuration(s.vals.ExpiryBuffer, 2*time.Minute)
}

// GetRefreshLead is how long before exp the auto-refresh timer fires.
func (s Session) GetRefreshLead() time.Duration {
	return parseDuration(s.vals.RefreshLead, 5*time.Minute)
}

func (s Session) GetRefreshTimeout() time.Duration {
	return parseDuration(s.vals.RefreshTimeout, 30*time.Second)
}

func (s Session) GetGoogleClientID() string {
	return s.vals.GoogleClientID
}
