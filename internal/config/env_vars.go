package config

import (
	"strings"
	"time"
)

type ClientConfig interface {
	GetAppName() string
	GetEnv() string
	GetLocale() string
	GetLogLevel() string
}

type EnvVars struct {
	vals values
}

var _ ClientConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return e.vals.AppName
}

func (e EnvVars) GetEnv() string {
	if e.vals.Env == "" {
		return "DEV"
	}
	return e.vals.Env
}

func (e EnvVars) GetLocale() string {
	return e.vals.Locale
}

func (e EnvVars) GetLogLevel() string {
	return strings.ToLower(e.vals.LogLevel)
}

// parseDuration returns fallback when value is empty, malformed or not positive.
func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
