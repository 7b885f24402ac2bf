package config

import (
	"strings"
	"time"
)

// DefaultAPIURLs are the protocol/host variants of the same logical backend, in probe order.
var DefaultAPIURLs = []string{
	"https://localhost:7240/api",
	"http://localhost:7240/api",
	"https://127.0.0.1:7240/api",
	"http://127.0.0.1:7240/api",
}

type ConnectionConfig interface {
	GetAPIURLs() []string
	GetProbeTimeout() time.Duration
	GetRequestTimeout() time.Duration
	GetRetryDelay() time.Duration
	GetMaxAttempts() int
	GetHealthCheckInterval() time.Duration
}

type Connection struct {
	vals values
}

var _ ConnectionConfig = Connection{}

// GetAPIURLs returns the candidate base URLs without trailing slashes.
func (c Connection) GetAPIURLs() []string {
	urls := make([]string, 0, len(c.vals.APIURLs))
	for _, u := range c.vals.APIURLs {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func (c Connection) GetProbeTimeout() time.Duration {
	return parseDuration(c.vals.ProbeTimeout, 5*time.Second)
}

func (c Connection) GetRequestTimeout() time.Duration {
	return parseDuration(c.vals.RequestTimeout, 15*time.Second)
}

func (c Connection) GetRetryDelay() time.Duration {
	return parseDuration(c.vals.RetryDelay, time.Second)
}

func (c Connection) GetMaxAttempts() int {
	return c.vals.MaxAttempts
}

func (c Connection) GetHealthCheckInterval() time.Duration {
	return parseDuration(c.vals.HealthCheckInterval, time.Minute)
}
