package connection

import (
	"strconv"
	"time"

	errs "github.com/jrsteele09/go-storemap-client/internal/errors"
	"github.com/rs/zerolog/log"
)

type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusConnected Status = "connected"
	StatusFailed    Status = "failed"
	StatusOffline   Status = "offline"
)

// Persisted keys.
const (
	KeyWorkingURL   = "workingApiUrl"
	KeyLastSuccess  = "lastApiSuccess"
	KeyFailureCount = "apiFailureCount"
)

// State is a snapshot of the manager's connectivity view.
type State struct {
	Status              Status
	WorkingURL          string
	ConsecutiveFailures int
	LastSuccess         time.Time
	IsOnline            bool
}

// StatusEvent is the payload of events.ConnectionStatusChanged.
type StatusEvent struct {
	Status   Status `json:"status"`
	URL      string `json:"url"`
	Failures int    `json:"failures"`
}

func (s State) event() StatusEvent {
	return StatusEvent{Status: s.Status, URL: s.WorkingURL, Failures: s.ConsecutiveFailures}
}

// KV is the persisted medium for connection state.
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

func loadState(kv KV, fallbackURL string) State {
	st := State{
		Status:     StatusUnknown,
		WorkingURL: fallbackURL,
		IsOnline:   true,
	}

	if v, ok := readKey(kv, KeyWorkingURL); ok && v != "" {
		st.WorkingURL = v
	}
	if v, ok := readKey(kv, KeyLastSuccess); ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			st.LastSuccess = time.UnixMilli(ms)
		} else {
			log.Warn().Str("value", v).Msg("ignoring malformed lastApiSuccess")
		}
	}
	if v, ok := readKey(kv, KeyFailureCount); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			st.ConsecutiveFailures = n
		} else {
			log.Warn().Str("value", v).Msg("ignoring malformed apiFailureCount")
		}
	}
	return st
}

func readKey(kv KV, key string) (string, bool) {
	v, err := kv.Get(key)
	if err != nil {
		if !errs.Is(err, errs.ErrNotFound) {
			log.Err(err).Str("key", key).Msg("unable to read connection state")
		}
		return "", false
	}
	return v, true
}

func writeKey(kv KV, key, value string) {
	if err := kv.Set(key, value); err != nil {
		log.Err(err).Str("key", key).Msg("unable to persist connection state")
	}
}
