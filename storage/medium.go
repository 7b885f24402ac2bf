// Package storage provides the durable key-value medium shared by every client
// context in a process. Each context opens its own handle; writes made through one
// handle are delivered as change notifications to the watchers of every other handle.
package storage

import (
	"sync"

	errs "github.com/jrsteele09/go-storemap-client/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Backend persists string values by key.
type Backend interface {
	Load(key string) (string, bool, error)
	Save(key, value string) error
	Remove(keys ...string) error
	Close() error
}

// Change describes a write made through another handle.
type Change struct {
	Key     string
	Value   string
	Deleted bool
	Source  string
}

// Medium is the shared storage all handles write through.
type Medium struct {
	backend Backend

	mu       sync.RWMutex
	watchers map[*watcher]struct{}
	closed   bool
}

func NewMedium(backend Backend) *Medium {
	return &Medium{
		backend:  backend,
		watchers: make(map[*watcher]struct{}),
	}
}

// NewMemoryMedium returns a medium over a fresh in-memory backend.
func NewMemoryMedium() *Medium {
	return NewMedium(NewMemoryBackend())
}

// Open returns a new handle on the medium.
func (m *Medium) Open() *Store {
	return newStore(m)
}

// Close stops every watcher and closes the backend.
func (m *Medium) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	watchers := m.watchers
	m.watchers = make(map[*watcher]struct{})
	m.mu.Unlock()

	for w := range watchers {
		w.stop()
	}
	return m.backend.Close()
}

func (m *Medium) load(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", errs.ErrStorageClosed
	}

	value, ok, err := m.backend.Load(key)
	if err != nil {
		return "", errors.Wrapf(err, "[Medium.load] key %s", key)
	}
	if !ok {
		return "", errs.ErrNotFound
	}
	return value, nil
}

func (m *Medium) save(source, key, value string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errs.ErrStorageClosed
	}

	if err := m.backend.Save(key, value); err != nil {
		return errors.Wrapf(err, "[Medium.save] key %s", key)
	}
	m.notify(Change{Key: key, Value: value, Source: source})
	return nil
}

func (m *Medium) remove(source string, keys ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errs.ErrStorageClosed
	}

	if err := m.backend.Remove(keys...); err != nil {
		return errors.Wrap(err, "[Medium.remove]")
	}
	for _, key := range keys {
		m.notify(Change{Key: key, Deleted: true, Source: source})
	}
	return nil
}

// notify must be called with m.mu held.
func (m *Medium) notify(c Change) {
	for w := range m.watchers {
		if w.handle == c.Source {
			continue
		}
		w.push(c)
	}
}

func (m *Medium) addWatcher(w *watcher) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.watchers[w] = struct{}{}
	return true
}

func (m *Medium) removeWatcher(w *watcher) {
	m.mu.Lock()
	delete(m.watchers, w)
	m.mu.Unlock()
	w.stop()
}

// watcher delivers changes to fn in order on its own goroutine.
type watcher struct {
	handle string
	fn     func(Change)

	mu    sync.Mutex
	queue []Change
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newWatcher(handle string, fn func(Change)) *watcher {
	return &watcher{
		handle: handle,
		fn:     fn,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (w *watcher) push(c Change) {
	w.mu.Lock()
	w.queue = append(w.queue, c)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *watcher) stop() {
	w.once.Do(func() { close(w.done) })
}

func (w *watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
		}

		for {
			w.mu.Lock()
			if len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			c := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()

			select {
			case <-w.done:
				return
			default:
			}
			w.deliver(c)
		}
	}
}

func (w *watcher) deliver(c Change) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("key", c.Key).Msg("storage watcher panicked")
		}
	}()
	w.fn(c)
}
