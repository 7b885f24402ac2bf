package storage

import (
	"github.com/google/uuid"
)

// Store is one context's handle on a Medium. It is safe for concurrent use.
type Store struct {
	id     string
	medium *Medium
}

func newStore(m *Medium) *Store {
	return &Store{
		id:     uuid.New().String(),
		medium: m,
	}
}

// ID identifies the handle as the Source of the changes it writes.
func (s *Store) ID() string {
	return s.id
}

// Get returns errors.ErrNotFound when key is absent.
func (s *Store) Get(key string) (string, error) {
	return s.medium.load(key)
}

func (s *Store) Set(key, value string) error {
	return s.medium.save(s.id, key, value)
}

func (s *Store) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.medium.remove(s.id, keys...)
}

// Watch registers fn for writes made through other handles on the same medium.
// Changes are delivered in order on a dedicated goroutine. The returned func
// stops delivery and may be called more than once.
func (s *Store) Watch(fn func(Change)) (cancel func()) {
	w := newWatcher(s.id, fn)
	if !s.medium.addWatcher(w) {
		return func() {}
	}
	go w.run()
	return func() { s.medium.removeWatcher(w) }
}
