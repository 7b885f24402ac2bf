// Package events is the in-process notification bus shared by the client
// components. Listeners are passive: they observe state, they never drive it.
package events

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Topic string

const (
	// UserDataUpdated fires after every session commit or clear. Payload is nil.
	UserDataUpdated Topic = "userDataUpdated"
	// ConnectionStatusChanged carries a connection.StatusEvent.
	ConnectionStatusChanged Topic = "connectionStatusChanged"
)

type Event struct {
	Topic   Topic
	Payload any
}

type Handler func(Event)

// Bus delivers events synchronously, in subscription order, on the publisher's goroutine.
type Bus struct {
	mu     sync.Mutex
	subs   map[Topic]map[uint64]Handler
	nextID uint64
	timers map[*time.Timer]struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{
		subs:   make(map[Topic]map[uint64]Handler),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Subscribe registers h for topic. The returned func unsubscribes and is idempotent.
func (b *Bus) Subscribe(topic Topic, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]Handler)
	}
	b.subs[topic][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := b.subs[topic]
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, subs[id])
	}
	b.mu.Unlock()

	ev := Event{Topic: topic, Payload: payload}
	for _, h := range handlers {
		dispatch(h, ev)
	}
}

// PublishAfter publishes once d has elapsed unless the bus is closed first.
func (b *Bus) PublishAfter(d time.Duration, topic Topic, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		b.mu.Lock()
		delete(b.timers, t)
		b.mu.Unlock()
		b.Publish(topic, payload)
	})
	b.timers[t] = struct{}{}
}

// Close cancels pending delayed events and drops every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for t := range b.timers {
		t.Stop()
	}
	b.timers = nil
	b.subs = make(map[Topic]map[uint64]Handler)
}

func dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("topic", string(ev.Topic)).Msg("event handler panicked")
		}
	}()
	h(ev)
}
