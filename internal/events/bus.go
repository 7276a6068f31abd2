package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	ferrors "git.home.luguber.info/inful/buildrunner/internal/foundation/errors"
)

// Filter selects the events a subscription receives. A nil Filter matches all.
type Filter func(Event) bool

// ForBuild matches the events of one build.
func ForBuild(buildID int64) Filter {
	return func(e Event) bool { return e.BuildID == buildID }
}

// Bus is a small in-process event bus feeding live views (SSE, CLI).
//
// Publish blocks until each matching subscriber has accepted the event or the
// context is done. Callers bound it through BestEffort. The bus is not durable.
type Bus struct {
	mu        sync.RWMutex
	subs      map[uint64]*subscription
	nextID    atomic.Uint64
	isClosed  atomic.Bool
	closeOnce sync.Once
}

type subscription struct {
	ch     chan Event
	filter Filter
	once   sync.Once
}

func (s *subscription) close() { s.once.Do(func() { close(s.ch) }) }

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscription)}
}

// Subscribe registers a subscription with the given channel buffer.
// The returned function unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int, filter Filter) (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, buffer), filter: filter}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isClosed.Load() {
		sub.close()
		return sub.ch, func() {}
	}

	id := b.nextID.Add(1)
	b.subs[id] = sub

	var unsubOnce sync.Once
	return sub.ch, func() {
		unsubOnce.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			sub.close()
		})
	}
}

// SubscriberCount returns the number of active subscriptions.
//
// This is primarily intended for tests and diagnostics.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers evt to all matching subscribers.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if b.isClosed.Load() {
		return ferrors.PublishError("event bus is closed").Build()
	}

	// Held for the whole delivery so no channel is closed mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	var errs []error
	for _, s := range b.subs {
		if s.filter != nil && !s.filter(evt) {
			continue
		}
		select {
		case s.ch <- evt:
		case <-ctx.Done():
			errs = append(errs, ferrors.PublishError("event delivery canceled").
				WithCause(ctx.Err()).
				WithContext("event", string(evt.Type)).
				Build())
		}
	}
	return errors.Join(errs...)
}

// Close closes the bus and all subscription channels.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.isClosed.Store(true)

		b.mu.Lock()
		defer b.mu.Unlock()
		for id, s := range b.subs {
			s.close()
			delete(b.subs, id)
		}
	})
}
