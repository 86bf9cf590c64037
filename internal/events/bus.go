// Package events is an in-memory publish/subscribe bus with a bounded
// history for polling clients.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types.
const (
	SandwichCreated      = "sandwich.created"
	ForagingStarted      = "foraging.started"
	ForagingCompleted    = "foraging.completed"
	ValidationScored     = "validation.scored"
	IngredientIdentified = "ingredient.identified"
	SessionStateChanged  = "session.state_changed"
	PipelineStage        = "pipeline.stage"
)

// DefaultHistory is the number of events kept when no size is given.
const DefaultHistory = 1000

// Event is one published event.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler processes an event.
type Handler func(Event)

type subscription struct {
	id        string
	eventType string
	handler   Handler
}

// Bus broadcasts events to subscribers. It is safe for concurrent use.
type Bus struct {
	mu         sync.RWMutex
	subs       []subscription
	history    []Event
	maxHistory int
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistory sets how many events are retained.
func WithHistory(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxHistory = n
		}
	}
}

// WithLogger sets the logger used for subscriber failures.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock overrides event timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// New returns an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		maxHistory: DefaultHistory,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for eventType, or for every type when
// eventType is empty. It returns an id for Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	b.subs = append(b.subs, subscription{id: id, eventType: eventType, handler: handler})
	return id
}

// Unsubscribe removes a subscription and reports whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish records the event and calls matching subscribers in
// subscription order. A panicking subscriber is logged and skipped.
func (b *Bus) Publish(eventType string, data map[string]any) {
	ev := Event{ID: uuid.NewString(), Type: eventType, Data: data, Timestamp: b.now()}

	b.mu.Lock()
	if len(b.history) >= b.maxHistory {
		b.history = append(b.history[:0:0], b.history[len(b.history)-b.maxHistory+1:]...)
	}
	b.history = append(b.history, ev)
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.eventType == "" || s.eventType == eventType {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()

	for _, s := range subs {
		b.invoke(s, ev)
	}
}

func (b *Bus) invoke(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				zap.String("event_type", ev.Type),
				zap.String("subscription", s.id),
				zap.Any("panic", r))
		}
	}()
	s.handler(ev)
}

// Since returns events newer than t, oldest first, optionally of one type.
func (b *Bus) Since(t time.Time, eventType string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, ev := range b.history {
		if ev.Timestamp.After(t) && (eventType == "" || ev.Type == eventType) {
			out = append(out, ev)
		}
	}
	return out
}

// Recent returns up to n events, most recent first, optionally of one type.
func (b *Bus) Recent(n int, eventType string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for i := len(b.history) - 1; i >= 0 && len(out) < n; i-- {
		if ev := b.history[i]; eventType == "" || ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Len returns the number of retained events.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}

// Clear drops the history. Subscriptions are kept.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
}

// SubscriberCount counts subscriptions for eventType, or all when empty.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if eventType == "" {
		return len(b.subs)
	}
	n := 0
	for _, s := range b.subs {
		if s.eventType == eventType {
			n++
		}
	}
	return n
}
