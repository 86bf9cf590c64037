package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tick returns a clock that advances one second per call.
func tick(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestPublishDeliversToMatchingSubscribers(t *testing.T) {
	b := New()
	var created, all []string
	b.Subscribe(SandwichCreated, func(e Event) { created = append(created, e.Data["name"].(string)) })
	b.Subscribe("", func(e Event) { all = append(all, e.Type) })

	b.Publish(SandwichCreated, map[string]any{"name": "The Squeeze"})
	b.Publish(ForagingStarted, map[string]any{"query": "tides"})

	assert.Equal(t, []string{"The Squeeze"}, created)
	assert.Equal(t, []string{SandwichCreated, ForagingStarted}, all)
	assert.Equal(t, 1, b.SubscriberCount(SandwichCreated))
	assert.Equal(t, 2, b.SubscriberCount(""))
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	b := New()
	called := false
	b.Subscribe(ValidationScored, func(Event) { panic("boom") })
	b.Subscribe(ValidationScored, func(Event) { called = true })

	require.NotPanics(t, func() { b.Publish(ValidationScored, nil) })
	assert.True(t, called)
	assert.Equal(t, 1, b.Len())
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	n := 0
	id := b.Subscribe(SessionStateChanged, func(Event) { n++ })
	b.Publish(SessionStateChanged, nil)
	assert.True(t, b.Unsubscribe(id))
	assert.False(t, b.Unsubscribe(id))
	b.Publish(SessionStateChanged, nil)
	assert.Equal(t, 1, n)
}

func TestHistoryIsBounded(t *testing.T) {
	b := New(WithHistory(3))
	for i := 0; i < 5; i++ {
		b.Publish(PipelineStage, map[string]any{"i": i})
	}
	require.Equal(t, 3, b.Len())
	recent := b.Recent(10, "")
	require.Len(t, recent, 3)
	assert.Equal(t, 4, recent[0].Data["i"])
	assert.Equal(t, 2, recent[2].Data["i"])
}

func TestSinceAndRecentFilter(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New(WithClock(tick(start)))
	for i := 0; i < 4; i++ {
		typ := ForagingStarted
		if i%2 == 1 {
			typ = ForagingCompleted
		}
		b.Publish(typ, map[string]any{"n": fmt.Sprint(i)})
	}

	since := b.Since(start.Add(2*time.Second), "")
	require.Len(t, since, 2)
	assert.Equal(t, "2", since[0].Data["n"])

	completed := b.Since(start, ForagingCompleted)
	assert.Len(t, completed, 2)

	latest := b.Recent(1, ForagingStarted)
	require.Len(t, latest, 1)
	assert.Equal(t, "2", latest[0].Data["n"])

	b.Clear()
	assert.Zero(t, b.Len())
	assert.Equal(t, 0, len(b.Recent(5, "")))
}
