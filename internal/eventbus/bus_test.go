package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefixSubscription(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	fails, unsubFails := b.Subscribe(4, "notifier.failed", "pipeline.cycle_failed")
	defer unsubFails()

	b.Publish(Event{Type: "notifier.sent"})
	b.Publish(Event{Type: "notifier.failed"})

	assert.Len(t, all, 2)
	assert.Len(t, fails, 1)
	ev := <-fails
	assert.Equal(t, "notifier.failed", ev.Type)
	assert.False(t, ev.Time.IsZero())
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	assert.EqualValues(t, 1, b.Dropped())
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: "after"})
}
