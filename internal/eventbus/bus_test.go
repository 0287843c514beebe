package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(2)
	defer unsubC()

	Publish(b, TypeRunStarted, RunData{Session: "main"})

	ea := <-a
	ec := <-c
	assert.Equal(t, TypeRunStarted, ea.Type)
	assert.Equal(t, "main", ec.Data.(RunData).Session)
	assert.False(t, ea.Time.IsZero())

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)

	// publishing after an unsubscribe must not panic
	Publish(b, TypeRunFinished, nil)
	require.Len(t, c, 1)
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()
	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: TypeSessionEvicted})
	}
	assert.Len(t, ch, 1)
}

func TestPublishNilBus(t *testing.T) {
	t.Parallel()
	assert.NotPanics(t, func() { Publish(nil, TypeRunStarted, nil) })
}
