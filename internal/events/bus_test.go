package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) (Event, bool) {
	t.Helper()
	select {
	case evt, ok := <-ch:
		return evt, ok
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no event received")
		return Event{}, false
	}
}

func TestBus_SubscribeReceives(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	bus.Emit(ctx, Event{Kind: TaskCompleted, TaskID: "t1", Status: "COMPLETED", Images: []string{"u"}})

	evt, ok := receive(t, ch)
	require.True(t, ok)
	assert.Equal(t, TaskCompleted, evt.Kind)
	assert.Equal(t, "t1", evt.TaskID)
	assert.NotEmpty(t, evt.ID, "event ID filled in")
	assert.False(t, evt.Timestamp.IsZero(), "event timestamp filled in")
	assert.Equal(t, []string{"u"}, evt.Images)
}

func TestBus_FanOut(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()
	ctx := context.Background()

	a, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	bus.Emit(ctx, Event{Kind: TaskCreated, TaskID: "t2"})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		evt, ok := receive(t, ch)
		require.True(t, ok, name)
		assert.Equal(t, "t2", evt.TaskID, name)
	}
}

func TestBus_EmitWithoutSubscribers(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()
	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), Event{Kind: TaskFailed, TaskID: "t3"})
	})
}

func TestBus_CloseEndsSubscription(t *testing.T) {
	bus := NewBus(nil)
	ch, err := bus.Subscribe(context.Background())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, ok := receive(t, ch)
	assert.False(t, ok, "expected closed channel")
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard.Emit(context.Background(), Event{Kind: TaskUpdated})
	})
}
