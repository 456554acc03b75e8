package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitSyncDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	var calls atomic.Int32
	for _, name := range []string{"a", "b"} {
		bus.Subscribe(EventUserLogin, name, func(ctx context.Context, e Event) error {
			calls.Add(1)
			return nil
		})
	}

	assert.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventUserLogin}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmitSyncReturnsHandlerError(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	boom := errors.New("boom")
	bus.Subscribe(EventScoreSubmitted, "fail", func(ctx context.Context, e Event) error { return boom })

	assert.ErrorIs(t, bus.EmitSync(context.Background(), Event{Type: EventScoreSubmitted}), boom)
}

func TestHandlerPanicIsContained(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(EventShutdown, "panics", func(ctx context.Context, e Event) error { panic("x") })

	assert.NotPanics(t, func() {
		_ = bus.EmitSync(context.Background(), Event{Type: EventShutdown})
		bus.Emit(context.Background(), Event{Type: EventShutdown})
		bus.Stop()
	})
}

func TestUnsubscribeAndStop(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(EventChatMessage, "a", func(ctx context.Context, e Event) error { return nil })
	bus.Subscribe(EventChatMessage, "b", func(ctx context.Context, e Event) error { return nil })
	bus.Unsubscribe(EventChatMessage, "a")
	assert.Equal(t, 1, bus.HandlerCount(EventChatMessage))

	bus.Stop()
	bus.Stop()
	select {
	case <-bus.StopCh():
	default:
		t.Fatal("stop channel not closed")
	}
}
