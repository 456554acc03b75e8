package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc handles one event.
type HandlerFunc func(ctx context.Context, event Event) error

// Bus is an asynchronous publish-subscribe hub. Subscribers never block
// publishers: every delivery runs on its own goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]handlerEntry),
		stopCh:   make(chan struct{}),
	}
}

// Subscribe registers a named handler for an event type.
func (b *Bus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handlerEntry{name: name, handler: handler})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler from an event type.
func (b *Bus) Unsubscribe(eventType EventType, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[eventType]
	filtered := handlers[:0:0]
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	b.handlers[eventType] = filtered
}

// Emit publishes an event to every subscriber without waiting.
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		return
	}

	handlers := b.handlers[event.Type]
	if len(handlers) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("emitting event")

	for _, h := range handlers {
		b.wg.Add(1)
		go func(h handlerEntry) {
			defer b.wg.Done()
			deliver(ctx, h, event)
		}(h)
	}
}

// EmitSync publishes an event and waits for every subscriber. It returns
// the first handler error.
func (b *Bus) EmitSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		return nil
	}
	handlers := append([]handlerEntry(nil), b.handlers[event.Type]...)
	b.mu.RUnlock()

	var (
		firstErr error
		errOnce  sync.Once
		wg       sync.WaitGroup
	)
	for _, h := range handlers {
		wg.Add(1)
		go func(h handlerEntry) {
			defer wg.Done()
			if err := deliver(ctx, h, event); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}(h)
	}
	wg.Wait()
	return firstErr
}

func deliver(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = h.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
	return err
}

// Stop rejects further events and waits for in-flight deliveries.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.stopCh)
	b.mu.Unlock()

	b.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh is closed when the Bus stops.
func (b *Bus) StopCh() <-chan struct{} {
	return b.stopCh
}

// HandlerCount returns the number of subscribers for an event type.
func (b *Bus) HandlerCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
