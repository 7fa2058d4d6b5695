package usecase

import (
	"context"
	"log/slog"
	"sync"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
	"github.com/atvirokodosprendimai/surveysync/internal/core/ports"
)

type EventHandler func(domain.Event)

// EventBus fans sync events out to in-process subscribers and to durable
// sinks (journal, log, notification webhook). Sink failures are logged and
// never block the caller's state transition.
type EventBus struct {
	sinks  []ports.EventSink
	logger *slog.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]EventHandler
}

func NewEventBus(logger *slog.Logger, sinks ...ports.EventSink) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{sinks: sinks, logger: logger, subs: make(map[int]EventHandler)}
}

func (b *EventBus) Subscribe(fn EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *EventBus) Emit(ctx context.Context, event domain.Event) {
	if b == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, sink := range b.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			b.logger.Warn("event sink publish failed", "event", event.Type, "error", err)
		}
	}

	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, event)
	}
}

func (b *EventBus) dispatch(h EventHandler, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", event.Type, "panic", r)
		}
	}()
	h(event)
}
