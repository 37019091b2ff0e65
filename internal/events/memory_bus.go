package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNoSubscribers is returned when an event is published with nobody listening.
var ErrNoSubscribers = errors.New("no subscribers for event bus")

// MemoryBus is an in-process bus with retry. Each subscriber receives every
// event on its own goroutine unless synchronous delivery is enabled.
type MemoryBus struct {
	mu          sync.Mutex
	handlers    []Handler
	maxRetries  int
	backoff     time.Duration
	synchronous bool
	logger      *slog.Logger
	wg          sync.WaitGroup
}

type MemoryOption func(*MemoryBus)

// WithRetry sets how many times a failed delivery is retried and the base
// delay; attempt n waits n*backoff.
func WithRetry(maxRetries int, backoff time.Duration) MemoryOption {
	return func(b *MemoryBus) {
		b.maxRetries = maxRetries
		b.backoff = backoff
	}
}

// WithSynchronousDelivery delivers inside Publish. Used by tests and the
// single-process mode.
func WithSynchronousDelivery() MemoryOption {
	return func(b *MemoryBus) { b.synchronous = true }
}

func WithLogger(l *slog.Logger) MemoryOption {
	return func(b *MemoryBus) { b.logger = l }
}

// NewMemoryBus creates a new bus
func NewMemoryBus(opts ...MemoryOption) *MemoryBus {
	b := &MemoryBus{
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe adds a handler for all events
func (b *MemoryBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish sends an event to all subscribers
func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	b.mu.Lock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.Unlock()

	if len(handlers) == 0 {
		return ErrNoSubscribers
	}

	for _, h := range handlers {
		if b.synchronous {
			b.deliver(ctx, h, ev)
			continue
		}
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			b.deliver(context.WithoutCancel(ctx), h, ev)
		}(h)
	}
	return nil
}

// Wait blocks until in-flight asynchronous deliveries finish.
func (b *MemoryBus) Wait() {
	b.wg.Wait()
}

// deliver handles retries and errors
func (b *MemoryBus) deliver(ctx context.Context, h Handler, ev Event) {
	for attempt := 0; ; attempt++ {
		err := Dispatch(ctx, h, ev)
		if err == nil {
			return
		}
		if attempt >= b.maxRetries {
			b.logger.Error("event permanently failed", "event", ev.Name(), "attempts", attempt+1, "err", err)
			return
		}
		b.logger.Warn("event delivery failed, retrying", "event", ev.Name(), "attempt", attempt+1, "err", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt+1) * b.backoff):
		}
	}
}
