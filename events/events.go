// Package events fans workflow notifications out to subscribers.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrBusClosed indicates the event bus has been stopped.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrChannelFull indicates the event queue cannot accept more events.
	ErrChannelFull = errors.New("event channel is full")
	// ErrNoHandler indicates no handlers are registered for the event type.
	ErrNoHandler = errors.New("no handlers registered for event type")
)

// Event types published by the engine and the resolver.
const (
	TypeStageCompleted     = "stage_completed"
	TypeComplaintProcessed = "complaint_processed"
	TypeComplaintEscalated = "complaint_escalated"
)

// Event is a notification about one complaint.
type Event struct {
	Type        string                 `json:"type"`
	ComplaintID string                 `json:"complaint_id"`
	Data        map[string]interface{} `json:"data,omitempty"`
	OccurredAt  time.Time              `json:"occurred_at"`
}

// Handler reacts to events.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus dispatches events to subscribers, asynchronously through a bounded
// queue or synchronously with PublishSync.
type Bus struct {
	mu         sync.RWMutex
	handlers   map[string][]Handler
	eventCh    chan Event
	errHandler func(event Event, err error)
	logger     *zap.Logger
	syncWait   time.Duration
	wg         sync.WaitGroup
	closeMu    sync.RWMutex
	closed     bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the queue size of asynchronous publishing.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.eventCh = make(chan Event, size)
		}
	}
}

// WithErrorHandler replaces the handler that receives asynchronous handler errors.
func WithErrorHandler(handler func(event Event, err error)) Option {
	return func(b *Bus) {
		if handler != nil {
			b.errHandler = handler
		}
	}
}

// WithLogger sets the logger of the default error handler.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSyncTimeout bounds PublishSync. Defaults to five seconds.
func WithSyncTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.syncWait = d
		}
	}
}

// NewBus starts a Bus. Call Stop to release its goroutine.
func NewBus(options ...Option) *Bus {
	b := &Bus{
		handlers: make(map[string][]Handler),
		eventCh:  make(chan Event, 100),
		logger:   zap.NewNop(),
		syncWait: 5 * time.Second,
	}
	for _, option := range options {
		option(b)
	}
	if b.errHandler == nil {
		b.errHandler = b.logError
	}

	b.wg.Add(1)
	go b.loop()
	return b
}

// Subscribe registers handler for eventType.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeFunc registers fn for eventType.
func (b *Bus) SubscribeFunc(eventType string, fn func(ctx context.Context, event Event) error) {
	b.Subscribe(eventType, HandlerFunc(fn))
}

// HasSubscribers reports whether eventType has at least one handler.
func (b *Bus) HasSubscribers(eventType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType]) > 0
}

// Publish queues event for asynchronous delivery. It never blocks.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	if !b.HasSubscribers(event.Type) {
		return ErrNoHandler
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	select {
	case b.eventCh <- event:
		return nil
	default:
		return ErrChannelFull
	}
}

// PublishSync delivers event to every handler and returns their errors.
func (b *Bus) PublishSync(ctx context.Context, event Event) []error {
	b.closeMu.RLock()
	closed := b.closed
	b.closeMu.RUnlock()
	if closed {
		return []error{ErrBusClosed}
	}

	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()
	if len(handlers) == 0 {
		return []error{ErrNoHandler}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, b.syncWait)
	defer cancel()
	return dispatch(ctx, handlers, event)
}

// Stop discards queued events, waits for in-flight deliveries and closes
// the bus. It is safe to call more than once.
func (b *Bus) Stop() {
	b.closeMu.Lock()
	if !b.closed {
		b.closed = true
		for len(b.eventCh) > 0 {
			<-b.eventCh
		}
		close(b.eventCh)
	}
	b.closeMu.Unlock()

	b.wg.Wait()
}

func (b *Bus) loop() {
	defer b.wg.Done()

	for event := range b.eventCh {
		b.mu.RLock()
		handlers := b.handlers[event.Type]
		b.mu.RUnlock()

		for _, err := range dispatch(context.Background(), handlers, event) {
			b.errHandler(event, err)
		}
	}
}

// dispatch runs handlers concurrently and collects their errors.
func dispatch(ctx context.Context, handlers []Handler, event Event) []error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			if err := h.Handle(ctx, event); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(h)
	}
	wg.Wait()
	return errs
}

func (b *Bus) logError(event Event, err error) {
	b.logger.Error("event handler failed",
		zap.String("type", event.Type),
		zap.String("complaint_id", event.ComplaintID),
		zap.Error(err))
}
