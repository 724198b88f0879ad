package events

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	MaxListeners       = 100
	MaxEventNameLength = 100
)

var (
	ErrInvalidEventName = errors.New("invalid event name")
	ErrNilHandler       = errors.New("handler must not be nil")
	ErrTooManyListeners = errors.New("too many listeners")
	ErrDestroyed        = errors.New("event bus destroyed")
)

type Error struct {
	Event string
	Err   error
}

func (e *Error) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("event bus: %v", e.Err)
	}
	return fmt.Sprintf("event bus %q: %v", e.Event, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Handler func(payload any)

type listener struct {
	id      uint64
	once    bool
	handler Handler
}

// Bus is a synchronous publish/subscribe hub. Handlers run on the emitting
// goroutine, in subscription order.
type Bus struct {
	logger zerolog.Logger

	mu        sync.Mutex
	listeners map[string][]listener
	nextID    uint64
	destroyed bool
}

type Option func(*Bus)

// WithLogger replaces the global logger the bus reports through.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger.With().Str("module", "events").Str("submodule", "bus").Logger()
	}
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{
		logger:    log.With().Str("module", "events").Str("submodule", "bus").Logger(),
		listeners: map[string][]listener{},
	}

	for _, opt := range opts {
		opt(b)
	}

	b.logger.Debug().Msg("initialized")
	return b
}

func validateEventName(event string) error {
	if event == "" {
		return &Error{Err: fmt.Errorf("%w: empty", ErrInvalidEventName)}
	}
	if len(event) > MaxEventNameLength {
		return &Error{Err: fmt.Errorf("%w: length %d (max: %d)", ErrInvalidEventName, len(event), MaxEventNameLength)}
	}
	return nil
}

// On subscribes handler to event. The returned function unsubscribes it.
func (b *Bus) On(event string, handler Handler) (func(), error) {
	return b.subscribe(event, handler, false)
}

// Once subscribes handler for the next emission of event only.
func (b *Bus) Once(event string, handler Handler) (func(), error) {
	return b.subscribe(event, handler, true)
}

func (b *Bus) subscribe(event string, handler Handler, once bool) (func(), error) {
	if err := validateEventName(event); err != nil {
		return nil, err
	}

	if handler == nil {
		return nil, &Error{Event: event, Err: ErrNilHandler}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return nil, &Error{Event: event, Err: ErrDestroyed}
	}

	if len(b.listeners[event]) >= MaxListeners {
		return nil, &Error{Event: event, Err: fmt.Errorf("%w (max: %d)", ErrTooManyListeners, MaxListeners)}
	}

	b.nextID++
	id := b.nextID
	b.listeners[event] = append(b.listeners[event], listener{
		id:      id,
		once:    once,
		handler: handler,
	})

	b.logger.Trace().Str("event", event).Bool("once", once).Msg("added listener")

	return func() {
		b.off(event, id)
	}, nil
}

func (b *Bus) off(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.listeners[event]
	for i, l := range list {
		if l.id == id {
			b.listeners[event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}

	if len(b.listeners[event]) == 0 {
		delete(b.listeners, event)
	}
}

// Emit calls every handler subscribed to event with payload. A panicking
// handler is logged and does not stop the others.
func (b *Bus) Emit(event string, payload any) error {
	if err := validateEventName(event); err != nil {
		return err
	}

	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return nil
	}

	list := b.listeners[event]
	handlers := make([]Handler, 0, len(list))
	kept := list[:0:0]
	for _, l := range list {
		handlers = append(handlers, l.handler)
		if !l.once {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(b.listeners, event)
	} else {
		b.listeners[event] = kept
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		b.call(event, handler, payload)
	}

	b.logger.Trace().Str("event", event).Int("handlers", len(handlers)).Msg("emitted")
	return nil
}

func (b *Bus) call(event string, handler Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Str("event", event).Interface("panic", r).Msg("event handler panicked")
		}
	}()

	handler(payload)
}

// RemoveAll drops every listener of event, or of all events when event is
// empty.
func (b *Bus) RemoveAll(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if event == "" {
		b.listeners = map[string][]listener{}
		return
	}

	delete(b.listeners, event)
}

func (b *Bus) ListenerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.listeners[event])
}

func (b *Bus) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}

	b.destroyed = true
	b.listeners = map[string][]listener{}
	b.logger.Debug().Msg("destroyed")
}
