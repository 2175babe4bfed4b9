// Package events is the in-process registry of domain event handlers.
//
// Publishers call Publish after their transaction commits. Handlers run
// synchronously in registration order; a failing or panicking handler is
// logged and counted, and never affects the publisher or later handlers.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicmanager/clinic/internal/platform/metrics"
)

// Event is a fact that already happened inside one clinic.
type Event struct {
	ID         uuid.UUID
	Type       string
	ClinicID   uuid.UUID
	OccurredAt time.Time
	Payload    interface{}
}

// New stamps an event with an ID and the current time.
func New(eventType string, clinicID uuid.UUID, payload interface{}) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		ClinicID:   clinicID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

type Handler func(ctx context.Context, e Event) error

// Publisher is what domain services depend on.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

type registration struct {
	name string
	fn   Handler
}

type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	logger   zerolog.Logger
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]registration),
		logger:   logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers fn under name for eventType.
func (b *Bus) Subscribe(eventType, name string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], registration{name: name, fn: fn})
}

// Handlers returns the registered handler names for eventType in order.
func (b *Bus) Handlers(eventType string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.handlers[eventType]))
	for _, r := range b.handlers[eventType] {
		names = append(names, r.name)
	}
	return names
}

func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	regs := append([]registration(nil), b.handlers[e.Type]...)
	b.mu.RUnlock()

	for _, r := range regs {
		outcome := "ok"
		if err := b.invoke(ctx, r, e); err != nil {
			outcome = "error"
			b.logger.Error().Err(err).
				Str("event", e.Type).
				Str("event_id", e.ID.String()).
				Str("clinic_id", e.ClinicID.String()).
				Str("handler", r.name).
				Msg("event handler failed")
		}
		metrics.EventsDispatched.WithLabelValues(e.Type, outcome).Inc()
	}
}

func (b *Bus) invoke(ctx context.Context, r registration, e Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.fn(ctx, e)
}
