// Package events is the in-process publish/subscribe bus between the queue
// service and the transports that push queue changes to clients.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/muslih-a/appklinik/internal/platform/metrics"
)

// Event names understood by the display boards and mobile apps.
const (
	QueueUpdated   = "queueUpdated"
	PatientCalled  = "patientCalled"
	PatientSkipped = "patientSkipped"
)

// ClinicTopic is the room name for one clinic.
func ClinicTopic(clinicID string) string { return clinicID }

// Message is what publishers hand to the bus.
type Message struct {
	Event string
	Data  interface{}
}

// Envelope is a published message after encoding. It is the unit that is
// delivered to subscribers and relayed between instances.
type Envelope struct {
	Topic       string          `json:"topic"`
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data"`
	Origin      string          `json:"origin"`
	PublishedAt time.Time       `json:"publishedAt"`
}

// Broadcaster is the capability the queue service depends on.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, msg Message) error
}

// Subscriber receives every envelope. Deliver must not block.
type Subscriber interface {
	Deliver(env Envelope)
}

type SubscriberFunc func(env Envelope)

func (f SubscriberFunc) Deliver(env Envelope) { f(env) }

// Bus fans published messages out to local subscribers and, when set, to a
// forwarder that relays them to other instances.
type Bus struct {
	mu        sync.RWMutex
	subs      []Subscriber
	forwarder Subscriber
	origin    string
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

func NewBus(logger zerolog.Logger, m *metrics.Metrics) *Bus {
	return &Bus{
		origin:  uuid.NewString(),
		logger:  logger.With().Str("component", "events").Logger(),
		metrics: m,
	}
}

// Origin identifies this process in relayed envelopes.
func (b *Bus) Origin() string { return b.origin }

func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
}

// SetForwarder registers the subscriber that receives locally published
// envelopes only. Envelopes injected from other instances skip it.
func (b *Bus) SetForwarder(f Subscriber) {
	b.mu.Lock()
	b.forwarder = f
	b.mu.Unlock()
}

func (b *Bus) Publish(ctx context.Context, topic string, msg Message) error {
	data, err := json.Marshal(msg.Data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", msg.Event, err)
	}
	env := Envelope{
		Topic:       topic,
		Event:       msg.Event,
		Data:        data,
		Origin:      b.origin,
		PublishedAt: time.Now().UTC(),
	}
	b.metrics.EventPublished(msg.Event)

	b.mu.RLock()
	subs := b.subs
	fwd := b.forwarder
	b.mu.RUnlock()

	b.deliver(subs, env)
	if fwd != nil {
		b.deliver([]Subscriber{fwd}, env)
	}
	return nil
}

// Inject delivers an envelope received from another instance to the local
// subscribers. Envelopes that originated here are dropped.
func (b *Bus) Inject(env Envelope) {
	if env.Origin == b.origin {
		return
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	b.deliver(subs, env)
}

func (b *Bus) deliver(subs []Subscriber, env Envelope) {
	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error().
						Interface("panic", r).
						Str("event", env.Event).
						Str("topic", env.Topic).
						Msg("subscriber panicked")
				}
			}()
			s.Deliver(env)
		}()
	}
}

// LogSubscriber writes every envelope at debug level.
type LogSubscriber struct {
	Logger zerolog.Logger
}

func (l LogSubscriber) Deliver(env Envelope) {
	l.Logger.Debug().
		Str("event", env.Event).
		Str("topic", env.Topic).
		Str("origin", env.Origin).
		Int("bytes", len(env.Data)).
		Msg("event published")
}

// Nop discards everything. It backs services in tests and CLI commands that
// run without transports.
type Nop struct{}

func (Nop) Publish(context.Context, string, Message) error { return nil }
