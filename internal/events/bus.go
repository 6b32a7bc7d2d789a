// Package events records order lifecycle events in domain_events and hands
// each one to in-process notifiers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/noah-isme/brennholz-api/internal/db"
)

var emitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "brennholz",
	Name:      "domain_events_total",
	Help:      "Persisted domain events by topic and notifier outcome.",
}, []string{"topic", "outcome"})

type Event struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

type EventStore interface {
	InsertDomainEvent(ctx context.Context, topic, aggregateID string, payload []byte) (Event, error)
}

// Notifier runs after the event is stored.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event) error

func (f NotifierFunc) Notify(ctx context.Context, event Event) error { return f(ctx, event) }

// Bus stores first, then notifies. A notifier error never rolls the event
// back; Emit returns the stored event together with the joined errors.
type Bus struct {
	Store     EventStore
	Notifiers []Notifier
}

func (b *Bus) Emit(ctx context.Context, topic, aggregateID string, payload any) (Event, error) {
	if b == nil || b.Store == nil {
		return Event{}, errors.New("events: store not configured")
	}
	topic, aggregateID = strings.TrimSpace(topic), strings.TrimSpace(aggregateID)
	if topic == "" || aggregateID == "" {
		return Event{}, fmt.Errorf("events: topic %q and aggregate id %q are required", topic, aggregateID)
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: %s payload: %w", topic, err)
	}
	ev, err := b.Store.InsertDomainEvent(ctx, topic, aggregateID, raw)
	if err != nil {
		return Event{}, fmt.Errorf("events: store %s: %w", topic, err)
	}

	var errs []error
	for _, n := range b.Notifiers {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		emitted.WithLabelValues(topic, "notify_failed").Inc()
		return ev, fmt.Errorf("events: notify %s: %w", topic, errors.Join(errs...))
	}
	emitted.WithLabelValues(topic, "ok").Inc()
	return ev, nil
}

// marshalPayload accepts values to encode as well as ready JSON in []byte,
// json.RawMessage or string form. Empty input becomes {}.
func marshalPayload(payload any) ([]byte, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(strings.TrimSpace(v))
	default:
		return json.Marshal(v)
	}
	if len(raw) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("not valid json")
	}
	return append([]byte(nil), raw...), nil
}

// PGStore appends to domain_events.
type PGStore struct {
	DB db.DBTX
}

func (s PGStore) InsertDomainEvent(ctx context.Context, topic, aggregateID string, payload []byte) (Event, error) {
	ev := Event{Topic: topic, AggregateID: aggregateID, Payload: payload}
	err := s.DB.QueryRow(ctx,
		`INSERT INTO domain_events (topic, aggregate_id, payload) VALUES ($1, $2, $3) RETURNING id::text, occurred_at`,
		topic, aggregateID, payload,
	).Scan(&ev.ID, &ev.OccurredAt)
	return ev, err
}
