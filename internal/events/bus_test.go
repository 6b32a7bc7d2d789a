package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/brennholz-api/internal/events"
)

type stubStore struct {
	lastTopic     string
	lastAggregate string
	lastPayload   []byte
}

func (s *stubStore) InsertDomainEvent(_ context.Context, topic, aggregateID string, payload []byte) (events.Event, error) {
	s.lastTopic = topic
	s.lastAggregate = aggregateID
	s.lastPayload = payload
	return events.Event{
		ID:          uuid.NewString(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  time.Now(),
	}, nil
}

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

func TestEmitPersistsEvent(t *testing.T) {
	store := &stubStore{}
	notifier := &captureNotifier{}
	bus := events.Bus{Store: store, Notifiers: []events.Notifier{notifier}}

	event, err := bus.Emit(context.Background(), events.TopicOrderCreated, "BK-202603-0042", map[string]any{"orderNumber": "BK-202603-0042"})
	require.NoError(t, err)
	require.Equal(t, events.TopicOrderCreated, store.lastTopic)
	require.Equal(t, "BK-202603-0042", store.lastAggregate)
	require.JSONEq(t, `{"orderNumber":"BK-202603-0042"}`, string(store.lastPayload))
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, notifier.events[0].ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	require.Equal(t, "BK-202603-0042", decoded["orderNumber"])
}

func TestEmitJoinsNotifierErrors(t *testing.T) {
	failing := &captureNotifier{err: errors.New("smtp down")}
	ok := &captureNotifier{}
	bus := events.Bus{Store: &stubStore{}, Notifiers: []events.Notifier{failing, nil, ok}}

	ev, err := bus.Emit(context.Background(), events.TopicOrderCancelled, "BK-1", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "smtp down")
	require.NotEmpty(t, ev.ID)
	require.Len(t, ok.events, 1)
}

func TestNotifierFunc(t *testing.T) {
	var seen []string
	bus := events.Bus{Store: &stubStore{}, Notifiers: []events.Notifier{
		events.NotifierFunc(func(_ context.Context, ev events.Event) error {
			seen = append(seen, ev.Topic+"/"+ev.AggregateID)
			return nil
		}),
	}}
	_, err := bus.Emit(context.Background(), " order.shipped ", " BK-202610-0003 ", json.RawMessage(`{"carrier":"spedition"}`))
	require.NoError(t, err)
	require.Equal(t, []string{"order.shipped/BK-202610-0003"}, seen)
}

func TestEmitValidatesInput(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}
	_, err := bus.Emit(context.Background(), " ", "BK-1", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicOrderCreated, "", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicOrderCreated, "BK-1", "not json")
	require.Error(t, err)
}

func TestOrderStatusTopic(t *testing.T) {
	topic, ok := events.OrderStatusTopic("cancelled")
	require.True(t, ok)
	require.Equal(t, events.TopicOrderCancelled, topic)
	_, ok = events.OrderStatusTopic("pending")
	require.False(t, ok)
}
