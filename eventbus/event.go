// Package eventbus provides the SQS-backed publish/subscribe primitives
// used for inter-service notification.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is a message published to the event bus. Events are routed to
// subscribers by EventType; PreviousEventID links chained events.
type Event struct {
	Body            map[string]any `json:"body"`
	EventType       string         `json:"event_type"`
	EventID         string         `json:"event_id"`
	PreviousEventID string         `json:"previous_event_id,omitempty"`
	ResponseID      string         `json:"response_id,omitempty"`
	Created         time.Time      `json:"created"`
}

// New creates an event with a fresh id and creation timestamp.
func New(eventType string, body map[string]any) *Event {
	return &Event{
		Body:      body,
		EventType: eventType,
		EventID:   uuid.NewString(),
		Created:   time.Now().UTC(),
	}
}

// Next derives a follow-up event linked to this one.
func (e *Event) Next(eventType string, body map[string]any) *Event {
	next := New(eventType, body)
	next.PreviousEventID = e.EventID
	return next
}

// JSON renders the event for the wire.
func (e *Event) JSON() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("eventbus: marshaling event %q: %w", e.EventID, err)
	}
	return raw, nil
}

// FromJSON decodes a wire payload back into an event. Missing ids and
// timestamps are filled in, matching events published by older clients.
func FromJSON(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("eventbus: decoding event: %w", err)
	}
	if ev.EventType == "" {
		return nil, fmt.Errorf("eventbus: event payload has no event_type")
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Created.IsZero() {
		ev.Created = time.Now().UTC()
	}
	return &ev, nil
}
