// Package bus provides event bus implementations for fanning out domain events.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type (e.g., "feedback.selection").
	Type string `json:"type"`

	// Source is the service that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created, in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// CorrelationID links related events (the originating request id).
	CorrelationID string `json:"correlation_id,omitempty"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// Topics for different event types.
const (
	// TopicSelectionRecorded carries a SelectionRecorded payload after a
	// feedback selection has been persisted.
	TopicSelectionRecorded = "feedback.selection"
)

// SelectionRecorded is the payload of TopicSelectionRecorded.
type SelectionRecorded struct {
	Query       string    `json:"query"`
	QueryPrefix string    `json:"query_prefix"`
	PlaceID     string    `json:"osm_id"`
	DisplayName string    `json:"display_name"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// NewEvent builds an event with a fresh id and the current timestamp.
func NewEvent(eventType, source string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// DecodePayload copies the event payload into out. In-process events carry
// the original Go value; events that crossed Kafka carry decoded JSON.
func DecodePayload(event Event, out any) error {
	if event.Payload == nil {
		return fmt.Errorf("event %s has no payload", event.ID)
	}
	data, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}
