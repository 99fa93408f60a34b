package metrics

import (
	"context"
	"fmt"

	"github.com/geosuggest/geosuggest/internal/bus"
)

// EventSubscriber subscribes to the event bus and updates metrics.
type EventSubscriber struct {
	metrics *Metrics
	bus     bus.Bus
}

// NewEventSubscriber creates a new event subscriber.
func NewEventSubscriber(metrics *Metrics, eventBus bus.Bus) *EventSubscriber {
	return &EventSubscriber{
		metrics: metrics,
		bus:     eventBus,
	}
}

// SubscribeToEvents subscribes to all relevant events and updates metrics.
func (es *EventSubscriber) SubscribeToEvents(ctx context.Context) error {
	return es.bus.Subscribe(ctx, bus.TopicSelectionRecorded, es.handleSelectionRecorded)
}

// handleSelectionRecorded counts selections. Events without a decodable
// payload are rejected and not counted.
func (es *EventSubscriber) handleSelectionRecorded(ctx context.Context, event bus.Event) error {
	var sel bus.SelectionRecorded
	if err := bus.DecodePayload(event, &sel); err != nil {
		return fmt.Errorf("selection event %s: %w", event.ID, err)
	}
	if sel.PlaceID == "" {
		return fmt.Errorf("selection event %s: missing osm_id", event.ID)
	}
	es.metrics.FeedbackSelections.Inc()
	return nil
}
