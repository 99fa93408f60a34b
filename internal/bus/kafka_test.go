package bus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"

	"github.com/geosuggest/geosuggest/internal/pkg/logger"
)

func TestKafkaConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  KafkaConfig
	}{
		{
			name: "empty brokers",
			cfg:  KafkaConfig{ConsumerGroup: "test-group"},
		},
		{
			name: "empty consumer group",
			cfg:  KafkaConfig{Brokers: []string{"localhost:9092"}},
		},
		{
			name: "invalid kafka version",
			cfg: KafkaConfig{
				Brokers:       []string{"localhost:9092"},
				ConsumerGroup: "test-group",
				Version:       "invalid",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewKafkaBus(tt.cfg, logger.Discard()); err == nil {
				t.Error("NewKafkaBus() expected error")
			}
		})
	}
}

func TestKafkaConfig_Defaults(t *testing.T) {
	cfg := KafkaConfig{}
	cfg.applyDefaults()

	if cfg.ClientID != "geosuggest-bus" {
		t.Errorf("ClientID = %q", cfg.ClientID)
	}
	if cfg.Version != "2.8.0" {
		t.Errorf("Version = %q", cfg.Version)
	}
	if cfg.Timeout == 0 {
		t.Error("Timeout not defaulted")
	}
}

func TestParseKafkaBrokers(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"localhost:9092", []string{"localhost:9092"}},
		{"a:9092, b:9092 ,c:9092", []string{"a:9092", "b:9092", "c:9092"}},
		{"a:9092,,", []string{"a:9092"}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseKafkaBrokers(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseKafkaBrokers(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestKafkaBus_TopicPrefix(t *testing.T) {
	bus := &KafkaBus{config: KafkaConfig{TopicPrefix: "geosuggest."}}
	if got := bus.topicName(TopicSelectionRecorded); got != "geosuggest.feedback.selection" {
		t.Errorf("topicName() = %q", got)
	}
}

func TestKafkaMessageRoundTrip(t *testing.T) {
	event := NewEvent(TopicSelectionRecorded, "test", SelectionRecorded{Query: "par", PlaceID: "1"})
	event.CorrelationID = "req-123"

	msg, err := encodeMessage("geosuggest.feedback.selection", event)
	if err != nil {
		t.Fatalf("encodeMessage() error = %v", err)
	}
	if msg.Key == nil {
		t.Error("message key not set")
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "req-123" {
		t.Errorf("headers = %v", msg.Headers)
	}

	value, err := msg.Value.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// Consumers may see the correlation id only in the header.
	var raw map[string]any
	_ = json.Unmarshal(value, &raw)
	delete(raw, "correlation_id")
	stripped, _ := json.Marshal(raw)

	got, err := decodeMessage(&sarama.ConsumerMessage{
		Value:   stripped,
		Headers: []*sarama.RecordHeader{{Key: []byte("correlation_id"), Value: []byte("req-123")}},
	})
	if err != nil {
		t.Fatalf("decodeMessage() error = %v", err)
	}
	if got.ID != event.ID || got.CorrelationID != "req-123" {
		t.Errorf("decoded = %+v", got)
	}

	var payload SelectionRecorded
	if err := DecodePayload(got, &payload); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if payload.Query != "par" || payload.PlaceID != "1" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestKafkaBus_Interface(t *testing.T) {
	var _ Bus = (*KafkaBus)(nil)
}

func TestKafkaBus_CloseIdempotent(t *testing.T) {
	bus := &KafkaBus{
		handlers:     make(map[string][]Handler),
		consumerStop: make(chan struct{}),
		closed:       true,
	}

	if err := bus.Close(); err != nil {
		t.Errorf("Close() on closed bus returned error: %v", err)
	}
}

func TestKafkaBus_OperationsAfterClose(t *testing.T) {
	bus := &KafkaBus{
		handlers:     make(map[string][]Handler),
		consumerStop: make(chan struct{}),
		closed:       true,
	}

	if err := bus.Publish(context.Background(), "test", Event{ID: "test"}); err == nil {
		t.Error("Publish() after Close() should return error")
	}
	err := bus.Subscribe(context.Background(), "test", func(ctx context.Context, event Event) error {
		return nil
	})
	if err == nil {
		t.Error("Subscribe() after Close() should return error")
	}
}
