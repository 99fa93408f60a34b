package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geosuggest/geosuggest/internal/config"
	"github.com/geosuggest/geosuggest/internal/pkg/logger"
)

func waitGroupTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("Timeout waiting for events")
	}
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup

	err := bus.Subscribe(context.Background(), "test.topic", func(ctx context.Context, event Event) error {
		received.Add(1)
		wg.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	wg.Add(3)
	for i := 0; i < 3; i++ {
		if err := bus.Publish(context.Background(), "test.topic", NewEvent("test", "test", i)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	waitGroupTimeout(t, &wg, time.Second)

	if got := received.Load(); got != 3 {
		t.Errorf("Received %d events, want 3", got)
	}
}

func TestMemoryBus_MultipleSubscribers(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	var first, second atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)

	_ = bus.Subscribe(context.Background(), TopicSelectionRecorded, func(ctx context.Context, event Event) error {
		first.Add(1)
		wg.Done()
		return nil
	})
	_ = bus.Subscribe(context.Background(), TopicSelectionRecorded, func(ctx context.Context, event Event) error {
		second.Add(1)
		wg.Done()
		return nil
	})

	if err := bus.Publish(context.Background(), TopicSelectionRecorded, NewEvent(TopicSelectionRecorded, "test", nil)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	waitGroupTimeout(t, &wg, time.Second)

	if first.Load() != 1 || second.Load() != 1 {
		t.Errorf("first = %d, second = %d, want 1 each", first.Load(), second.Load())
	}
}

func TestMemoryBus_NoSubscribers(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	if err := bus.Publish(context.Background(), "nobody.listens", Event{ID: "x"}); err != nil {
		t.Errorf("Publish() with no subscribers error = %v", err)
	}
}

func TestMemoryBus_HandlerErrorDoesNotFailPublish(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())

	_ = bus.Subscribe(context.Background(), "t", func(ctx context.Context, event Event) error {
		return errors.New("handler failed")
	})

	if err := bus.Publish(context.Background(), "t", Event{ID: "x"}); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestMemoryBus_HandlerOutlivesRequestContext(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	var ctxErr atomic.Value

	release := make(chan struct{})
	_ = bus.Subscribe(context.Background(), "t", func(ctx context.Context, event Event) error {
		defer wg.Done()
		<-release
		if err := ctx.Err(); err != nil {
			ctxErr.Store(err)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	_ = bus.Publish(ctx, "t", Event{ID: "x"})
	cancel()
	close(release)

	waitGroupTimeout(t, &wg, time.Second)
	if v := ctxErr.Load(); v != nil {
		t.Errorf("handler context cancelled: %v", v)
	}
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())

	var done atomic.Bool
	_ = bus.Subscribe(context.Background(), "slow", func(ctx context.Context, event Event) error {
		time.Sleep(50 * time.Millisecond)
		done.Store(true)
		return nil
	})
	_ = bus.Publish(context.Background(), "slow", Event{ID: "x"})

	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !done.Load() {
		t.Error("Close() returned before in-flight handler finished")
	}

	if err := bus.Publish(context.Background(), "slow", Event{ID: "y"}); err == nil {
		t.Error("Publish() after Close() should return error")
	}
	if err := bus.Subscribe(context.Background(), "slow", func(context.Context, Event) error { return nil }); err == nil {
		t.Error("Subscribe() after Close() should return error")
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestMemoryBus_Concurrent(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	const publishers = 10
	const perPublisher = 50

	var received atomic.Int32
	var handled sync.WaitGroup
	handled.Add(publishers * perPublisher)

	_ = bus.Subscribe(context.Background(), "load", func(ctx context.Context, event Event) error {
		received.Add(1)
		handled.Done()
		return nil
	})

	var pubs sync.WaitGroup
	for p := 0; p < publishers; p++ {
		pubs.Add(1)
		go func() {
			defer pubs.Done()
			for i := 0; i < perPublisher; i++ {
				_ = bus.Publish(context.Background(), "load", Event{ID: "e"})
			}
		}()
	}
	pubs.Wait()

	waitGroupTimeout(t, &handled, 5*time.Second)
	if got := received.Load(); got != publishers*perPublisher {
		t.Errorf("received = %d, want %d", got, publishers*perPublisher)
	}
}

func TestDecodePayload(t *testing.T) {
	recordedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := SelectionRecorded{
		Query:       "Paris",
		QueryPrefix: "par",
		PlaceID:     "7444",
		DisplayName: "Paris, France",
		RecordedAt:  recordedAt,
	}

	t.Run("in-process value", func(t *testing.T) {
		var out SelectionRecorded
		if err := DecodePayload(NewEvent(TopicSelectionRecorded, "test", in), &out); err != nil {
			t.Fatalf("DecodePayload() error = %v", err)
		}
		if out.Query != in.Query || out.QueryPrefix != in.QueryPrefix || out.PlaceID != in.PlaceID ||
			out.DisplayName != in.DisplayName || !out.RecordedAt.Equal(in.RecordedAt) {
			t.Errorf("got %+v, want %+v", out, in)
		}
	})

	t.Run("decoded json map", func(t *testing.T) {
		event := Event{ID: "1", Payload: map[string]any{
			"query":        "Paris",
			"query_prefix": "par",
			"osm_id":       "7444",
			"display_name": "Paris, France",
			"recorded_at":  "2024-05-01T12:00:00Z",
		}}
		var out SelectionRecorded
		if err := DecodePayload(event, &out); err != nil {
			t.Fatalf("DecodePayload() error = %v", err)
		}
		if !out.RecordedAt.Equal(recordedAt) || out.PlaceID != "7444" {
			t.Errorf("got %+v", out)
		}
	})

	t.Run("missing payload", func(t *testing.T) {
		var out SelectionRecorded
		if err := DecodePayload(Event{ID: "1"}, &out); err == nil {
			t.Error("expected error for nil payload")
		}
	})
}

type recordingMetrics struct {
	mu     sync.Mutex
	topics []string
	errs   []error
}

func (r *recordingMetrics) RecordBusPublish(topic string, latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.errs = append(r.errs, err)
}

func TestInstrumentedBus_RecordsPublish(t *testing.T) {
	inner := NewMemoryBus(logger.Discard())
	rec := &recordingMetrics{}
	bus := NewInstrumentedBus(inner, rec)

	if err := bus.Publish(context.Background(), TopicSelectionRecorded, Event{ID: "1"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	_ = bus.Close()
	if err := bus.Publish(context.Background(), TopicSelectionRecorded, Event{ID: "2"}); err == nil {
		t.Fatal("Publish() after Close() should fail")
	}

	if len(rec.topics) != 2 {
		t.Fatalf("recorded %d publishes, want 2", len(rec.topics))
	}
	if rec.errs[0] != nil || rec.errs[1] == nil {
		t.Errorf("errs = %v, want [nil, error]", rec.errs)
	}
}

func TestNewBus(t *testing.T) {
	b, err := NewBus(config.BusConfig{Type: "memory"}, logger.Discard())
	if err != nil {
		t.Fatalf("NewBus(memory) error = %v", err)
	}
	if _, ok := b.(*MemoryBus); !ok {
		t.Errorf("NewBus(memory) = %T, want *MemoryBus", b)
	}
	_ = b.Close()

	if _, err := NewBus(config.BusConfig{Type: "kafka"}, logger.Discard()); err == nil {
		t.Error("NewBus(kafka) without brokers should fail")
	}
	if _, err := NewBus(config.BusConfig{Type: "nats"}, logger.Discard()); err == nil {
		t.Error("NewBus(nats) should fail")
	}
}
