package eventbus

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestNoop_PublishAndCloseNeverError(t *testing.T) {
	p := NewNoop()
	if err := p.Publish(context.Background(), "openlews.test", "Thing", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("noop Publish returned error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("noop Close returned error: %v", err)
	}
}

func TestSaramaPublisher_QueueFullDropsWithoutBlocking(t *testing.T) {
	p := &saramaPublisher{
		topic: "t",
		queue: make(chan queued, 1),
		log:   zerolog.Nop(),
	}
	// Fill the queue directly so Publish observes it full without a live producer.
	p.queue <- queued{ctx: context.Background(), event: Event{DetailType: "Filler"}}

	err := p.Publish(context.Background(), "src", "Overflow", map[string]string{})
	if err == nil {
		t.Fatalf("expected an error when the queue is full")
	}
}
