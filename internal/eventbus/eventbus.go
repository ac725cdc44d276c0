// Package eventbus publishes fire-and-forget domain events (spec §6):
// HighRiskTelemetry from the ingest pipeline, and alert lifecycle events
// from the alert manager. Publication is best-effort — a publish failure
// is logged and never rolls back the write that preceded it.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/openlews/openlews/internal/logger"
	"github.com/openlews/openlews/internal/observability"
)

// Event is the envelope shape of every published event: a source system,
// a detail-type tag, and an opaque JSON detail payload.
type Event struct {
	Source     string          `json:"source"`
	DetailType string          `json:"detail_type"`
	Detail     json.RawMessage `json:"detail"`
	Time       time.Time       `json:"time"`
}

// Publisher is the event bus's public contract.
type Publisher interface {
	Publish(ctx context.Context, source, detailType string, detail any) error
	Close() error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, string, any) error { return nil }
func (noopPublisher) Close() error                                      { return nil }

// NewNoop returns a Publisher that drops every event, for
// EnableEventPublish=false or tests that don't care about the bus.
func NewNoop() Publisher { return noopPublisher{} }

type saramaPublisher struct {
	topic   string
	queue   chan queued
	prod    sarama.AsyncProducer
	stopCh  chan struct{}
	stopped chan struct{}
	log     zerolog.Logger
}

type queued struct {
	ctx   context.Context
	event Event
}

// NewSaramaPublisher connects an async Kafka producer for topic. queueSize
// bounds the in-process buffer between Publish callers and the producer
// goroutine; a full queue drops the event rather than blocking the caller's
// request path.
func NewSaramaPublisher(brokers []string, topic string, queueSize int, log zerolog.Logger) (Publisher, error) {
	if queueSize <= 0 {
		queueSize = 1024
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("eventbus: create async producer: %w", err)
	}

	p := &saramaPublisher{
		topic:   topic,
		queue:   make(chan queued, queueSize),
		prod:    prod,
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
		log:     log,
	}

	go p.drain()
	go p.logErrors()

	return p, nil
}

func (p *saramaPublisher) drain() {
	defer close(p.stopped)
	for q := range p.queue {
		b, err := json.Marshal(q.event)
		if err != nil {
			p.log.Error().Err(err).Str("detail_type", q.event.DetailType).Msg("eventbus: marshal event")
			observability.ObservePublish(err)
			continue
		}
		msg := &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(q.event.DetailType),
			Value: sarama.ByteEncoder(b),
		}
		p.prod.Input() <- msg
		observability.ObservePublish(nil)
	}
}

func (p *saramaPublisher) logErrors() {
	for err := range p.prod.Errors() {
		if err == nil {
			continue
		}
		p.log.Error().Err(err.Err).Msg("eventbus: producer error")
		observability.ObservePublish(err.Err)
	}
}

// Publish enqueues an event for async delivery. It never blocks the
// caller: a full queue drops the event (logged, counted) rather than
// stalling the ingest/detect path that triggered it.
func (p *saramaPublisher) Publish(ctx context.Context, source, detailType string, detail any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("eventbus: encode detail: %w", err)
	}
	ev := Event{Source: source, DetailType: detailType, Detail: raw, Time: time.Now()}
	l := logger.FromContext(ctx, &p.log)
	select {
	case p.queue <- queued{ctx: ctx, event: ev}:
		return nil
	default:
		l.Warn().Str("detail_type", detailType).Msg("eventbus: queue full, dropping event")
		observability.IncPublishDropped()
		return fmt.Errorf("eventbus: queue full")
	}
}

func (p *saramaPublisher) Close() error {
	close(p.queue)
	<-p.stopped
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("eventbus: close producer: %w", err)
	}
	return nil
}
