package event

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/shared"
)

// KafkaBusConfig holds the broker settings for the Kafka event bus.
type KafkaBusConfig struct {
	Brokers  []string
	ClientID string
}

// KafkaEventBus publishes domain events to Kafka while still dispatching
// them to in-process subscribers. Local delivery happens first and never
// depends on broker availability; the producer is synchronous and
// idempotent so an acked event is on the wire exactly once.
type KafkaEventBus struct {
	cfg        KafkaBusConfig
	serializer *EventSerializer
	local      *InMemoryEventBus
	logger     *zap.Logger

	mu       sync.Mutex
	producer sarama.SyncProducer
}

// KafkaBusOption customizes a KafkaEventBus.
type KafkaBusOption func(*KafkaEventBus)

// WithSyncProducer installs an already-built producer, used by tests and by
// callers managing the Kafka client themselves. Start will not dial when a
// producer is present.
func WithSyncProducer(producer sarama.SyncProducer) KafkaBusOption {
	return func(b *KafkaEventBus) {
		b.producer = producer
	}
}

// NewKafkaEventBus creates a Kafka event bus. The serializer decides the
// wire form of each event; register the integration events on it first.
func NewKafkaEventBus(cfg KafkaBusConfig, serializer *EventSerializer, logger *zap.Logger, opts ...KafkaBusOption) *KafkaEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &KafkaEventBus{
		cfg:        cfg,
		serializer: serializer,
		local:      NewInMemoryEventBus(logger),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start connects the producer unless one was injected
func (b *KafkaEventBus) Start(ctx context.Context) error {
	if err := b.local.Start(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.producer != nil {
		return nil
	}

	producer, err := sarama.NewSyncProducer(b.cfg.Brokers, b.producerConfig())
	if err != nil {
		return fmt.Errorf("connecting kafka producer: %w", err)
	}
	b.producer = producer
	b.logger.Info("kafka event bus started", zap.Strings("brokers", b.cfg.Brokers))
	return nil
}

// Stop closes the producer
func (b *KafkaEventBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	producer := b.producer
	b.producer = nil
	b.mu.Unlock()

	var err error
	if producer != nil {
		err = producer.Close()
	}
	if stopErr := b.local.Stop(ctx); err == nil {
		err = stopErr
	}
	return err
}

// Publish dispatches to local subscribers, then produces each event to its
// category topic. Local delivery always runs; the first produce failure is
// returned after the remaining events were attempted.
func (b *KafkaEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	_ = b.local.Publish(ctx, events...)

	producer := b.currentProducer()
	if producer == nil {
		return fmt.Errorf("kafka event bus is not started")
	}

	var firstErr error
	for _, evt := range events {
		if err := b.produce(producer, evt); err != nil {
			b.logger.Error("producing event failed",
				zap.String("event_type", evt.EventType()),
				zap.String("event_id", evt.EventID().String()),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Subscribe registers an in-process handler
func (b *KafkaEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	b.local.Subscribe(handler, eventTypes...)
}

// Unsubscribe removes an in-process handler
func (b *KafkaEventBus) Unsubscribe(handler shared.EventHandler) {
	b.local.Unsubscribe(handler)
}

func (b *KafkaEventBus) currentProducer() sarama.SyncProducer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.producer
}

func (b *KafkaEventBus) produce(producer sarama.SyncProducer, evt shared.DomainEvent) error {
	payload, err := b.serializer.Serialize(evt)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: TopicFor(evt.EventType()),
		// Keyed by aggregate so one adapter's events stay ordered within
		// a partition.
		Key:   sarama.StringEncoder(evt.AggregateID()),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(evt.EventType())},
			{Key: []byte("event_id"), Value: []byte(evt.EventID().String())},
			{Key: []byte("tenant_id"), Value: []byte(evt.TenantID().String())},
		},
	}
	if _, _, err := producer.SendMessage(msg); err != nil {
		return fmt.Errorf("producing to %s: %w", msg.Topic, err)
	}
	return nil
}

func (b *KafkaEventBus) producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = b.cfg.ClientID
	cfg.Version = sarama.V2_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Idempotent = true
	// Idempotent production requires a single in-flight request.
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// TopicFor maps an event type to its broker topic: the category prefix of
// the dotted name, so "integration.adapter.connected" publishes to
// "integration.adapter". Names without a category publish to themselves.
func TopicFor(eventType string) string {
	first := strings.Index(eventType, ".")
	if first < 0 {
		return eventType
	}
	if second := strings.Index(eventType[first+1:], "."); second >= 0 {
		return eventType[:first+1+second]
	}
	return eventType
}

var _ shared.EventBus = (*KafkaEventBus)(nil)
