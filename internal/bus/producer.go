// ABOUTME: Kafka producer for chat events
// ABOUTME: Idempotent, keyed by chat so per-chat order survives partitioning

package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/AlexStMEfan/chatplatphorm/internal/event"
	"github.com/AlexStMEfan/chatplatphorm/internal/metrics"
)

// PublishTimeout bounds how long a send waits for broker acknowledgement.
const PublishTimeout = 5 * time.Second

// ErrPublishTimeout is returned when the broker does not acknowledge within
// PublishTimeout. The message was not accepted; the caller should surface
// the failure rather than retry blindly.
var ErrPublishTimeout = errors.New("event bus publish timed out")

// Producer publishes chat events to the bus. All events for one chat share
// a record key, which pins them to one partition and preserves their order.
// The client is idempotent, so broker-level retries cannot duplicate a
// record within a session.
type Producer struct {
	client  *kgo.Client
	topic   string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// ProducerConfig holds producer configuration.
type ProducerConfig struct {
	Brokers []string
	Topic   string
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// NewProducer creates a producer connected to the given brokers.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RecordDeliveryTimeout(PublishTimeout),
		kgo.ProducerBatchMaxBytes(1<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}

	return &Producer{
		client:  client,
		topic:   cfg.Topic,
		logger:  logger.With("component", "bus-producer"),
		metrics: cfg.Metrics,
	}, nil
}

// Publish encodes the event and sends it, waiting for acknowledgement. A nil
// return means the broker accepted the record; the message is durable on the
// bus even if nothing has consumed it yet.
func (p *Producer) Publish(ctx context.Context, ev *event.ChatEvent) error {
	payload, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.ChatID.String()),
		Value: payload,
	}

	ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()

	start := time.Now()
	err = p.client.ProduceSync(ctx, record).FirstErr()
	if p.metrics != nil {
		p.metrics.RecordProduceLatency(time.Since(start))
	}

	if err != nil {
		if p.metrics != nil {
			p.metrics.ProduceFailed()
		}
		p.logger.Error("publish failed",
			"chat_id", ev.ChatID,
			"message_id", ev.MessageID,
			"error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrPublishTimeout, err)
		}
		return fmt.Errorf("publishing event: %w", err)
	}

	if p.metrics != nil {
		p.metrics.EventProduced()
	}
	p.logger.Debug("event published",
		"chat_id", ev.ChatID,
		"message_id", ev.MessageID,
		"version", ev.Version)
	return nil
}

// Ping checks broker connectivity, used by readiness probes.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes buffered records and releases the client.
func (p *Producer) Close() {
	p.client.Close()
}
