// ABOUTME: Kafka consumer group worker for chat events
// ABOUTME: Persists each event, fans it out to live sessions, then acks

package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/AlexStMEfan/chatplatphorm/internal/dedupe"
	"github.com/AlexStMEfan/chatplatphorm/internal/event"
	"github.com/AlexStMEfan/chatplatphorm/internal/fanout"
	"github.com/AlexStMEfan/chatplatphorm/internal/metrics"
	"github.com/AlexStMEfan/chatplatphorm/internal/store"
)

// Consumer reads chat events from the bus and applies them: store insert
// first, fan-out second, ack last. Acks are per-record marks committed
// asynchronously; a crash between processing and commit redelivers, which
// the store tolerates (timestamped idempotent inserts) and the dedupe cache
// absorbs on the fan-out side.
type Consumer struct {
	client  *kgo.Client
	topic   string
	group   string
	store   store.Store
	fanout  *fanout.Manager
	dedupe  *dedupe.Cache
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Store   store.Store
	Fanout  *fanout.Manager
	Dedupe  *dedupe.Cache
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// NewConsumer creates a consumer group member for the chat event topic.
// The group starts from the earliest offset on first run so a fresh
// deployment backfills the store instead of skipping history.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("consumer group is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Fanout == nil {
		return nil, fmt.Errorf("fanout manager is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bus-consumer")

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.AutoCommitMarks(),
		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.SessionTimeout(6*time.Second),
		kgo.HeartbeatInterval(2*time.Second),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logger.Info("partitions assigned", "partitions", assigned)
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			logger.Info("partitions revoked", "partitions", revoked)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}

	return &Consumer{
		client:  client,
		topic:   cfg.Topic,
		group:   cfg.GroupID,
		store:   cfg.Store,
		fanout:  cfg.Fanout,
		dedupe:  cfg.Dedupe,
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

// Run polls the bus until the context is cancelled, then commits marked
// offsets and closes the client.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started", "topic", c.topic, "group", c.group)

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if ctx.Err() != nil {
			return c.shutdown()
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("fetch error",
				"topic", topic,
				"partition", partition,
				"error", err)
		})

		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			c.handlePartition(ctx, p)
		})
	}
}

// shutdown flushes marked offsets so a clean stop never redelivers work that
// already completed.
func (c *Consumer) shutdown() error {
	commitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.CommitMarkedOffsets(commitCtx); err != nil {
		c.logger.Warn("final offset commit failed", "error", err)
	}
	c.client.Close()
	c.logger.Info("consumer stopped")
	return nil
}

// handlePartition processes one partition's batch in order. On the first
// record that must be retried, the rest of the batch is left unmarked so the
// group redelivers everything from the failure point, preserving per-chat
// order.
func (c *Consumer) handlePartition(ctx context.Context, p kgo.FetchTopicPartition) {
	for i, record := range p.Records {
		if !c.handleRecord(ctx, record) {
			c.logger.Warn("pausing partition after failure",
				"topic", p.Topic,
				"partition", p.Partition,
				"offset", record.Offset,
				"deferred", len(p.Records)-i)
			return
		}
	}
}

// handleRecord applies a single record. Returns true when the record was
// marked (processed or intentionally dropped) and false when it must be
// redelivered.
func (c *Consumer) handleRecord(ctx context.Context, record *kgo.Record) bool {
	if c.metrics != nil {
		c.metrics.EventConsumed()
	}

	ev, err := event.Decode(record.Value)
	if err != nil {
		// Poison pill: it will never decode no matter how often it is
		// redelivered, so drop it and keep the partition moving.
		c.logger.Error("dropping undecodable event",
			"topic", record.Topic,
			"partition", record.Partition,
			"offset", record.Offset,
			"error", err)
		if c.metrics != nil {
			c.metrics.PoisonDropped()
		}
		c.client.MarkCommitRecords(record)
		return true
	}

	// Persist before fan-out: a session must never see an event that a
	// later history fetch would not return. Inserts are timestamped with
	// the message creation time, so replays cannot roll back later edits.
	start := time.Now()
	if err := c.store.InsertMessage(ctx, ev.Message()); err != nil {
		if c.metrics != nil {
			c.metrics.InsertFailed()
		}
		c.logger.Error("store insert failed, leaving event unacked",
			"chat_id", ev.ChatID,
			"message_id", ev.MessageID,
			"offset", record.Offset,
			"error", err)
		return false
	}
	if c.metrics != nil {
		c.metrics.RecordStoreLatency(time.Since(start))
	}

	// Fan out unless this exact record was already handled before a crash
	// or rebalance. The key is the record's coordinates, not message
	// content: distinct events about the same message must all fan out.
	key := recordKey(record)
	if c.dedupe != nil && c.dedupe.CheckAndMark(key) {
		if c.metrics != nil {
			c.metrics.DuplicateSuppressed()
		}
		c.logger.Debug("suppressed duplicate fan-out", "record", key)
	} else {
		delivered := c.fanout.Broadcast(ev)
		if c.metrics != nil {
			c.metrics.EventsBroadcast(delivered)
		}
		c.logger.Debug("event fanned out",
			"chat_id", ev.ChatID,
			"message_id", ev.MessageID,
			"receivers", delivered)
	}

	c.client.MarkCommitRecords(record)
	return true
}

// Close releases the client without committing marks. Run's shutdown path
// is preferred; Close covers unwinding after a failed startup.
func (c *Consumer) Close() {
	c.client.Close()
}

// recordKey identifies a bus record for redelivery suppression.
func recordKey(record *kgo.Record) string {
	return fmt.Sprintf("%s/%d@%d", record.Topic, record.Partition, record.Offset)
}
