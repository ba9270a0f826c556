package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	defaultHandlerRetries = 3
	defaultRetryBackoff   = 100 * time.Millisecond
)

// Handler processes one decoded event.
type Handler func(ctx context.Context, event *Event) error

// messageReader is the subset of *kafka.Reader used by Consumer.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type dlqPublisher interface {
	Publish(ctx context.Context, msg kafka.Message, cause error, consumerGroup string) error
	Close() error
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topics   []string
	MinBytes int
	MaxBytes int

	// MaxRetries is how many times the handler runs before a message is
	// given up on. Defaults to 3.
	MaxRetries int
	// RetryBackoff is multiplied by the attempt number between retries.
	RetryBackoff time.Duration
	// EnableDLQ forwards undecodable and exhausted messages to
	// DLQTopic(topic) before committing them.
	EnableDLQ bool
}

// Consumer reads a consumer group's topics and dispatches to a Handler.
// Every fetched message is committed exactly once, whether it succeeded,
// was undecodable, or exhausted its retries.
type Consumer struct {
	reader    messageReader
	dlq       dlqPublisher
	handler   Handler
	logger    *slog.Logger
	group     string
	retries   int
	backoff   time.Duration
	closeOnce sync.Once
}

// NewConsumer creates a group consumer over cfg.Topics.
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
	})

	var dlq dlqPublisher
	if cfg.EnableDLQ {
		dlq = NewDLQProducer(cfg.Brokers, logger)
	}
	return newConsumer(r, dlq, cfg, handler, logger)
}

func newConsumer(r messageReader, dlq dlqPublisher, cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultHandlerRetries
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	return &Consumer{
		reader:  r,
		dlq:     dlq,
		handler: handler,
		logger:  logger,
		group:   cfg.GroupID,
		retries: retries,
		backoff: backoff,
	}
}

// Start consumes until ctx is canceled, then closes the consumer.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", slog.String("group", c.group))
	defer func() {
		c.logger.Info("consumer stopping", slog.String("group", c.group))
		_ = c.Close()
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		if !c.process(ctx, msg) {
			return nil
		}
	}
}

// process handles one message and commits it. It returns false when ctx was
// canceled mid-retry, leaving the message uncommitted for redelivery.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	consumerMetrics.received.WithLabelValues(msg.Topic, c.group).Inc()
	start := time.Now()
	defer func() {
		consumerMetrics.duration.WithLabelValues(msg.Topic, c.group).Observe(time.Since(start).Seconds())
	}()

	attrs := []any{
		slog.String("topic", msg.Topic),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	}

	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to unmarshal event", append(attrs, slog.String("error", err.Error()))...)
		c.giveUp(ctx, msg, err)
		return true
	}

	hctx := extractTrace(ctx, msg.Headers)
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if lastErr = c.handler(hctx, event); lastErr == nil {
			break
		}
		c.logger.WarnContext(hctx, "handler failed",
			append(attrs,
				slog.String("event_type", event.EventType),
				slog.String("aggregate_id", event.AggregateID),
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()),
			)...)

		if attempt < c.retries {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}
	}

	if lastErr != nil {
		c.logger.ErrorContext(hctx, "handler failed after all retries, skipping message",
			append(attrs, slog.String("event_type", event.EventType), slog.String("error", lastErr.Error()))...)
		c.giveUp(ctx, msg, fmt.Errorf("after %d attempts: %w", c.retries, lastErr))
		return true
	}

	consumerMetrics.processed.WithLabelValues(msg.Topic, c.group).Inc()
	c.commit(ctx, msg)
	return true
}

func (c *Consumer) giveUp(ctx context.Context, msg kafka.Message, cause error) {
	consumerMetrics.failed.WithLabelValues(msg.Topic, c.group).Inc()
	if c.dlq != nil {
		if err := c.dlq.Publish(ctx, msg, cause, c.group); err == nil {
			consumerMetrics.dlq.WithLabelValues(msg.Topic, c.group).Inc()
		}
	}
	c.commit(ctx, msg)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("failed to commit message",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
	}
}

// Close closes the reader and the DLQ writer. Safe to call more than once.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
		if c.dlq != nil {
			if dlqErr := c.dlq.Close(); err == nil {
				err = dlqErr
			}
		}
	})
	return err
}
