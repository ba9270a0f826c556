package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/syntex82/nodepress/pkg/kafka"
	"github.com/syntex82/nodepress/services/cart/internal/catalog"
)

// Catalog topics consumed to keep cached products and courses fresh.
var (
	TopicProductUpdated = pkgkafka.Topic("product", "updated")
	TopicProductDeleted = pkgkafka.Topic("product", "deleted")
	TopicCourseUpdated  = pkgkafka.Topic("course", "updated")
	TopicCourseDeleted  = pkgkafka.Topic("course", "deleted")
)

// ConsumerGroupID is the consumer group of the cart service.
const ConsumerGroupID = "cart-service"

// CatalogTopics lists every topic ConsumerHandler understands.
func CatalogTopics() []string {
	return []string{TopicProductUpdated, TopicProductDeleted, TopicCourseUpdated, TopicCourseDeleted}
}

// catalogChangedPayload is the subset of a catalog event the cart reads. The
// aggregate ID is used when the payload carries no id.
type catalogChangedPayload struct {
	ID string `json:"id"`
}

// ConsumerHandler drops cached catalog entries when the catalog changes.
type ConsumerHandler struct {
	invalidator catalog.Invalidator
	logger      *slog.Logger
}

// NewConsumerHandler creates a new event consumer handler.
func NewConsumerHandler(invalidator catalog.Invalidator, logger *slog.Logger) *ConsumerHandler {
	return &ConsumerHandler{
		invalidator: invalidator,
		logger:      logger,
	}
}

// Handle routes a catalog event to the matching invalidation. Unknown event
// types are acknowledged and ignored.
func (h *ConsumerHandler) Handle(ctx context.Context, event *pkgkafka.Event) error {
	switch event.EventType {
	case TopicProductUpdated, TopicProductDeleted:
		return h.invalidate(ctx, event, "product", h.invalidator.InvalidateProduct)
	case TopicCourseUpdated, TopicCourseDeleted:
		return h.invalidate(ctx, event, "course", h.invalidator.InvalidateCourse)
	default:
		h.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}
}

func (h *ConsumerHandler) invalidate(ctx context.Context, event *pkgkafka.Event, kind string, drop func(context.Context, string) error) error {
	var payload catalogChangedPayload
	if len(event.Data) > 0 {
		if err := event.UnmarshalData(&payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.EventType, err)
		}
	}
	id := payload.ID
	if id == "" {
		id = event.AggregateID
	}
	if id == "" {
		h.logger.WarnContext(ctx, "catalog event without an id",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}

	if err := drop(ctx, id); err != nil {
		return fmt.Errorf("invalidate %s %s: %w", kind, id, err)
	}

	h.logger.InfoContext(ctx, "catalog cache entry invalidated",
		slog.String("kind", kind),
		slog.String("id", id),
		slog.String("event_type", event.EventType),
	)
	return nil
}

// NewConsumer subscribes the handler to every catalog topic. Redelivered
// events are skipped through store.
func NewConsumer(brokers []string, handler *ConsumerHandler, store pkgkafka.IdempotencyStore, logger *slog.Logger) *pkgkafka.Consumer {
	cfg := pkgkafka.ConsumerConfig{
		Brokers:   brokers,
		GroupID:   ConsumerGroupID,
		Topics:    CatalogTopics(),
		MinBytes:  1,
		MaxBytes:  10e6,
		EnableDLQ: true,
	}
	return pkgkafka.NewConsumer(cfg, pkgkafka.IdempotentHandler(store, handler.Handle, logger), logger)
}
