package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/syntex82/nodepress/pkg/logger"
	pkgkafka "github.com/syntex82/nodepress/pkg/kafka"
	"github.com/syntex82/nodepress/services/cart/internal/domain"
)

// Kafka topics for cart domain events.
var (
	TopicCartUpdated = pkgkafka.Topic("cart", "updated")
	TopicCartCleared = pkgkafka.Topic("cart", "cleared")
	TopicCartMerged  = pkgkafka.Topic("cart", "merged")
)

// AggregateTypeCart is the aggregate type of every cart event.
const AggregateTypeCart = "cart"

// SourceCartService identifies events originating from the cart service.
const SourceCartService = "cart-service"

// Publisher is the subset of pkgkafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// CartUpdatedData is the payload for a cart.updated event. Money is encoded
// as fixed two-decimal strings.
type CartUpdatedData struct {
	CartID    string         `json:"cart_id"`
	UserID    string         `json:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Items     []CartItemData `json:"items"`
	ItemCount int            `json:"item_count"`
	Subtotal  string         `json:"subtotal"`
	Currency  string         `json:"currency"`
}

// CartItemData is one line of a cart.updated event.
type CartItemData struct {
	ItemID    string `json:"item_id"`
	ItemType  string `json:"item_type"`
	ProductID string `json:"product_id,omitempty"`
	VariantID string `json:"variant_id,omitempty"`
	CourseID  string `json:"course_id,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	CartID       string `json:"cart_id"`
	UserID       string `json:"user_id,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	RemovedItems int    `json:"removed_items"`
}

// CartMergedData is the payload for a cart.merged event.
type CartMergedData struct {
	CartID        string `json:"cart_id"`
	UserID        string `json:"user_id"`
	SessionID     string `json:"session_id"`
	SessionCartID string `json:"session_cart_id"`
	Transferred   bool   `json:"transferred"`
	Incremented   int    `json:"incremented"`
	Moved         int    `json:"moved"`
	Dropped       int    `json:"dropped"`
}

// MergeResult describes what the merge did to the session cart.
type MergeResult struct {
	SessionCartID string
	Transferred   bool
	Incremented   int
	Moved         int
	Dropped       int
}

// Producer publishes cart domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the cart service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishCartUpdated publishes a cart.updated event for the priced cart.
func (p *Producer) PublishCartUpdated(ctx context.Context, view *domain.CartView) error {
	items := make([]CartItemData, len(view.Items))
	for i, line := range view.Items {
		items[i] = CartItemData{
			ItemID:    line.ID,
			ItemType:  string(line.ItemType),
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			CourseID:  line.CourseID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.StringFixed(2),
			LineTotal: line.LineTotal.StringFixed(2),
		}
	}

	data := CartUpdatedData{
		CartID:    view.ID,
		UserID:    view.UserID,
		SessionID: view.SessionID,
		Items:     items,
		ItemCount: view.ItemCount,
		Subtotal:  view.Subtotal.StringFixed(2),
		Currency:  view.Currency,
	}
	if err := p.publish(ctx, TopicCartUpdated, view.ID, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published cart.updated event",
		slog.String("cart_id", view.ID),
		slog.Int("item_count", view.ItemCount),
	)
	return nil
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, cart *domain.Cart, removed int) error {
	data := CartClearedData{
		CartID:       cart.ID,
		UserID:       cart.UserID,
		SessionID:    cart.SessionID,
		RemovedItems: removed,
	}
	if err := p.publish(ctx, TopicCartCleared, cart.ID, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published cart.cleared event", slog.String("cart_id", cart.ID))
	return nil
}

// PublishCartMerged publishes a cart.merged event after a guest cart was
// folded into, or handed over to, a user cart.
func (p *Producer) PublishCartMerged(ctx context.Context, cart *domain.Cart, sessionID string, res MergeResult) error {
	data := CartMergedData{
		CartID:        cart.ID,
		UserID:        cart.UserID,
		SessionID:     sessionID,
		SessionCartID: res.SessionCartID,
		Transferred:   res.Transferred,
		Incremented:   res.Incremented,
		Moved:         res.Moved,
		Dropped:       res.Dropped,
	}
	if err := p.publish(ctx, TopicCartMerged, cart.ID, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published cart.merged event",
		slog.String("cart_id", cart.ID),
		slog.String("session_cart_id", res.SessionCartID),
		slog.Bool("transferred", res.Transferred),
	)
	return nil
}

func (p *Producer) publish(ctx context.Context, topic, cartID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, cartID, AggregateTypeCart, SourceCartService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}
