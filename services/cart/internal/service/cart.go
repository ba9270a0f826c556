package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/syntex82/nodepress/pkg/errors"
	"github.com/syntex82/nodepress/services/cart/internal/catalog"
	"github.com/syntex82/nodepress/services/cart/internal/domain"
	"github.com/syntex82/nodepress/services/cart/internal/event"
	"github.com/syntex82/nodepress/services/cart/internal/repository"
)

// createAttempts bounds how often resolution is retried when a concurrent
// request created the caller's cart first.
const createAttempts = 2

// EventPublisher emits cart domain events. event.Producer implements it.
type EventPublisher interface {
	PublishCartUpdated(ctx context.Context, view *domain.CartView) error
	PublishCartCleared(ctx context.Context, cart *domain.Cart, removed int) error
	PublishCartMerged(ctx context.Context, cart *domain.Cart, sessionID string, res event.MergeResult) error
}

// Catalog groups the read-only collaborators the cart looks products,
// courses and enrollments up in.
type Catalog struct {
	Products    catalog.ProductProvider
	Courses     catalog.CourseProvider
	Enrollments catalog.EnrollmentProvider
}

// Identity is the caller as seen by the cart: a registered user, an anonymous
// session, or both during login.
type Identity struct {
	UserID    string
	SessionID string
}

func (id Identity) validate() error {
	if id.UserID == "" && id.SessionID == "" {
		return apperrors.InvalidInput("a user id or a session id is required")
	}
	return nil
}

// AddProductInput holds the parameters for adding a product line.
type AddProductInput struct {
	ProductID string
	VariantID string
	Quantity  int
}

// CartService implements the cart business logic.
type CartService struct {
	store    repository.Store
	catalog  Catalog
	events   EventPublisher
	logger   *slog.Logger
	currency string
	now      func() time.Time
}

// NewCartService creates a cart service. events may be nil, in which case no
// domain events are emitted.
func NewCartService(store repository.Store, cat Catalog, events EventPublisher, logger *slog.Logger, currency string) *CartService {
	return &CartService{
		store:    store,
		catalog:  cat,
		events:   events,
		logger:   logger,
		currency: currency,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GetCart returns the caller's cart, creating it on first use. When both a
// user and a session are given, the session cart is folded into the user
// cart first.
func (s *CartService) GetCart(ctx context.Context, id Identity) (*domain.CartView, error) {
	if err := id.validate(); err != nil {
		return nil, err
	}

	var (
		cart   *domain.Cart
		merged *event.MergeResult
	)
	err := s.withCart(ctx, id, func(_ repository.CartRepository, c *domain.Cart, m *event.MergeResult) error {
		cart, merged = c, m
		return nil
	})
	if err != nil {
		return nil, err
	}

	if merged != nil {
		s.publishMerged(ctx, cart, id.SessionID, *merged)
	}
	return s.present(ctx, cart)
}

// MergeSessionCart folds the cart of sessionID into the cart of userID. It is
// the login hook; calling it again after the session cart is gone returns the
// user cart unchanged.
func (s *CartService) MergeSessionCart(ctx context.Context, userID, sessionID string) (*domain.CartView, error) {
	if userID == "" || sessionID == "" {
		return nil, apperrors.InvalidInput("both a user id and a session id are required to merge")
	}
	return s.GetCart(ctx, Identity{UserID: userID, SessionID: sessionID})
}

// AddProduct adds quantity units of a product, or of one of its variants, to
// the caller's cart. An equivalent line has its quantity increased.
func (s *CartService) AddProduct(ctx context.Context, id Identity, in AddProductInput) (*domain.CartView, error) {
	if err := id.validate(); err != nil {
		return nil, err
	}
	if in.ProductID == "" {
		return nil, apperrors.InvalidInput("product_id is required")
	}
	if in.Quantity < 1 {
		return nil, apperrors.InvalidInput("quantity must be at least 1")
	}

	product, err := s.catalog.Products.FindProductByID(ctx, in.ProductID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("product", in.ProductID)
		}
		return nil, fmt.Errorf("find product %s: %w", in.ProductID, err)
	}
	if !product.IsPurchasable() {
		return nil, apperrors.NotFound("product", in.ProductID)
	}
	if in.VariantID != "" {
		if _, ok := product.Variant(in.VariantID); !ok {
			return nil, apperrors.NotFound("product variant", in.VariantID)
		}
	}

	var stored *domain.CartItem
	cart, err := s.mutate(ctx, id, func(repo repository.CartRepository, cart *domain.Cart) error {
		var err error
		stored, err = repo.UpsertLineItem(ctx, &domain.CartItem{
			CartID:    cart.ID,
			ItemType:  domain.ItemTypeProduct,
			ProductID: in.ProductID,
			VariantID: in.VariantID,
			Quantity:  in.Quantity,
		})
		if err != nil {
			return fmt.Errorf("upsert product line: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "product added to cart",
		slog.String("cart_id", cart.ID),
		slog.String("product_id", in.ProductID),
		slog.String("variant_id", in.VariantID),
		slog.Int("quantity", stored.Quantity),
	)
	return s.presentAndPublish(ctx, cart)
}

// AddCourse adds a paid course to the caller's cart. Free courses, courses
// the user is enrolled in and courses already in the cart are rejected.
func (s *CartService) AddCourse(ctx context.Context, id Identity, courseID string) (*domain.CartView, error) {
	if err := id.validate(); err != nil {
		return nil, err
	}
	if courseID == "" {
		return nil, apperrors.InvalidInput("course_id is required")
	}

	course, err := s.catalog.Courses.FindCourseByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("course", courseID)
		}
		return nil, fmt.Errorf("find course %s: %w", courseID, err)
	}
	if !course.IsPublished() {
		return nil, apperrors.NotFound("course", courseID)
	}
	if course.IsFree() {
		return nil, apperrors.InvalidInput("free courses cannot be added to the cart, use direct enrollment")
	}
	if id.UserID != "" {
		enrolled, err := s.isEnrolled(ctx, courseID, id.UserID)
		if err != nil {
			return nil, err
		}
		if enrolled {
			return nil, apperrors.InvalidInput("already enrolled in this course")
		}
	}

	cart, err := s.mutate(ctx, id, func(repo repository.CartRepository, cart *domain.Cart) error {
		if _, ok := cart.FindEquivalent(domain.CourseKey(courseID)); ok {
			return apperrors.InvalidInput("course is already in the cart")
		}
		stored, err := repo.UpsertLineItem(ctx, &domain.CartItem{
			CartID:   cart.ID,
			ItemType: domain.ItemTypeCourse,
			CourseID: courseID,
			Quantity: 1,
		})
		if err != nil {
			return fmt.Errorf("insert course line: %w", err)
		}
		// A concurrent add of the same course landed first.
		if stored.Quantity != 1 {
			return apperrors.InvalidInput("course is already in the cart")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "course added to cart",
		slog.String("cart_id", cart.ID),
		slog.String("course_id", courseID),
	)
	return s.presentAndPublish(ctx, cart)
}

// UpdateItemQuantity overwrites the quantity of a line of the caller's cart.
// A quantity of zero removes the line.
func (s *CartService) UpdateItemQuantity(ctx context.Context, id Identity, itemID string, quantity int) (*domain.CartView, error) {
	if err := id.validate(); err != nil {
		return nil, err
	}
	if itemID == "" {
		return nil, apperrors.InvalidInput("item id is required")
	}
	if quantity < 0 {
		return nil, apperrors.InvalidInput("quantity must not be negative")
	}

	cart, err := s.mutate(ctx, id, func(repo repository.CartRepository, cart *domain.Cart) error {
		item, ok := cart.FindItem(itemID)
		if !ok {
			return apperrors.NotFound("cart item", itemID)
		}
		if quantity == 0 {
			return repo.DeleteLineItem(ctx, cart.ID, itemID)
		}
		if item.ItemType == domain.ItemTypeCourse && quantity != 1 {
			return apperrors.InvalidInput("course quantity is fixed at 1")
		}
		return repo.UpdateLineItemQuantity(ctx, cart.ID, itemID, quantity)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "cart item quantity updated",
		slog.String("cart_id", cart.ID),
		slog.String("item_id", itemID),
		slog.Int("quantity", quantity),
	)
	return s.presentAndPublish(ctx, cart)
}

// RemoveItem deletes a line of the caller's cart.
func (s *CartService) RemoveItem(ctx context.Context, id Identity, itemID string) (*domain.CartView, error) {
	if err := id.validate(); err != nil {
		return nil, err
	}
	if itemID == "" {
		return nil, apperrors.InvalidInput("item id is required")
	}

	cart, err := s.mutate(ctx, id, func(repo repository.CartRepository, cart *domain.Cart) error {
		if _, ok := cart.FindItem(itemID); !ok {
			return apperrors.NotFound("cart item", itemID)
		}
		return repo.DeleteLineItem(ctx, cart.ID, itemID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "item removed from cart",
		slog.String("cart_id", cart.ID),
		slog.String("item_id", itemID),
	)
	return s.presentAndPublish(ctx, cart)
}

// ClearCart removes every line of the caller's cart. The cart itself stays.
func (s *CartService) ClearCart(ctx context.Context, id Identity) (*domain.CartView, error) {
	if err := id.validate(); err != nil {
		return nil, err
	}

	var removed int
	cart, err := s.mutate(ctx, id, func(repo repository.CartRepository, cart *domain.Cart) error {
		var err error
		removed, err = repo.ClearLineItems(ctx, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "cart cleared",
		slog.String("cart_id", cart.ID),
		slog.Int("removed_items", removed),
	)
	if s.events != nil {
		if err := s.events.PublishCartCleared(ctx, cart, removed); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish cart.cleared event",
				slog.String("cart_id", cart.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return s.present(ctx, cart)
}

// mutate resolves the caller's cart, applies fn and reloads the cart, all in
// one unit of work.
func (s *CartService) mutate(ctx context.Context, id Identity, fn func(repo repository.CartRepository, cart *domain.Cart) error) (*domain.Cart, error) {
	var merged *event.MergeResult
	var cart *domain.Cart
	err := s.withCart(ctx, id, func(repo repository.CartRepository, c *domain.Cart, m *event.MergeResult) error {
		merged = m
		if err := fn(repo, c); err != nil {
			return err
		}
		reloaded, err := repo.FindCartByID(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("reload cart %s: %w", c.ID, err)
		}
		cart = reloaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	if merged != nil {
		s.publishMerged(ctx, cart, id.SessionID, *merged)
	}
	return cart, nil
}

// withCart runs resolution and fn in a transaction. Losing a creation race
// to a concurrent request rolls back and resolves again.
func (s *CartService) withCart(ctx context.Context, id Identity, fn func(repo repository.CartRepository, cart *domain.Cart, merged *event.MergeResult) error) error {
	var err error
	for attempt := 0; attempt < createAttempts; attempt++ {
		err = s.store.WithinTx(ctx, func(repo repository.CartRepository) error {
			cart, merged, rerr := s.resolve(ctx, repo, id)
			if rerr != nil {
				return rerr
			}
			return fn(repo, cart, merged)
		})
		if !errors.Is(err, errCartCreateRace) {
			return err
		}
		s.logger.DebugContext(ctx, "cart created concurrently, resolving again",
			slog.String("user_id", id.UserID),
			slog.String("session_id", id.SessionID),
		)
	}
	return fmt.Errorf("resolve cart: %w", err)
}

func (s *CartService) isEnrolled(ctx context.Context, courseID, userID string) (bool, error) {
	if s.catalog.Enrollments == nil {
		return false, nil
	}
	_, err := s.catalog.Enrollments.FindEnrollment(ctx, courseID, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, apperrors.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("find enrollment: %w", err)
	}
}

func (s *CartService) presentAndPublish(ctx context.Context, cart *domain.Cart) (*domain.CartView, error) {
	view, err := s.present(ctx, cart)
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		if err := s.events.PublishCartUpdated(ctx, view); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish cart.updated event",
				slog.String("cart_id", cart.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return view, nil
}

func (s *CartService) publishMerged(ctx context.Context, cart *domain.Cart, sessionID string, res event.MergeResult) {
	s.logger.InfoContext(ctx, "session cart merged",
		slog.String("cart_id", cart.ID),
		slog.String("session_cart_id", res.SessionCartID),
		slog.Bool("transferred", res.Transferred),
		slog.Int("incremented", res.Incremented),
		slog.Int("moved", res.Moved),
		slog.Int("dropped", res.Dropped),
	)
	if s.events == nil {
		return
	}
	if err := s.events.PublishCartMerged(ctx, cart, sessionID, res); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.merged event",
			slog.String("cart_id", cart.ID),
			slog.String("error", err.Error()),
		)
	}
}
