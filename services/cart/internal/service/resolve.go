package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/syntex82/nodepress/pkg/errors"
	"github.com/syntex82/nodepress/services/cart/internal/domain"
	"github.com/syntex82/nodepress/services/cart/internal/event"
	"github.com/syntex82/nodepress/services/cart/internal/repository"
)

var errCartCreateRace = errors.New("cart created concurrently")

// resolve finds the single cart of id, merging a non-empty session cart into
// the user cart when both exist, and creates an empty cart when none does.
// merged is non-nil when the session cart was transferred or merged.
func (s *CartService) resolve(ctx context.Context, repo repository.CartRepository, id Identity) (cart *domain.Cart, merged *event.MergeResult, err error) {
	var userCart, sessionCart *domain.Cart

	if id.UserID != "" {
		if userCart, err = optional(repo.FindCartByUser(ctx, id.UserID)); err != nil {
			return nil, nil, fmt.Errorf("find user cart: %w", err)
		}
	}
	if id.SessionID != "" {
		if sessionCart, err = optional(repo.FindCartBySession(ctx, id.SessionID)); err != nil {
			return nil, nil, fmt.Errorf("find session cart: %w", err)
		}
	}

	if id.UserID != "" && sessionCart != nil && !sessionCart.IsEmpty() {
		switch {
		case userCart == nil:
			if err := repo.AssignCartToUser(ctx, sessionCart.ID, id.UserID); err != nil {
				return nil, nil, fmt.Errorf("transfer session cart: %w", err)
			}
			sessionCart.UserID, sessionCart.SessionID = id.UserID, ""
			return sessionCart, &event.MergeResult{SessionCartID: sessionCart.ID, Transferred: true}, nil
		case userCart.ID != sessionCart.ID:
			return s.merge(ctx, repo, id.UserID, sessionCart, userCart)
		}
	}

	if userCart != nil {
		return userCart, nil, nil
	}
	if sessionCart != nil {
		return sessionCart, nil, nil
	}

	cart, err = s.create(ctx, repo, id)
	return cart, nil, err
}

// merge folds every line of session into user. Equivalent product lines have
// their quantities added; other lines change cart. Course lines already in
// the user cart, or already owned by the user, are dropped with the session
// cart so courses stay at quantity 1.
//
// The session cart row is locked first. A concurrent merge of the same pair
// blocks there and, once the winner has deleted the session cart, returns
// the user cart without adding quantities a second time.
func (s *CartService) merge(ctx context.Context, repo repository.CartRepository, userID string, session, user *domain.Cart) (*domain.Cart, *event.MergeResult, error) {
	locked, err := repo.LockCart(ctx, session.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock session cart: %w", err)
	}
	if !locked {
		cart, err := repo.FindCartByID(ctx, user.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("reload user cart: %w", err)
		}
		return cart, nil, nil
	}

	// Both carts were read before the lock was held.
	if session, err = repo.FindCartByID(ctx, session.ID); err != nil {
		return nil, nil, fmt.Errorf("reload session cart: %w", err)
	}
	if user, err = repo.FindCartByID(ctx, user.ID); err != nil {
		return nil, nil, fmt.Errorf("reload user cart: %w", err)
	}

	res := &event.MergeResult{SessionCartID: session.ID}

	for i := range session.Items {
		item := &session.Items[i]

		if existing, ok := user.FindEquivalent(item.Key()); ok {
			if item.ItemType == domain.ItemTypeCourse {
				res.Dropped++
				continue
			}
			if err := repo.IncrementLineItemQuantity(ctx, user.ID, existing.ID, item.Quantity); err != nil {
				return nil, nil, fmt.Errorf("merge item %s: %w", item.ID, err)
			}
			res.Incremented++
			continue
		}

		if item.ItemType == domain.ItemTypeCourse {
			enrolled, err := s.isEnrolled(ctx, item.CourseID, userID)
			if err != nil {
				return nil, nil, err
			}
			if enrolled {
				res.Dropped++
				continue
			}
		}

		moved, err := repo.MoveLineItem(ctx, item.ID, session.ID, user.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("move item %s: %w", item.ID, err)
		}
		if moved {
			res.Moved++
		}
	}

	if err := repo.DeleteCart(ctx, session.ID); err != nil {
		return nil, nil, fmt.Errorf("delete session cart: %w", err)
	}
	cart, err := repo.FindCartByID(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("reload user cart: %w", err)
	}
	return cart, res, nil
}

// create inserts an empty cart owned by the user when one is given, else by
// the session.
func (s *CartService) create(ctx context.Context, repo repository.CartRepository, id Identity) (*domain.Cart, error) {
	now := s.now()
	cart := &domain.Cart{
		ID:        uuid.NewString(),
		Currency:  s.currency,
		Items:     []domain.CartItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if id.UserID != "" {
		cart.UserID = id.UserID
	} else {
		cart.SessionID = id.SessionID
	}

	if err := repo.CreateCart(ctx, cart); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, errCartCreateRace
		}
		return nil, fmt.Errorf("create cart: %w", err)
	}
	return cart, nil
}

func optional(cart *domain.Cart, err error) (*domain.Cart, error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return cart, err
}
