package repository

import (
	"context"

	"github.com/syntex82/nodepress/services/cart/internal/domain"
)

// CartRepository persists carts and their line items. Find methods return
// apperrors.ErrNotFound when nothing matches and load items oldest first.
type CartRepository interface {
	FindCartByID(ctx context.Context, cartID string) (*domain.Cart, error)
	FindCartByUser(ctx context.Context, userID string) (*domain.Cart, error)
	FindCartBySession(ctx context.Context, sessionID string) (*domain.Cart, error)

	// CreateCart inserts an empty cart. ErrAlreadyExists is returned when the
	// owner already has one.
	CreateCart(ctx context.Context, cart *domain.Cart) error

	// AssignCartToUser sets the cart owner and clears its session key.
	AssignCartToUser(ctx context.Context, cartID, userID string) error

	// LockCart takes a row lock on a cart for the rest of the transaction and
	// reports whether the cart still exists. Outside a transaction the lock is
	// released at once.
	LockCart(ctx context.Context, cartID string) (bool, error)

	// DeleteCart removes a cart and its items. Deleting a missing cart is not
	// an error.
	DeleteCart(ctx context.Context, cartID string) error

	FindLineItem(ctx context.Context, cartID string, key domain.ItemKey) (*domain.CartItem, error)

	// UpsertLineItem adds item.Quantity to an equivalent item of the same cart
	// or inserts item when none exists. It returns the stored row.
	UpsertLineItem(ctx context.Context, item *domain.CartItem) (*domain.CartItem, error)

	// UpdateLineItemQuantity overwrites the quantity of an item of cartID.
	UpdateLineItemQuantity(ctx context.Context, cartID, itemID string, quantity int) error

	// IncrementLineItemQuantity adds delta to the quantity of an item of cartID.
	IncrementLineItemQuantity(ctx context.Context, cartID, itemID string, delta int) error

	// MoveLineItem reassigns an item to toCartID only while it still belongs
	// to fromCartID. It reports whether the row moved.
	MoveLineItem(ctx context.Context, itemID, fromCartID, toCartID string) (bool, error)

	// DeleteLineItem removes an item of cartID.
	DeleteLineItem(ctx context.Context, cartID, itemID string) error

	// ClearLineItems removes every item of cartID and returns how many went.
	ClearLineItems(ctx context.Context, cartID string) (int, error)
}

// Store is a CartRepository that can run a unit of work atomically. The
// repository handed to fn must be used for every call inside it.
type Store interface {
	CartRepository
	WithinTx(ctx context.Context, fn func(repo CartRepository) error) error
}
