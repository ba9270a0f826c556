package memory

import (
	"context"

	"github.com/syntex82/nodepress/services/cart/internal/domain"
)

func (s *Store) FindCartByID(ctx context.Context, cartID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.FindCartByID(ctx, cartID)
}

func (s *Store) FindCartByUser(ctx context.Context, userID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.FindCartByUser(ctx, userID)
}

func (s *Store) FindCartBySession(ctx context.Context, sessionID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.FindCartBySession(ctx, sessionID)
}

func (s *Store) CreateCart(ctx context.Context, cart *domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateCart(ctx, cart)
}

func (s *Store) AssignCartToUser(ctx context.Context, cartID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.AssignCartToUser(ctx, cartID, userID)
}

func (s *Store) LockCart(ctx context.Context, cartID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.LockCart(ctx, cartID)
}

func (s *Store) DeleteCart(ctx context.Context, cartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.DeleteCart(ctx, cartID)
}

func (s *Store) FindLineItem(ctx context.Context, cartID string, key domain.ItemKey) (*domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.FindLineItem(ctx, cartID, key)
}

func (s *Store) UpsertLineItem(ctx context.Context, item *domain.CartItem) (*domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpsertLineItem(ctx, item)
}

func (s *Store) UpdateLineItemQuantity(ctx context.Context, cartID, itemID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpdateLineItemQuantity(ctx, cartID, itemID, quantity)
}

func (s *Store) IncrementLineItemQuantity(ctx context.Context, cartID, itemID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.IncrementLineItemQuantity(ctx, cartID, itemID, delta)
}

func (s *Store) MoveLineItem(ctx context.Context, itemID, fromCartID, toCartID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.MoveLineItem(ctx, itemID, fromCartID, toCartID)
}

func (s *Store) DeleteLineItem(ctx context.Context, cartID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.DeleteLineItem(ctx, cartID, itemID)
}

func (s *Store) ClearLineItems(ctx context.Context, cartID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ClearLineItems(ctx, cartID)
}
