package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/syntex82/nodepress/pkg/errors"
	"github.com/syntex82/nodepress/services/cart/internal/domain"
	"github.com/syntex82/nodepress/services/cart/internal/repository"
)

var ctx = context.Background()

func newCart(t *testing.T, s *Store, id, userID, sessionID string) {
	t.Helper()
	require.NoError(t, s.CreateCart(ctx, &domain.Cart{ID: id, UserID: userID, SessionID: sessionID, Currency: "USD"}))
}

func addProduct(t *testing.T, s *Store, cartID, productID, variantID string, qty int) *domain.CartItem {
	t.Helper()
	item, err := s.UpsertLineItem(ctx, &domain.CartItem{
		CartID: cartID, ItemType: domain.ItemTypeProduct, ProductID: productID, VariantID: variantID, Quantity: qty,
	})
	require.NoError(t, err)
	return item
}

func TestStore_CreateAndFind(t *testing.T) {
	s := NewStore()
	newCart(t, s, "c-user", "u-1", "")
	newCart(t, s, "c-sess", "", "s-1")

	byUser, err := s.FindCartByUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "c-user", byUser.ID)
	assert.NotNil(t, byUser.Items)

	bySession, err := s.FindCartBySession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "c-sess", bySession.ID)

	_, err = s.FindCartByUser(ctx, "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.FindCartBySession(ctx, "s-9")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.FindCartByID(ctx, "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStore_OneCartPerOwner(t *testing.T) {
	s := NewStore()
	newCart(t, s, "c-1", "u-1", "")
	newCart(t, s, "c-2", "", "s-1")

	err := s.CreateCart(ctx, &domain.Cart{ID: "c-3", UserID: "u-1"})
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	err = s.CreateCart(ctx, &domain.Cart{ID: "c-4", SessionID: "s-1"})
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)

	err = s.AssignCartToUser(ctx, "c-2", "u-1")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
}

func TestStore_AssignCartToUserClearsSession(t *testing.T) {
	s := NewStore()
	newCart(t, s, "c-1", "", "s-1")
	require.NoError(t, s.AssignCartToUser(ctx, "c-1", "u-1"))

	c, err := s.FindCartByUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", c.ID)
	assert.Empty(t, c.SessionID)

	_, err = s.FindCartBySession(ctx, "s-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.ErrorIs(t, s.AssignCartToUser(ctx, "missing", "u-2"), apperrors.ErrNotFound)
}

func TestStore_UpsertMergesEquivalent(t *testing.T) {
	s := NewStore()
	newCart(t, s, "c-1", "u-1", "")

	first := addProduct(t, s, "c-1", "p-1", "v-1", 2)
	second := addProduct(t, s, "c-1", "p-1", "v-1", 3)
	other := addProduct(t, s, "c-1", "p-1", "", 1)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 5, second.Quantity)
	assert.NotEqual(t, first.ID, other.ID)

	c, err := s.FindCartByID(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, c.Items, 2)
	assert.Equal(t, first.ID, c.Items[0].ID, "items load in insertion order")
	assert.Equal(t, other.ID, c.Items[1].ID)

	_, err = s.UpsertLineItem(ctx, &domain.CartItem{CartID: "missing", ItemType: domain.ItemTypeProduct, ProductID: "p", Quantity: 1})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStore_UpsertDropsEnrichment(t *testing.T) {
	s := NewStore()
	newCart(t, s, "c-1", "u-1", "")
	_, err := s.UpsertLineItem(ctx, &domain.CartItem{
		CartID: "c-1", ItemType: domain.ItemTypeCourse, CourseID: "co-1", Quantity: 1,
		Course: &domain.Course{ID: "co-1"},
	})
	require.NoError(t, err)

	item, err := s.FindLineItem(ctx, "c-1", domain.CourseKey("co-1"))
	require.NoError(t, err)
	assert.Nil(t, item.Course)

	_, err = s.FindLineItem(ctx, "c-1", domain.CourseKey("co-2"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStore_ItemMutationsCheckOwnership(t *testing.T) {
	s := NewStore()
	newCart(t, s, "c-1", "u-1", "")
	newCart(t, s, "c-2", "u-2", "")
	item := addProduct(t, s, "c-1", "p-1", "", 1)

	assert.ErrorIs(t, s.UpdateLineItemQuantity(ctx, "c-2", item.ID, 4), apperrors.ErrNotFound)
	assert.ErrorIs(t, s.IncrementLineItemQuantity(ctx, "c-2", item.ID, 1), apperrors.ErrNotFound)
	assert.ErrorIs(t, s.DeleteLineItem(ctx, "c-2", item.ID), apperrors.ErrNotFound)

	require.NoError(t, s.UpdateLineItemQuantity(ctx, "c-1", item.ID, 4))
	require.NoError(t, s.IncrementLineItemQuantity(ctx, "c-1", item.ID, 2))
	got, err := s.FindLineItem(ctx, "c-1", item.Key())
	require.NoError(t, err)
	assert.Equal(t, 6, got.Quantity)

	require.NoError(t, s.DeleteLineItem(ctx, "c-1", item.ID))
	c, _ := s.FindCartByID(ctx, "c-1")
	assert.Empty(t, c.Items)
}

func TestStore_LockCartReportsPresence(t *testing.T) {
	s := NewStore()
	newCart(t, s, "c-1", "", "s-1")

	locked, err := s.LockCart(ctx, "c-1")
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, s.DeleteCart(ctx, "c-1"))
	err = s.WithinTx(ctx, func(repo repository.CartRepository) error {
		locked, err = repo.LockCart(ctx, "c-1")
		return err
	})
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestStore_MoveLineItemGuardedBySource(t *testing.T) {
	s := NewStore()
	newCart(t, s, "from", "", "s-1")
	newCart(t, s, "to", "u-1", "")
	item := addProduct(t, s, "from", "p-1", "", 2)

	moved, err := s.MoveLineItem(ctx, item.ID, "from", "to")
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = s.MoveLineItem(ctx, item.ID, "from", "to")
	require.NoError(t, err)
	assert.False(t, moved, "second move is a no-op")

	addProduct(t, s, "from", "p-1", "", 1)
	dup, _ := s.FindLineItem(ctx, "from", domain.ProductKey("p-1", ""))
	_, err = s.MoveLineItem(ctx, dup.ID, "from", "to")
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestStore_DeleteAndClear(t *testing.T) {
	s := NewStore()
	newCart(t, s, "c-1", "u-1", "")
	addProduct(t, s, "c-1", "p-1", "", 1)
	addProduct(t, s, "c-1", "p-2", "", 1)

	n, err := s.ClearLineItems(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	c, err := s.FindCartByID(ctx, "c-1")
	require.NoError(t, err, "clear keeps the cart row")
	assert.Empty(t, c.Items)

	addProduct(t, s, "c-1", "p-3", "", 1)
	require.NoError(t, s.DeleteCart(ctx, "c-1"))
	require.NoError(t, s.DeleteCart(ctx, "c-1"), "deleting twice is a no-op")
	_, err = s.FindCartByID(ctx, "c-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Empty(t, s.st.items)
}

func TestStore_WithinTxRollsBack(t *testing.T) {
	s := NewStore()
	newCart(t, s, "c-1", "u-1", "")
	addProduct(t, s, "c-1", "p-1", "", 1)

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(repo repository.CartRepository) error {
		if _, err := repo.ClearLineItems(ctx, "c-1"); err != nil {
			return err
		}
		if err := repo.DeleteCart(ctx, "c-1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	c, err := s.FindCartByID(ctx, "c-1")
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)
}

func TestStore_WithinTxCommits(t *testing.T) {
	s := NewStore()
	newCart(t, s, "c-1", "", "s-1")

	err := s.WithinTx(ctx, func(repo repository.CartRepository) error {
		return repo.AssignCartToUser(ctx, "c-1", "u-1")
	})
	require.NoError(t, err)

	c, err := s.FindCartByUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", c.ID)
}

func TestStore_ConcurrentUpserts(t *testing.T) {
	s := NewStore()
	newCart(t, s, "c-1", "u-1", "")

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.UpsertLineItem(ctx, &domain.CartItem{CartID: "c-1", ItemType: domain.ItemTypeProduct, ProductID: "p-1", Quantity: 1})
		}()
	}
	wg.Wait()

	c, err := s.FindCartByID(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 50, c.Items[0].Quantity)
}
