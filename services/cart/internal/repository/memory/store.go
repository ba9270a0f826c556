// Package memory is an in-process cart store for tests and CART_STORE=memory.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/syntex82/nodepress/pkg/errors"
	"github.com/syntex82/nodepress/services/cart/internal/domain"
	"github.com/syntex82/nodepress/services/cart/internal/repository"
)

type itemRow struct {
	item domain.CartItem
	seq  uint64
}

// state holds the data and implements the repository without locking; Store
// wraps every call in its mutex.
type state struct {
	carts map[string]domain.Cart
	items map[string]itemRow
	seq   uint64
	now   func() time.Time
}

// Store is a mutex-guarded map implementation of repository.Store.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ repository.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{st: &state{
		carts: make(map[string]domain.Cart),
		items: make(map[string]itemRow),
		now:   func() time.Time { return time.Now().UTC() },
	}}
}

// WithinTx runs fn with exclusive access to the store. When fn fails every
// change it made is rolled back.
func (s *Store) WithinTx(_ context.Context, fn func(repo repository.CartRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	carts, items, seq := maps.Clone(s.st.carts), maps.Clone(s.st.items), s.st.seq
	if err := fn(s.st); err != nil {
		s.st.carts, s.st.items, s.st.seq = carts, items, seq
		return err
	}
	return nil
}

func (st *state) load(cartID string) (*domain.Cart, error) {
	c, ok := st.carts[cartID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	rows := make([]itemRow, 0)
	for _, r := range st.items {
		if r.item.CartID == cartID {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	c.Items = make([]domain.CartItem, len(rows))
	for i, r := range rows {
		c.Items[i] = r.item
	}
	return &c, nil
}

func (st *state) findBy(match func(c domain.Cart) bool) (*domain.Cart, error) {
	for id, c := range st.carts {
		if match(c) {
			return st.load(id)
		}
	}
	return nil, apperrors.ErrNotFound
}

func (st *state) FindCartByID(_ context.Context, cartID string) (*domain.Cart, error) {
	return st.load(cartID)
}

func (st *state) FindCartByUser(_ context.Context, userID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, apperrors.ErrNotFound
	}
	return st.findBy(func(c domain.Cart) bool { return c.UserID == userID })
}

func (st *state) FindCartBySession(_ context.Context, sessionID string) (*domain.Cart, error) {
	if sessionID == "" {
		return nil, apperrors.ErrNotFound
	}
	return st.findBy(func(c domain.Cart) bool { return c.SessionID == sessionID })
}

func (st *state) ownerTaken(exceptID, userID, sessionID string) error {
	for id, c := range st.carts {
		if id == exceptID {
			continue
		}
		if userID != "" && c.UserID == userID {
			return apperrors.AlreadyExists("cart", "user_id", userID)
		}
		if sessionID != "" && c.SessionID == sessionID {
			return apperrors.AlreadyExists("cart", "session_id", sessionID)
		}
	}
	return nil
}

func (st *state) CreateCart(_ context.Context, cart *domain.Cart) error {
	if _, ok := st.carts[cart.ID]; ok {
		return apperrors.AlreadyExists("cart", "id", cart.ID)
	}
	if err := st.ownerTaken("", cart.UserID, cart.SessionID); err != nil {
		return err
	}
	row := *cart
	row.Items = nil
	st.carts[cart.ID] = row
	return nil
}

func (st *state) AssignCartToUser(_ context.Context, cartID, userID string) error {
	c, ok := st.carts[cartID]
	if !ok {
		return apperrors.NotFound("cart", cartID)
	}
	if err := st.ownerTaken(cartID, userID, ""); err != nil {
		return err
	}
	c.UserID = userID
	c.SessionID = ""
	c.UpdatedAt = st.now()
	st.carts[cartID] = c
	return nil
}

// LockCart only reports presence; WithinTx already holds the store mutex.
func (st *state) LockCart(_ context.Context, cartID string) (bool, error) {
	_, ok := st.carts[cartID]
	return ok, nil
}

func (st *state) DeleteCart(_ context.Context, cartID string) error {
	delete(st.carts, cartID)
	for id, r := range st.items {
		if r.item.CartID == cartID {
			delete(st.items, id)
		}
	}
	return nil
}

func (st *state) equivalent(cartID string, key domain.ItemKey) (string, bool) {
	for id, r := range st.items {
		if r.item.CartID == cartID && r.item.Key() == key {
			return id, true
		}
	}
	return "", false
}

func (st *state) FindLineItem(_ context.Context, cartID string, key domain.ItemKey) (*domain.CartItem, error) {
	id, ok := st.equivalent(cartID, key)
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	item := st.items[id].item
	return &item, nil
}

func (st *state) UpsertLineItem(_ context.Context, item *domain.CartItem) (*domain.CartItem, error) {
	if _, ok := st.carts[item.CartID]; !ok {
		return nil, apperrors.NotFound("cart", item.CartID)
	}
	now := st.now()

	if id, ok := st.equivalent(item.CartID, item.Key()); ok {
		r := st.items[id]
		r.item.Quantity += item.Quantity
		r.item.UpdatedAt = now
		st.items[id] = r
		stored := r.item
		return &stored, nil
	}

	row := *item
	row.Product, row.Variant, row.Course = nil, nil, nil
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	row.CreatedAt, row.UpdatedAt = now, now
	st.seq++
	st.items[row.ID] = itemRow{item: row, seq: st.seq}
	return &row, nil
}

func (st *state) mutateItem(cartID, itemID string, fn func(*domain.CartItem)) error {
	r, ok := st.items[itemID]
	if !ok || r.item.CartID != cartID {
		return apperrors.NotFound("cart item", itemID)
	}
	fn(&r.item)
	r.item.UpdatedAt = st.now()
	st.items[itemID] = r
	return nil
}

func (st *state) UpdateLineItemQuantity(_ context.Context, cartID, itemID string, quantity int) error {
	return st.mutateItem(cartID, itemID, func(i *domain.CartItem) { i.Quantity = quantity })
}

func (st *state) IncrementLineItemQuantity(_ context.Context, cartID, itemID string, delta int) error {
	return st.mutateItem(cartID, itemID, func(i *domain.CartItem) { i.Quantity += delta })
}

func (st *state) MoveLineItem(_ context.Context, itemID, fromCartID, toCartID string) (bool, error) {
	r, ok := st.items[itemID]
	if !ok || r.item.CartID != fromCartID {
		return false, nil
	}
	if _, ok := st.carts[toCartID]; !ok {
		return false, apperrors.NotFound("cart", toCartID)
	}
	if _, dup := st.equivalent(toCartID, r.item.Key()); dup {
		return false, apperrors.Conflict("target cart already holds an equivalent item")
	}
	r.item.CartID = toCartID
	r.item.UpdatedAt = st.now()
	st.items[itemID] = r
	return true, nil
}

func (st *state) DeleteLineItem(_ context.Context, cartID, itemID string) error {
	r, ok := st.items[itemID]
	if !ok || r.item.CartID != cartID {
		return apperrors.NotFound("cart item", itemID)
	}
	delete(st.items, itemID)
	return nil
}

func (st *state) ClearLineItems(_ context.Context, cartID string) (int, error) {
	n := 0
	for id, r := range st.items {
		if r.item.CartID == cartID {
			delete(st.items, id)
			n++
		}
	}
	return n, nil
}
