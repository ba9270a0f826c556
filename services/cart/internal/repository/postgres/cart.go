package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/syntex82/nodepress/pkg/database"
	apperrors "github.com/syntex82/nodepress/pkg/errors"
	"github.com/syntex82/nodepress/services/cart/internal/domain"
	"github.com/syntex82/nodepress/services/cart/internal/repository"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// cartSelect loads a cart row with its items aggregated oldest first.
const cartSelect = `
	SELECT
		c.id, COALESCE(c.user_id, ''), COALESCE(c.session_id, ''), c.currency, c.created_at, c.updated_at,
		COALESCE(
			JSONB_AGG(
				JSONB_BUILD_OBJECT(
					'id', i.id,
					'cart_id', i.cart_id,
					'item_type', i.item_type,
					'product_id', COALESCE(i.product_id, ''),
					'variant_id', COALESCE(i.variant_id, ''),
					'course_id', COALESCE(i.course_id, ''),
					'quantity', i.quantity,
					'created_at', i.created_at,
					'updated_at', i.updated_at
				) ORDER BY i.created_at, i.id
			) FILTER (WHERE i.id IS NOT NULL),
			'[]'::jsonb
		) AS items
	FROM carts c
	LEFT JOIN cart_items i ON i.cart_id = c.id`

const itemColumns = `id, cart_id, item_type, COALESCE(product_id, ''), COALESCE(variant_id, ''), COALESCE(course_id, ''), quantity, created_at, updated_at`

// CartRepository implements repository.CartRepository using PostgreSQL.
type CartRepository struct {
	pool database.DBTX
}

var _ repository.CartRepository = (*CartRepository)(nil)

// NewCartRepository creates a repository over a pool or a transaction.
func NewCartRepository(pool database.DBTX) *CartRepository {
	return &CartRepository{pool: pool}
}

func (r *CartRepository) findCart(ctx context.Context, op, where, arg string) (_ *domain.Cart, err error) {
	query := cartSelect + "\n\tWHERE " + where + " = $1\n\tGROUP BY c.id"
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	var (
		c         domain.Cart
		itemsJSON []byte
	)
	err = r.pool.QueryRow(ctx, query, arg).Scan(
		&c.ID, &c.UserID, &c.SessionID, &c.Currency, &c.CreatedAt, &c.UpdatedAt, &itemsJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan cart: %w", err)
	}

	c.Items = []domain.CartItem{}
	if len(itemsJSON) > 0 && string(itemsJSON) != "[]" {
		if err := json.Unmarshal(itemsJSON, &c.Items); err != nil {
			return nil, fmt.Errorf("unmarshal cart items: %w", err)
		}
	}
	return &c, nil
}

// FindCartByID loads a cart by id.
func (r *CartRepository) FindCartByID(ctx context.Context, cartID string) (*domain.Cart, error) {
	return r.findCart(ctx, "FindCartByID", "c.id", cartID)
}

// FindCartByUser loads the cart owned by a user.
func (r *CartRepository) FindCartByUser(ctx context.Context, userID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, apperrors.ErrNotFound
	}
	return r.findCart(ctx, "FindCartByUser", "c.user_id", userID)
}

// FindCartBySession loads the cart of an anonymous session.
func (r *CartRepository) FindCartBySession(ctx context.Context, sessionID string) (*domain.Cart, error) {
	if sessionID == "" {
		return nil, apperrors.ErrNotFound
	}
	return r.findCart(ctx, "FindCartBySession", "c.session_id", sessionID)
}

// CreateCart inserts an empty cart. Empty owner keys are stored as NULL.
func (r *CartRepository) CreateCart(ctx context.Context, cart *domain.Cart) (err error) {
	query := `
		INSERT INTO carts (id, user_id, session_id, currency, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6)`
	ctx, end := database.TraceQuery(ctx, "CreateCart", query)
	defer func() { end(err) }()

	_, err = r.pool.Exec(ctx, query,
		cart.ID, cart.UserID, cart.SessionID, cart.Currency, cart.CreatedAt, cart.UpdatedAt,
	)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return apperrors.AlreadyExists("cart", "owner", ownerOf(cart))
		}
		return fmt.Errorf("insert cart: %w", err)
	}
	return nil
}

// AssignCartToUser transfers a cart to a user and drops its session key.
func (r *CartRepository) AssignCartToUser(ctx context.Context, cartID, userID string) (err error) {
	query := `UPDATE carts SET user_id = $2, session_id = NULL, updated_at = $3 WHERE id = $1`
	ctx, end := database.TraceQuery(ctx, "AssignCartToUser", query)
	defer func() { end(err) }()

	tag, err := r.pool.Exec(ctx, query, cartID, userID, time.Now().UTC())
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return apperrors.AlreadyExists("cart", "user_id", userID)
		}
		return fmt.Errorf("assign cart to user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("cart", cartID)
	}
	return nil
}

// LockCart locks the cart row with SELECT ... FOR UPDATE.
func (r *CartRepository) LockCart(ctx context.Context, cartID string) (_ bool, err error) {
	query := `SELECT id FROM carts WHERE id = $1 FOR UPDATE`
	ctx, end := database.TraceQuery(ctx, "LockCart", query)
	defer func() { end(err) }()

	var id string
	if err = r.pool.QueryRow(ctx, query, cartID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lock cart: %w", err)
	}
	return true, nil
}

// DeleteCart removes a cart; items cascade. A missing cart is not an error.
func (r *CartRepository) DeleteCart(ctx context.Context, cartID string) (err error) {
	query := `DELETE FROM carts WHERE id = $1`
	ctx, end := database.TraceQuery(ctx, "DeleteCart", query)
	defer func() { end(err) }()

	if _, err = r.pool.Exec(ctx, query, cartID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

// FindLineItem returns the item of cartID equivalent to key.
func (r *CartRepository) FindLineItem(ctx context.Context, cartID string, key domain.ItemKey) (_ *domain.CartItem, err error) {
	query := `SELECT ` + itemColumns + `
		FROM cart_items
		WHERE cart_id = $1 AND item_type = $2
			AND COALESCE(product_id, '') = $3 AND COALESCE(variant_id, '') = $4 AND COALESCE(course_id, '') = $5`
	ctx, end := database.TraceQuery(ctx, "FindLineItem", query)
	defer func() { end(err) }()

	item, err := scanItem(r.pool.QueryRow(ctx, query, cartID, string(key.ItemType), key.ProductID, key.VariantID, key.CourseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan cart item: %w", err)
	}
	return item, nil
}

// The conflict targets match the partial unique indexes of the cart_items
// migration.
const (
	upsertInsert = `
		INSERT INTO cart_items (id, cart_id, item_type, product_id, variant_id, course_id, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8, $8)`
	upsertProductConflict = `
		ON CONFLICT (cart_id, product_id, COALESCE(variant_id, '')) WHERE item_type = 'PRODUCT'`
	upsertCourseConflict = `
		ON CONFLICT (cart_id, course_id) WHERE item_type = 'COURSE'`
	upsertUpdate = `
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
		RETURNING ` + itemColumns
)

// UpsertLineItem inserts item or adds its quantity to the equivalent row in a
// single statement.
func (r *CartRepository) UpsertLineItem(ctx context.Context, item *domain.CartItem) (_ *domain.CartItem, err error) {
	conflict := upsertProductConflict
	if item.ItemType == domain.ItemTypeCourse {
		conflict = upsertCourseConflict
	}
	query := upsertInsert + conflict + upsertUpdate
	ctx, end := database.TraceQuery(ctx, "UpsertLineItem", query)
	defer func() { end(err) }()

	id := item.ID
	if id == "" {
		id = newID()
	}
	stored, err := scanItem(r.pool.QueryRow(ctx, query,
		id, item.CartID, string(item.ItemType), item.ProductID, item.VariantID, item.CourseID, item.Quantity, time.Now().UTC(),
	))
	if err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return nil, apperrors.NotFound("cart", item.CartID)
		}
		return nil, fmt.Errorf("upsert cart item: %w", err)
	}
	return stored, nil
}

func (r *CartRepository) execItem(ctx context.Context, op, query string, args ...any) (err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("cart item", fmt.Sprint(args[0]))
	}
	return nil
}

// UpdateLineItemQuantity overwrites an item quantity.
func (r *CartRepository) UpdateLineItemQuantity(ctx context.Context, cartID, itemID string, quantity int) error {
	return r.execItem(ctx, "UpdateLineItemQuantity",
		`UPDATE cart_items SET quantity = $3, updated_at = $4 WHERE id = $1 AND cart_id = $2`,
		itemID, cartID, quantity, time.Now().UTC())
}

// IncrementLineItemQuantity adds delta to an item quantity.
func (r *CartRepository) IncrementLineItemQuantity(ctx context.Context, cartID, itemID string, delta int) error {
	return r.execItem(ctx, "IncrementLineItemQuantity",
		`UPDATE cart_items SET quantity = quantity + $3, updated_at = $4 WHERE id = $1 AND cart_id = $2`,
		itemID, cartID, delta, time.Now().UTC())
}

// DeleteLineItem removes an item of cartID.
func (r *CartRepository) DeleteLineItem(ctx context.Context, cartID, itemID string) error {
	return r.execItem(ctx, "DeleteLineItem",
		`DELETE FROM cart_items WHERE id = $1 AND cart_id = $2`,
		itemID, cartID)
}

// MoveLineItem reassigns an item while it still belongs to fromCartID.
func (r *CartRepository) MoveLineItem(ctx context.Context, itemID, fromCartID, toCartID string) (_ bool, err error) {
	query := `UPDATE cart_items SET cart_id = $3, updated_at = $4 WHERE id = $1 AND cart_id = $2`
	ctx, end := database.TraceQuery(ctx, "MoveLineItem", query)
	defer func() { end(err) }()

	tag, err := r.pool.Exec(ctx, query, itemID, fromCartID, toCartID, time.Now().UTC())
	if err != nil {
		switch {
		case isPgError(err, pgUniqueViolation):
			return false, apperrors.Conflict("target cart already holds an equivalent item")
		case isPgError(err, pgForeignKeyViolation):
			return false, apperrors.NotFound("cart", toCartID)
		}
		return false, fmt.Errorf("move cart item: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClearLineItems removes every item of a cart and keeps the cart row.
func (r *CartRepository) ClearLineItems(ctx context.Context, cartID string) (_ int, err error) {
	query := `DELETE FROM cart_items WHERE cart_id = $1`
	ctx, end := database.TraceQuery(ctx, "ClearLineItems", query)
	defer func() { end(err) }()

	tag, err := r.pool.Exec(ctx, query, cartID)
	if err != nil {
		return 0, fmt.Errorf("clear cart items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanItem(row pgx.Row) (*domain.CartItem, error) {
	var item domain.CartItem
	err := row.Scan(
		&item.ID, &item.CartID, &item.ItemType, &item.ProductID, &item.VariantID, &item.CourseID,
		&item.Quantity, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func ownerOf(c *domain.Cart) string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.SessionID
}
