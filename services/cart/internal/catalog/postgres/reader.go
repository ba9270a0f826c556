package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/syntex82/nodepress/pkg/database"
	apperrors "github.com/syntex82/nodepress/pkg/errors"
	"github.com/syntex82/nodepress/services/cart/internal/catalog"
	"github.com/syntex82/nodepress/services/cart/internal/domain"
)

// Reader queries the shared catalog and LMS tables. It never writes.
type Reader struct {
	pool database.DBTX
}

var (
	_ catalog.ProductProvider    = (*Reader)(nil)
	_ catalog.CourseProvider     = (*Reader)(nil)
	_ catalog.EnrollmentProvider = (*Reader)(nil)
)

// NewReader creates a catalog reader over pool.
func NewReader(pool database.DBTX) *Reader {
	return &Reader{pool: pool}
}

// Money columns are read as text so no precision is lost on the way to
// decimal.Decimal.
const productQuery = `
	SELECT
		p.id, p.name, p.slug, p.status, p.price::text, COALESCE(p.sale_price::text, ''),
		COALESCE((
			SELECT JSONB_AGG(
				JSONB_BUILD_OBJECT(
					'id', v.id,
					'product_id', v.product_id,
					'name', v.name,
					'sku', COALESCE(v.sku, ''),
					'price', v.price::text,
					'stock', v.stock,
					'options', COALESCE(v.options, '{}'::jsonb)
				) ORDER BY v.created_at, v.id
			)
			FROM product_variants v
			WHERE v.product_id = p.id
		), '[]'::jsonb) AS variants
	FROM products p
	WHERE p.id = $1`

// FindProductByID loads a product and its variants.
func (r *Reader) FindProductByID(ctx context.Context, id string) (_ *domain.Product, err error) {
	ctx, end := database.TraceQuery(ctx, "FindProductByID", productQuery)
	defer func() { end(err) }()

	var (
		p                domain.Product
		status           string
		price, salePrice string
		variantsJSON     []byte
	)
	err = r.pool.QueryRow(ctx, productQuery, id).Scan(
		&p.ID, &p.Name, &p.Slug, &status, &price, &salePrice, &variantsJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}

	p.Status = domain.ProductStatus(status)
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse product price %q: %w", price, err)
	}
	if salePrice != "" {
		sale, err := decimal.NewFromString(salePrice)
		if err != nil {
			return nil, fmt.Errorf("parse product sale price %q: %w", salePrice, err)
		}
		p.SalePrice = &sale
	}
	if len(variantsJSON) > 0 && string(variantsJSON) != "[]" {
		if err := json.Unmarshal(variantsJSON, &p.Variants); err != nil {
			return nil, fmt.Errorf("unmarshal product variants: %w", err)
		}
	}
	return &p, nil
}

const courseQuery = `
	SELECT id, title, slug, status, price_type, COALESCE(price_amount::text, '0')
	FROM courses
	WHERE id = $1`

// FindCourseByID loads a course.
func (r *Reader) FindCourseByID(ctx context.Context, id string) (_ *domain.Course, err error) {
	ctx, end := database.TraceQuery(ctx, "FindCourseByID", courseQuery)
	defer func() { end(err) }()

	var (
		c                         domain.Course
		status, priceType, amount string
	)
	err = r.pool.QueryRow(ctx, courseQuery, id).Scan(&c.ID, &c.Title, &c.Slug, &status, &priceType, &amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan course: %w", err)
	}

	c.Status = domain.CourseStatus(status)
	c.PriceType = domain.PriceType(priceType)
	if c.PriceAmount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse course price %q: %w", amount, err)
	}
	return &c, nil
}

const enrollmentQuery = `
	SELECT id, course_id, user_id, status, created_at
	FROM enrollments
	WHERE course_id = $1 AND user_id = $2 AND status = 'ACTIVE'
	ORDER BY created_at DESC
	LIMIT 1`

// FindEnrollment returns the latest active enrollment of userID in courseID.
func (r *Reader) FindEnrollment(ctx context.Context, courseID, userID string) (_ *domain.Enrollment, err error) {
	ctx, end := database.TraceQuery(ctx, "FindEnrollment", enrollmentQuery)
	defer func() { end(err) }()

	var e domain.Enrollment
	err = r.pool.QueryRow(ctx, enrollmentQuery, courseID, userID).Scan(
		&e.ID, &e.CourseID, &e.UserID, &e.Status, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan enrollment: %w", err)
	}
	return &e, nil
}
