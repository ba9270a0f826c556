package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntex82/nodepress/pkg/database"
	apperrors "github.com/syntex82/nodepress/pkg/errors"
	"github.com/syntex82/nodepress/services/cart/internal/domain"
)

func newTestReader(t *testing.T) (*Reader, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewReader(mock), mock
}

var productCols = []string{"id", "name", "slug", "status", "price", "sale_price", "variants"}

func TestReader_FindProductByID(t *testing.T) {
	reader, mock := newTestReader(t)
	variants := []byte(`[
		{"id":"v-1","product_id":"p-1","name":"Large","sku":"TS-L","price":"21.50","stock":4,"options":{"size":"L"}},
		{"id":"v-2","product_id":"p-1","name":"Small","sku":"","price":null,"stock":0,"options":{}}
	]`)

	mock.ExpectQuery(`FROM products p\s+WHERE p.id = \$1`).WithArgs("p-1").
		WillReturnRows(pgxmock.NewRows(productCols).
			AddRow("p-1", "T-Shirt", "t-shirt", "ACTIVE", "19.990", "17.00", variants))

	p, err := reader.FindProductByID(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProductStatusActive, p.Status)
	assert.Equal(t, "19.99", p.Price.String())
	require.NotNil(t, p.SalePrice)
	assert.Equal(t, "17", p.SalePrice.String())

	require.Len(t, p.Variants, 2)
	require.NotNil(t, p.Variants[0].Price)
	assert.Equal(t, "21.5", p.Variants[0].Price.String())
	assert.Equal(t, "L", p.Variants[0].Options["size"])
	assert.Nil(t, p.Variants[1].Price, "null variant price falls back to the product")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_FindProductByID_NoSaleNoVariants(t *testing.T) {
	reader, mock := newTestReader(t)

	mock.ExpectQuery("FROM products p").WithArgs("p-2").
		WillReturnRows(pgxmock.NewRows(productCols).
			AddRow("p-2", "Mug", "mug", "DRAFT", "8", "", []byte(`[]`)))

	p, err := reader.FindProductByID(context.Background(), "p-2")
	require.NoError(t, err)
	assert.Nil(t, p.SalePrice)
	assert.Empty(t, p.Variants)
	assert.False(t, p.IsPurchasable())
}

func TestReader_FindProductByID_Errors(t *testing.T) {
	reader, mock := newTestReader(t)

	mock.ExpectQuery("FROM products p").WithArgs("missing").WillReturnRows(pgxmock.NewRows(productCols))
	_, err := reader.FindProductByID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	mock.ExpectQuery("FROM products p").WithArgs("bad").
		WillReturnRows(pgxmock.NewRows(productCols).AddRow("bad", "X", "x", "ACTIVE", "ten", "", []byte(`[]`)))
	_, err = reader.FindProductByID(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse product price")

	mock.ExpectQuery("FROM products p").WithArgs("down").WillReturnError(errors.New("conn refused"))
	_, err = reader.FindProductByID(context.Background(), "down")
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
}

func TestReader_FindCourseByID(t *testing.T) {
	reader, mock := newTestReader(t)
	cols := []string{"id", "title", "slug", "status", "price_type", "price_amount"}

	mock.ExpectQuery("FROM courses").WithArgs("co-1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow("co-1", "Go in Depth", "go-in-depth", "PUBLISHED", "PAID", "49.00"))

	c, err := reader.FindCourseByID(context.Background(), "co-1")
	require.NoError(t, err)
	assert.True(t, c.IsPublished())
	assert.False(t, c.IsFree())
	assert.Equal(t, "49.00", c.PriceAmount.StringFixed(2))

	mock.ExpectQuery("FROM courses").WithArgs("co-2").WillReturnRows(pgxmock.NewRows(cols))
	_, err = reader.FindCourseByID(context.Background(), "co-2")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_FindEnrollment(t *testing.T) {
	reader, mock := newTestReader(t)
	cols := []string{"id", "course_id", "user_id", "status", "created_at"}
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM enrollments\s+WHERE course_id = \$1 AND user_id = \$2 AND status = 'ACTIVE'`).WithArgs("co-1", "u-1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow("e-1", "co-1", "u-1", "ACTIVE", now))

	e, err := reader.FindEnrollment(context.Background(), "co-1", "u-1")
	require.NoError(t, err)
	assert.Equal(t, "e-1", e.ID)
	assert.Equal(t, "ACTIVE", e.Status)

	mock.ExpectQuery("FROM enrollments").WithArgs("co-1", "u-2").WillReturnRows(pgxmock.NewRows(cols))
	_, err = reader.FindEnrollment(context.Background(), "co-1", "u-2")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
