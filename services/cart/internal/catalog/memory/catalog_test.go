package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/syntex82/nodepress/pkg/errors"
	"github.com/syntex82/nodepress/services/cart/internal/domain"
)

func TestCatalog_Products(t *testing.T) {
	c := New()
	ctx := context.Background()
	c.PutProduct(domain.Product{ID: "p-1", Price: decimal.NewFromInt(3), Variants: []domain.ProductVariant{{ID: "v-1"}}})

	p, err := c.FindProductByID(ctx, "p-1")
	require.NoError(t, err)
	p.Variants[0].ID = "mutated"

	again, err := c.FindProductByID(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "v-1", again.Variants[0].ID, "callers get copies")

	c.RemoveProduct("p-1")
	_, err = c.FindProductByID(ctx, "p-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCatalog_CoursesAndEnrollments(t *testing.T) {
	c := New()
	ctx := context.Background()
	c.PutCourse(domain.Course{ID: "co-1", Status: domain.CourseStatusPublished})
	c.Enroll(domain.Enrollment{ID: "e-1", CourseID: "co-1", UserID: "u-1", Status: domain.EnrollmentStatusActive})
	c.Enroll(domain.Enrollment{ID: "e-2", CourseID: "co-1", UserID: "u-3", Status: "REFUNDED"})

	course, err := c.FindCourseByID(ctx, "co-1")
	require.NoError(t, err)
	assert.True(t, course.IsPublished())

	_, err = c.FindCourseByID(ctx, "co-2")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	e, err := c.FindEnrollment(ctx, "co-1", "u-1")
	require.NoError(t, err)
	assert.Equal(t, "e-1", e.ID)

	_, err = c.FindEnrollment(ctx, "co-1", "u-2")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = c.FindEnrollment(ctx, "co-1", "u-3")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
