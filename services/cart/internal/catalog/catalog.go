// Package catalog defines the read-only views of products, courses and
// enrollments that the cart depends on.
package catalog

import (
	"context"

	"github.com/syntex82/nodepress/services/cart/internal/domain"
)

// ProductProvider looks up products with their variants. Missing products
// yield apperrors.ErrNotFound.
type ProductProvider interface {
	FindProductByID(ctx context.Context, id string) (*domain.Product, error)
}

// CourseProvider looks up courses. Missing courses yield apperrors.ErrNotFound.
type CourseProvider interface {
	FindCourseByID(ctx context.Context, id string) (*domain.Course, error)
}

// EnrollmentProvider looks up a user's active enrollment in a course. No
// active enrollment yields apperrors.ErrNotFound.
type EnrollmentProvider interface {
	FindEnrollment(ctx context.Context, courseID, userID string) (*domain.Enrollment, error)
}

// Invalidator drops cached catalog entries.
type Invalidator interface {
	InvalidateProduct(ctx context.Context, id string) error
	InvalidateCourse(ctx context.Context, id string) error
}
