// Package memory is an in-process catalog used by tests and dev mode.
package memory

import (
	"context"
	"sync"

	apperrors "github.com/syntex82/nodepress/pkg/errors"
	"github.com/syntex82/nodepress/services/cart/internal/catalog"
	"github.com/syntex82/nodepress/services/cart/internal/domain"
)

// Catalog holds products, courses and enrollments in maps.
type Catalog struct {
	mu          sync.RWMutex
	products    map[string]domain.Product
	courses     map[string]domain.Course
	enrollments map[[2]string]domain.Enrollment
}

var (
	_ catalog.ProductProvider    = (*Catalog)(nil)
	_ catalog.CourseProvider     = (*Catalog)(nil)
	_ catalog.EnrollmentProvider = (*Catalog)(nil)
)

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		products:    make(map[string]domain.Product),
		courses:     make(map[string]domain.Course),
		enrollments: make(map[[2]string]domain.Enrollment),
	}
}

// PutProduct adds or replaces a product.
func (c *Catalog) PutProduct(p domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

// PutCourse adds or replaces a course.
func (c *Catalog) PutCourse(course domain.Course) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.courses[course.ID] = course
}

// Enroll records an enrollment.
func (c *Catalog) Enroll(e domain.Enrollment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enrollments[[2]string{e.CourseID, e.UserID}] = e
}

// RemoveProduct deletes a product.
func (c *Catalog) RemoveProduct(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.products, id)
}

// FindProductByID returns a copy of the product.
func (c *Catalog) FindProductByID(_ context.Context, id string) (*domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	p.Variants = append([]domain.ProductVariant(nil), p.Variants...)
	return &p, nil
}

// FindCourseByID returns a copy of the course.
func (c *Catalog) FindCourseByID(_ context.Context, id string) (*domain.Course, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	course, ok := c.courses[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &course, nil
}

// FindEnrollment returns the enrollment of userID in courseID while it is
// active.
func (c *Catalog) FindEnrollment(_ context.Context, courseID, userID string) (*domain.Enrollment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.enrollments[[2]string{courseID, userID}]
	if !ok || !e.IsActive() {
		return nil, apperrors.ErrNotFound
	}
	return &e, nil
}
