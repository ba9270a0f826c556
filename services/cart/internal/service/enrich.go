package service

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/syntex82/nodepress/pkg/errors"
	"github.com/syntex82/nodepress/services/cart/internal/domain"
	"github.com/syntex82/nodepress/services/cart/internal/pricing"
)

// present attaches catalog records to every line and prices the cart. Lines
// whose product or course has disappeared from the catalog stay unattached
// and price at zero.
func (s *CartService) present(ctx context.Context, cart *domain.Cart) (*domain.CartView, error) {
	products := make(map[string]*domain.Product)
	courses := make(map[string]*domain.Course)

	for i := range cart.Items {
		item := &cart.Items[i]

		if item.ProductID != "" {
			p, ok := products[item.ProductID]
			if !ok {
				var err error
				if p, err = s.lookupProduct(ctx, item.ProductID); err != nil {
					return nil, err
				}
				products[item.ProductID] = p
			}
			item.Product = p
			if p != nil && item.VariantID != "" {
				item.Variant, _ = p.Variant(item.VariantID)
			}
		}

		if item.CourseID != "" {
			c, ok := courses[item.CourseID]
			if !ok {
				var err error
				if c, err = s.lookupCourse(ctx, item.CourseID); err != nil {
					return nil, err
				}
				courses[item.CourseID] = c
			}
			item.Course = c
		}
	}
	return pricing.Summarize(cart), nil
}

func (s *CartService) lookupProduct(ctx context.Context, productID string) (*domain.Product, error) {
	p, err := s.catalog.Products.FindProductByID(ctx, productID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("enrich product %s: %w", productID, err)
	}
	return p, nil
}

func (s *CartService) lookupCourse(ctx context.Context, courseID string) (*domain.Course, error) {
	c, err := s.catalog.Courses.FindCourseByID(ctx, courseID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("enrich course %s: %w", courseID, err)
	}
	return c, nil
}
