package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus is the catalog state of a product.
type ProductStatus string

const (
	ProductStatusDraft     ProductStatus = "DRAFT"
	ProductStatusActive    ProductStatus = "ACTIVE"
	ProductStatusPublished ProductStatus = "PUBLISHED"
	ProductStatusArchived  ProductStatus = "ARCHIVED"
)

// Product is read from the catalog. The cart never mutates it.
type Product struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Slug      string           `json:"slug"`
	Status    ProductStatus    `json:"status"`
	Price     decimal.Decimal  `json:"price"`
	SalePrice *decimal.Decimal `json:"sale_price,omitempty"`
	Variants  []ProductVariant `json:"variants,omitempty"`
}

// IsPurchasable reports whether the product may be added to a cart.
func (p *Product) IsPurchasable() bool {
	return p.Status == ProductStatusActive || p.Status == ProductStatusPublished
}

// Variant returns the variant with the given id if it belongs to p.
func (p *Product) Variant(id string) (*ProductVariant, bool) {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// ProductVariant is a purchasable configuration of a product. A nil Price
// means the product price applies.
type ProductVariant struct {
	ID        string            `json:"id"`
	ProductID string            `json:"product_id"`
	Name      string            `json:"name"`
	SKU       string            `json:"sku,omitempty"`
	Price     *decimal.Decimal  `json:"price,omitempty"`
	Stock     int               `json:"stock"`
	Options   map[string]string `json:"options,omitempty"`
}

// CourseStatus is the publication state of a course.
type CourseStatus string

const (
	CourseStatusDraft     CourseStatus = "DRAFT"
	CourseStatusPublished CourseStatus = "PUBLISHED"
	CourseStatusArchived  CourseStatus = "ARCHIVED"
)

// PriceType says whether a course is sold or given away.
type PriceType string

const (
	PriceTypeFree PriceType = "FREE"
	PriceTypePaid PriceType = "PAID"
)

// Course is read from the LMS.
type Course struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Slug        string          `json:"slug"`
	Status      CourseStatus    `json:"status"`
	PriceType   PriceType       `json:"price_type"`
	PriceAmount decimal.Decimal `json:"price_amount"`
}

// IsPublished reports whether the course is visible to buyers.
func (c *Course) IsPublished() bool {
	return c.Status == CourseStatusPublished
}

// IsFree reports whether the course is enrolled into directly.
func (c *Course) IsFree() bool {
	return c.PriceType == PriceTypeFree
}

// EnrollmentStatusActive marks an enrollment that grants access. Refunded or
// cancelled enrollments carry other statuses.
const EnrollmentStatusActive = "ACTIVE"

// Enrollment records that a user has or had access to a course.
type Enrollment struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"course_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (e *Enrollment) IsActive() bool {
	return e.Status == EnrollmentStatusActive
}
