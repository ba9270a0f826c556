package domain

import "time"

// ItemType discriminates cart line items.
type ItemType string

const (
	ItemTypeProduct ItemType = "PRODUCT"
	ItemTypeCourse  ItemType = "COURSE"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	return t == ItemTypeProduct || t == ItemTypeCourse
}

// Cart is owned by a registered user or by an anonymous session. An empty
// UserID or SessionID means the key is unset.
type Cart struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Currency  string     `json:"currency"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsEmpty reports whether the cart has no line items.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// FindItem returns the line item with the given id.
func (c *Cart) FindItem(itemID string) (*CartItem, bool) {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return &c.Items[i], true
		}
	}
	return nil, false
}

// FindEquivalent returns the line item sharing key, if any.
func (c *Cart) FindEquivalent(key ItemKey) (*CartItem, bool) {
	for i := range c.Items {
		if c.Items[i].Key() == key {
			return &c.Items[i], true
		}
	}
	return nil, false
}

// CartItem is one line of a cart: a product (optionally a variant of it) or a
// course. Product, Variant and Course are read-only catalog data attached for
// display and pricing; they are never persisted with the item.
type CartItem struct {
	ID        string    `json:"id"`
	CartID    string    `json:"cart_id"`
	ItemType  ItemType  `json:"item_type"`
	ProductID string    `json:"product_id,omitempty"`
	VariantID string    `json:"variant_id,omitempty"`
	CourseID  string    `json:"course_id,omitempty"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Product *Product        `json:"product,omitempty"`
	Variant *ProductVariant `json:"variant,omitempty"`
	Course  *Course         `json:"course,omitempty"`
}

// Key returns the equivalence key of the item.
func (i *CartItem) Key() ItemKey {
	return ItemKey{
		ItemType:  i.ItemType,
		ProductID: i.ProductID,
		VariantID: i.VariantID,
		CourseID:  i.CourseID,
	}
}

// ItemKey identifies equivalent line items: a cart holds at most one item per
// (product, variant) pair and one per course.
type ItemKey struct {
	ItemType  ItemType
	ProductID string
	VariantID string
	CourseID  string
}

// ProductKey builds the key of a product line. variantID may be empty.
func ProductKey(productID, variantID string) ItemKey {
	return ItemKey{ItemType: ItemTypeProduct, ProductID: productID, VariantID: variantID}
}

// CourseKey builds the key of a course line.
func CourseKey(courseID string) ItemKey {
	return ItemKey{ItemType: ItemTypeCourse, CourseID: courseID}
}
