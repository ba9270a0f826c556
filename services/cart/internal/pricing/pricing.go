// Package pricing resolves line item prices and cart totals. Everything here
// is pure and works on decimals only.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/syntex82/nodepress/services/cart/internal/domain"
)

// UnitPrice resolves the price of one unit of item. For products a variant
// override wins, then the sale price, then the base price. Courses use their
// configured amount. An item carrying neither a product nor a course prices
// at zero.
func UnitPrice(item *domain.CartItem) decimal.Decimal {
	switch {
	case item.ItemType == domain.ItemTypeCourse && item.Course != nil:
		return item.Course.PriceAmount
	case item.Product != nil:
		return productPrice(item)
	case item.Course != nil:
		return item.Course.PriceAmount
	}
	return decimal.Zero
}

func productPrice(item *domain.CartItem) decimal.Decimal {
	variant := item.Variant
	if variant == nil && item.VariantID != "" {
		variant, _ = item.Product.Variant(item.VariantID)
	}
	if variant != nil && variant.Price != nil {
		return *variant.Price
	}
	if item.Product.SalePrice != nil {
		return *item.Product.SalePrice
	}
	return item.Product.Price
}

// LineTotal is UnitPrice times quantity.
func LineTotal(item *domain.CartItem) decimal.Decimal {
	return UnitPrice(item).Mul(decimal.NewFromInt(int64(item.Quantity)))
}

// Summarize decorates cart with per-line prices, subtotal, item count and
// category flags. Items keep their stored order.
func Summarize(cart *domain.Cart) *domain.CartView {
	view := &domain.CartView{
		ID:        cart.ID,
		UserID:    cart.UserID,
		SessionID: cart.SessionID,
		Currency:  cart.Currency,
		Items:     make([]domain.LineView, 0, len(cart.Items)),
		Subtotal:  decimal.Zero,
		CreatedAt: cart.CreatedAt,
		UpdatedAt: cart.UpdatedAt,
	}

	for i := range cart.Items {
		item := &cart.Items[i]
		unit := UnitPrice(item)
		line := unit.Mul(decimal.NewFromInt(int64(item.Quantity)))

		view.Items = append(view.Items, domain.LineView{CartItem: *item, UnitPrice: unit, LineTotal: line})
		view.Subtotal = view.Subtotal.Add(line)
		view.ItemCount += item.Quantity

		switch item.ItemType {
		case domain.ItemTypeCourse:
			view.HasCourses = true
		case domain.ItemTypeProduct:
			view.HasProducts = true
		}
	}
	return view
}
