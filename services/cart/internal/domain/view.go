package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartView is a cart decorated with computed totals. It is what every cart
// operation returns.
type CartView struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	Currency    string          `json:"currency"`
	Items       []LineView      `json:"items"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	ItemCount   int             `json:"item_count"`
	HasCourses  bool            `json:"has_courses"`
	HasProducts bool            `json:"has_products"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// LineView is a line item with its resolved price.
type LineView struct {
	CartItem
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}
