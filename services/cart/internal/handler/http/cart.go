package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/syntex82/nodepress/pkg/httputil"
	"github.com/syntex82/nodepress/pkg/validator"
	"github.com/syntex82/nodepress/services/cart/internal/service"
)

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	service *service.CartService
	logger  *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(svc *service.CartService, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// AddProductRequest is the JSON request body for adding a product.
type AddProductRequest struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	VariantID string `json:"variant_id" validate:"omitempty,max=64"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

// AddCourseRequest is the JSON request body for adding a course.
type AddCourseRequest struct {
	CourseID string `json:"course_id" validate:"required,max=64"`
}

// UpdateQuantityRequest is the JSON request body for updating an item's
// quantity. Zero removes the item.
type UpdateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,min=0"`
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.service.GetCart(r.Context(), identityFromContext(r.Context()))
	h.respond(w, r, cart, err)
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.service.ClearCart(r.Context(), identityFromContext(r.Context()))
	h.respond(w, r, cart, err)
}

// AddProduct handles POST /api/v1/cart/items
func (h *CartHandler) AddProduct(w http.ResponseWriter, r *http.Request) {
	var req AddProductRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	cart, err := h.service.AddProduct(r.Context(), identityFromContext(r.Context()), service.AddProductInput{
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
	})
	h.respond(w, r, cart, err)
}

// AddCourse handles POST /api/v1/cart/courses
func (h *CartHandler) AddCourse(w http.ResponseWriter, r *http.Request) {
	var req AddCourseRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	cart, err := h.service.AddCourse(r.Context(), identityFromContext(r.Context()), req.CourseID)
	h.respond(w, r, cart, err)
}

// UpdateItemQuantity handles PUT /api/v1/cart/items/{itemId}
func (h *CartHandler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	itemID, ok := httputil.ParseUUID(w, "item id", chi.URLParam(r, "itemId"))
	if !ok {
		return
	}

	var req UpdateQuantityRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	cart, err := h.service.UpdateItemQuantity(r.Context(), identityFromContext(r.Context()), itemID.String(), *req.Quantity)
	h.respond(w, r, cart, err)
}

// RemoveItem handles DELETE /api/v1/cart/items/{itemId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := httputil.ParseUUID(w, "item id", chi.URLParam(r, "itemId"))
	if !ok {
		return
	}

	cart, err := h.service.RemoveItem(r.Context(), identityFromContext(r.Context()), itemID.String())
	h.respond(w, r, cart, err)
}

// MergeCart handles POST /api/v1/cart/merge. It is called once at login with
// both the user and the guest session.
func (h *CartHandler) MergeCart(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	cart, err := h.service.MergeSessionCart(r.Context(), id.UserID, id.SessionID)
	h.respond(w, r, cart, err)
}

func (h *CartHandler) respond(w http.ResponseWriter, r *http.Request, data any, err error) {
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, data)
}
