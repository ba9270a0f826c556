package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntex82/nodepress/pkg/health"
	"github.com/syntex82/nodepress/pkg/httputil"
	"github.com/syntex82/nodepress/pkg/middleware"
	catalogmemory "github.com/syntex82/nodepress/services/cart/internal/catalog/memory"
	"github.com/syntex82/nodepress/services/cart/internal/domain"
	"github.com/syntex82/nodepress/services/cart/internal/repository"
	"github.com/syntex82/nodepress/services/cart/internal/repository/memory"
	"github.com/syntex82/nodepress/services/cart/internal/service"
)

const cookieName = "np_session"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testCatalog() *catalogmemory.Catalog {
	cat := catalogmemory.New()
	cat.PutProduct(domain.Product{ID: "p-a", Name: "Notebook", Status: domain.ProductStatusActive, Price: decimal.RequireFromString("10.00")})
	cat.PutProduct(domain.Product{ID: "p-b", Name: "Pen", Status: domain.ProductStatusActive, Price: decimal.RequireFromString("5.50")})
	cat.PutCourse(domain.Course{ID: "c-paid", Status: domain.CourseStatusPublished, PriceType: domain.PriceTypePaid, PriceAmount: decimal.RequireFromString("49")})
	cat.PutCourse(domain.Course{ID: "c-free", Status: domain.CourseStatusPublished, PriceType: domain.PriceTypeFree})
	return cat
}

func newTestRouter(t *testing.T, store repository.Store) http.Handler {
	t.Helper()
	cat := testCatalog()
	svc := service.NewCartService(store, service.Catalog{Products: cat, Courses: cat, Enrollments: cat}, nil, testLogger(), "USD")
	return NewRouter(svc, health.NewHandler(), testLogger(), RouterConfig{
		SessionCookieName: cookieName,
		CORS:              middleware.DefaultCORSConfig(),
	})
}

type envelope struct {
	Data  *domain.CartView        `json:"data"`
	Error *httputil.ErrorResponse `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func session(id string) map[string]string { return map[string]string{middleware.SessionIDHeader: id} }

func userHeaders(userID string) map[string]string { return map[string]string{middleware.UserIDHeader: userID} }

func TestGetCart_RequiresIdentity(t *testing.T) {
	h := newTestRouter(t, memory.NewStore())

	rec, env := do(t, h, http.MethodGet, "/api/v1/cart", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)
}

func TestGetCart_GuestHeader(t *testing.T) {
	h := newTestRouter(t, memory.NewStore())

	rec, env := do(t, h, http.MethodGet, "/api/v1/cart", nil, session("sess-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.Data)
	assert.Equal(t, "sess-1", env.Data.SessionID)
	assert.Equal(t, "USD", env.Data.Currency)
	assert.Equal(t, "no-store, private", rec.Header().Get("Cache-Control"))
}

func TestGetCart_SessionCookie(t *testing.T) {
	h := newTestRouter(t, memory.NewStore())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: "sess-cookie"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "sess-cookie", env.Data.SessionID)
}

func TestAddProduct(t *testing.T) {
	h := newTestRouter(t, memory.NewStore())

	_, _ = do(t, h, http.MethodPost, "/api/v1/cart/items", AddProductRequest{ProductID: "p-a", Quantity: 2}, session("sess-1"))
	rec, env := do(t, h, http.MethodPost, "/api/v1/cart/items", AddProductRequest{ProductID: "p-b", Quantity: 1}, session("sess-1"))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.Data)
	assert.Len(t, env.Data.Items, 2)
	assert.Equal(t, 3, env.Data.ItemCount)
	assert.Equal(t, "25.50", env.Data.Subtotal.StringFixed(2))
	assert.True(t, env.Data.HasProducts)
}

func TestAddProduct_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"malformed json", `{"product_id":`, http.StatusBadRequest, "INVALID_INPUT"},
		{"missing product", AddProductRequest{Quantity: 1}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"zero quantity", AddProductRequest{ProductID: "p-a"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown product", AddProductRequest{ProductID: "p-x", Quantity: 1}, http.StatusNotFound, "NOT_FOUND"},
		{"unknown variant", AddProductRequest{ProductID: "p-a", VariantID: "v-x", Quantity: 1}, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(t, memory.NewStore())
			rec, env := do(t, h, http.MethodPost, "/api/v1/cart/items", tt.body, session("sess-1"))
			assert.Equal(t, tt.status, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestAddProduct_ValidationFields(t *testing.T) {
	h := newTestRouter(t, memory.NewStore())

	_, env := do(t, h, http.MethodPost, "/api/v1/cart/items", AddProductRequest{ProductID: "p-a"}, session("sess-1"))
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Fields, "quantity")
}

func TestAddCourse(t *testing.T) {
	h := newTestRouter(t, memory.NewStore())

	rec, env := do(t, h, http.MethodPost, "/api/v1/cart/courses", AddCourseRequest{CourseID: "c-paid"}, userHeaders("user-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Data.HasCourses)
	assert.Equal(t, "user-1", env.Data.UserID)

	rec, env = do(t, h, http.MethodPost, "/api/v1/cart/courses", AddCourseRequest{CourseID: "c-paid"}, userHeaders("user-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)

	rec, env = do(t, h, http.MethodPost, "/api/v1/cart/courses", AddCourseRequest{CourseID: "c-free"}, userHeaders("user-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error.Message, "direct enrollment")
}

func TestUpdateItemQuantity(t *testing.T) {
	h := newTestRouter(t, memory.NewStore())
	_, env := do(t, h, http.MethodPost, "/api/v1/cart/items", AddProductRequest{ProductID: "p-a", Quantity: 1}, session("sess-1"))
	itemPath := "/api/v1/cart/items/" + env.Data.Items[0].ID

	rec, env := do(t, h, http.MethodPut, itemPath, map[string]int{"quantity": 4}, session("sess-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, env.Data.Items[0].Quantity)

	rec, env = do(t, h, http.MethodPut, itemPath, map[string]int{"quantity": 0}, session("sess-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.Data.Items)

	rec, env = do(t, h, http.MethodPut, itemPath, map[string]int{"quantity": 2}, session("sess-1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestUpdateItemQuantity_BadRequests(t *testing.T) {
	h := newTestRouter(t, memory.NewStore())

	rec, env := do(t, h, http.MethodPut, "/api/v1/cart/items/not-a-uuid", map[string]int{"quantity": 1}, session("sess-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PARAMETER", env.Error.Code)

	rec, env = do(t, h, http.MethodPut, "/api/v1/cart/items/550e8400-e29b-41d4-a716-446655440000", map[string]string{}, session("sess-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	rec, env = do(t, h, http.MethodPut, "/api/v1/cart/items/550e8400-e29b-41d4-a716-446655440000", map[string]int{"quantity": -1}, session("sess-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestRemoveItem(t *testing.T) {
	h := newTestRouter(t, memory.NewStore())
	_, env := do(t, h, http.MethodPost, "/api/v1/cart/items", AddProductRequest{ProductID: "p-a", Quantity: 1}, session("sess-1"))
	itemPath := "/api/v1/cart/items/" + env.Data.Items[0].ID

	rec, _ := do(t, h, http.MethodDelete, itemPath, nil, session("sess-2"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = do(t, h, http.MethodDelete, itemPath, nil, session("sess-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.Data.Items)
}

func TestClearCart(t *testing.T) {
	h := newTestRouter(t, memory.NewStore())
	_, first := do(t, h, http.MethodPost, "/api/v1/cart/items", AddProductRequest{ProductID: "p-a", Quantity: 3}, session("sess-1"))

	rec, env := do(t, h, http.MethodDelete, "/api/v1/cart", nil, session("sess-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.Data.Items)
	assert.Equal(t, first.Data.ID, env.Data.ID)
}

func TestMergeCart(t *testing.T) {
	h := newTestRouter(t, memory.NewStore())
	_, _ = do(t, h, http.MethodPost, "/api/v1/cart/items", AddProductRequest{ProductID: "p-a", Quantity: 1}, userHeaders("user-1"))
	_, _ = do(t, h, http.MethodPost, "/api/v1/cart/items", AddProductRequest{ProductID: "p-a", Quantity: 2}, session("sess-1"))

	both := map[string]string{middleware.UserIDHeader: "user-1", middleware.SessionIDHeader: "sess-1"}
	rec, env := do(t, h, http.MethodPost, "/api/v1/cart/merge", nil, both)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.Data.Items, 1)
	assert.Equal(t, 3, env.Data.Items[0].Quantity)

	rec, env = do(t, h, http.MethodPost, "/api/v1/cart/merge", nil, userHeaders("user-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)
}

func TestContentTypeEnforced(t *testing.T) {
	h := newTestRouter(t, memory.NewStore())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewBufferString("product_id=p-a"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(middleware.SessionIDHeader, "sess-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

type brokenStore struct {
	*memory.Store
}

func (brokenStore) WithinTx(context.Context, func(repository.CartRepository) error) error {
	return errors.New("connection reset by peer")
}

func TestInternalErrorHidesDetails(t *testing.T) {
	h := newTestRouter(t, brokenStore{Store: memory.NewStore()})

	rec, env := do(t, h, http.MethodGet, "/api/v1/cart", nil, session("sess-1"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INTERNAL_ERROR", env.Error.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestCorrelationIDEchoed(t *testing.T) {
	h := newTestRouter(t, memory.NewStore())

	rec, env := do(t, h, http.MethodGet, "/api/v1/cart", nil, map[string]string{middleware.CorrelationHeader: "corr-42"})
	assert.Equal(t, "corr-42", rec.Header().Get(middleware.CorrelationHeader))
	require.NotNil(t, env.Error)
	assert.Equal(t, "corr-42", env.Error.RequestID)
}

func TestOperationalEndpoints(t *testing.T) {
	h := newTestRouter(t, memory.NewStore())

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIdentityFromRequest(t *testing.T) {
	var got service.Identity
	h := IdentityFromRequest(cookieName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = identityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.UserIDHeader, " user-1 ")
	req.Header.Set(middleware.SessionIDHeader, "sess-header")
	req.AddCookie(&http.Cookie{Name: cookieName, Value: "sess-cookie"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, service.Identity{UserID: "user-1", SessionID: "sess-header"}, got)
}

func TestMutationsAreRateLimitedPerCaller(t *testing.T) {
	cat := testCatalog()
	svc := service.NewCartService(memory.NewStore(), service.Catalog{Products: cat, Courses: cat, Enrollments: cat}, nil, testLogger(), "USD")
	h := NewRouter(svc, health.NewHandler(), testLogger(), RouterConfig{
		SessionCookieName: cookieName,
		CORS:              middleware.DefaultCORSConfig(),
		RateLimit:         middleware.RateLimitConfig{Service: "cart-handler-test", RPS: 0.1, Burst: 1},
	})
	add := AddProductRequest{ProductID: "p-a", Quantity: 1}

	rec, _ := do(t, h, http.MethodPost, "/api/v1/cart/items", add, session("sess-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := do(t, h, http.MethodPost, "/api/v1/cart/items", add, session("sess-1"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))

	rec, _ = do(t, h, http.MethodDelete, "/api/v1/cart", nil, session("sess-1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Reads are not limited, and other callers keep their own budget.
	rec, env = do(t, h, http.MethodGet, "/api/v1/cart", nil, session("sess-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.Data.Items, 1)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/cart/items", add, userHeaders("user-9"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitKey(t *testing.T) {
	var got string
	h := IdentityFromRequest(cookieName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = rateLimitKey(r)
	}))

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"user wins", map[string]string{middleware.UserIDHeader: "user-1", middleware.SessionIDHeader: "sess-1"}, "user:user-1"},
		{"guest session", session("sess-1"), "session:sess-1"},
		{"anonymous", nil, "ip:192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}
