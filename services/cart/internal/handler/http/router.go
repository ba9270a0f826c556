package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syntex82/nodepress/pkg/health"
	"github.com/syntex82/nodepress/pkg/middleware"
	"github.com/syntex82/nodepress/services/cart/internal/service"
)

// RouterConfig holds the transport settings of the cart API.
type RouterConfig struct {
	SessionCookieName string
	PprofCIDRs        []string
	CORS              middleware.CORSConfig
	RequestTimeout    time.Duration
	RateLimit         middleware.RateLimitConfig
}

// NewRouter creates a chi router with all cart service routes registered.
func NewRouter(
	cartService *service.CartService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(timeout))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("cart"))
	r.Use(middleware.Tracing("cart"))
	r.Use(IdentityFromRequest(cfg.SessionCookieName))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)

	// Cart API endpoints
	cartHandler := NewCartHandler(cartService, logger)

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.NoStore)

		r.Get("/", cartHandler.GetCart)

		// Mutations draw from a per-caller budget.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.RateLimit, rateLimitKey, logger))

			r.Delete("/", cartHandler.ClearCart)
			r.Post("/merge", cartHandler.MergeCart)

			r.Post("/items", cartHandler.AddProduct)
			r.Post("/courses", cartHandler.AddCourse)
			r.Put("/items/{itemId}", cartHandler.UpdateItemQuantity)
			r.Delete("/items/{itemId}", cartHandler.RemoveItem)
		})
	})

	return r
}
