package middleware

import (
	"log/slog"
	"net/http"

	"github.com/syntex82/nodepress/pkg/logger"
)

// Identity headers set by the gateway in front of the cart.
const (
	UserIDHeader    = "X-User-ID"
	SessionIDHeader = "X-Session-ID"
)

// RequestLogger stores a request-scoped logger in the context, enriched with
// correlation, identity and trace fields. Mount it after RequestLogging and
// Tracing.
//
// Identity already placed in the context by an earlier middleware wins over
// the headers.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if logger.UserIDFromContext(ctx) == "" {
				if id := r.Header.Get(UserIDHeader); id != "" {
					ctx = logger.WithUserID(ctx, id)
				}
			}
			if logger.SessionIDFromContext(ctx) == "" {
				if id := r.Header.Get(SessionIDHeader); id != "" {
					ctx = logger.WithSessionID(ctx, id)
				}
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
