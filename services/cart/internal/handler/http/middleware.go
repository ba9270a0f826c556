package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/syntex82/nodepress/pkg/logger"
	"github.com/syntex82/nodepress/pkg/middleware"
	"github.com/syntex82/nodepress/services/cart/internal/service"
)

type contextKey string

const identityKey contextKey = "cart_identity"

// IdentityFromRequest collects the caller identity. The user ID comes from
// the X-User-ID header the gateway sets after JWT validation. The session ID
// comes from X-Session-ID, else from the session cookie. Nothing is rejected
// here; the service decides whether the identity is sufficient.
//
// Mount it before middleware.RequestLogger so the cookie session is logged.
func IdentityFromRequest(cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := service.Identity{
				UserID:    strings.TrimSpace(r.Header.Get(middleware.UserIDHeader)),
				SessionID: strings.TrimSpace(r.Header.Get(middleware.SessionIDHeader)),
			}
			if id.SessionID == "" && cookieName != "" {
				if c, err := r.Cookie(cookieName); err == nil {
					id.SessionID = strings.TrimSpace(c.Value)
				}
			}

			ctx := context.WithValue(r.Context(), identityKey, id)
			if id.UserID != "" {
				ctx = logger.WithUserID(ctx, id.UserID)
			}
			if id.SessionID != "" {
				ctx = logger.WithSessionID(ctx, id.SessionID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func identityFromContext(ctx context.Context) service.Identity {
	id, _ := ctx.Value(identityKey).(service.Identity)
	return id
}

// rateLimitKey buckets by user, then session, then client address.
func rateLimitKey(r *http.Request) string {
	id := identityFromContext(r.Context())
	switch {
	case id.UserID != "":
		return "user:" + id.UserID
	case id.SessionID != "":
		return "session:" + id.SessionID
	default:
		return "ip:" + middleware.ClientIP(r)
	}
}

// ContentTypeJSON rejects request bodies that are not declared as JSON.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnsupportedMediaType)
				_, _ = w.Write([]byte(`{"error":{"code":"UNSUPPORTED_MEDIA_TYPE","message":"Content-Type must be application/json"}}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
