package middleware

import "net/http"

// NoStore marks every response as private and uncacheable. Cart contents are
// per-visitor and change on each mutation.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, private")
		w.Header().Add("Vary", "Cookie")
		next.ServeHTTP(w, r)
	})
}
