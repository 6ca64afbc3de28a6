package httpx

import (
	"net/http"

	"github.com/rs/cors"
)

// WithCORS lets the browser admin page call the API from the listed origins.
// No origins means no CORS headers at all. /api-key never gets CORS headers.
func WithCORS(next http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		return next
	}
	withCORS := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         600,
	}).Handler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == apiKeyPath {
			next.ServeHTTP(w, req)
			return
		}
		withCORS.ServeHTTP(w, req)
	})
}
