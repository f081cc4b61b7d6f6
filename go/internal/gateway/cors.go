package gateway

import (
	"net/http"

	"github.com/rs/cors"
)

// NewCORS allows the local UI origins to call the REST endpoints.
func NewCORS(allowedOrigins []string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	})
}

// checkOrigin applies the same origin list to websocket upgrades. Requests
// without an Origin header do not come from a browser and are let through.
func checkOrigin(c *cors.Cors) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if r.Header.Get("Origin") == "" {
			return true
		}
		return c.OriginAllowed(r)
	}
}
