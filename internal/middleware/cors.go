package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins admits any http or https origin.
var DefaultAllowedOrigins = []string{"https://*", "http://*"}

// CORS returns the CORS middleware. Browser clients read Retry-After on
// throttled turns and X-Job-ID on uploads, so both are exposed.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = DefaultAllowedOrigins
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Correlation-ID"},
		ExposedHeaders:   []string{"Retry-After", "X-Correlation-ID", "X-Job-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
