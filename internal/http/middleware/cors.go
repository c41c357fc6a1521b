package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// CORS allows the configured front-end origins. "*" allows any origin but
// disables credentials, as browsers require.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	var origins []string
	allowAny := false
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin == "*" {
			allowAny = true
		}
		origins = append(origins, origin)
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: !allowAny,
		MaxAge:           600,
	})
}
