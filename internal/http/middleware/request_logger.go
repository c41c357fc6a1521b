package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

// RequestLogger emits structured logs for every HTTP request and puts a
// request-scoped logger on the context.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := chimw.GetReqID(r.Context())
			if reqID == "" {
				reqID = r.Header.Get("X-Request-ID")
			}
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)

			scoped := logger.With("request_id", reqID)
			scoped.Info("request started",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_ip", r.RemoteAddr,
			)

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			// RequireAuth runs further down the chain and fills the holder in.
			holder := &principalHolder{}
			ctx := logging.WithContext(withPrincipalHolder(r.Context(), holder), scoped)
			next.ServeHTTP(ww, r.WithContext(ctx))

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if holder.userID != "" {
				attrs = append(attrs, "user_id", holder.userID)
			}
			scoped.Info("request completed", attrs...)
		})
	}
}
