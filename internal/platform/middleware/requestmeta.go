package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"converge/pkg/requestcontext"
)

// RequestMeta assigns each request an ID and pins the request time. Every
// expiry comparison downstream reads the pinned clock, so one request sees
// one consistent "now".
func RequestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		ctx = requestcontext.WithTime(ctx, requestcontext.Now(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
