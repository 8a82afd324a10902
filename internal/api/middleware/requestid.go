package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// RequestID assigns every request a uuid (or honors the caller's), exposes
// it to downstream handlers and echoes it in the response. It also records
// the caller identity from X-User-ID for rate limiting.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		ctx := setRequestID(r.Context(), id)
		if caller := r.Header.Get("X-User-ID"); caller != "" {
			ctx = setCallerID(ctx, caller)
		}

		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
