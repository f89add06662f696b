// Package secret guards machine-to-machine endpoints with a shared secret header.
package secret

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"portal/pkg/platform/middleware/request"
)

// HeaderHookSecret carries the shared secret on identity platform hook calls.
const HeaderHookSecret = "X-Hook-Secret"

// Require rejects requests whose header does not match expected. An empty
// expected secret rejects every request.
func Require(header, expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(header)
			if expected == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "shared secret mismatch",
					"header", header,
					"request_id", request.GetRequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"shared secret required"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
