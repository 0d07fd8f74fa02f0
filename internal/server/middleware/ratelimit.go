package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	apperrors "github.com/costscope/costscope/internal/errors"
)

// RateLimit applies a process-wide token bucket to all requests. Burst is
// twice the sustained rate so short spikes pass; a zero rate disables
// limiting entirely.
func RateLimit(rps float64) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	burst := int(rps * 2)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				apperrors.WriteError(w, http.StatusTooManyRequests,
					apperrors.CodeRateLimited,
					"request rate limit exceeded",
					GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
