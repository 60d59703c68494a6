package chi

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/rfpdesk/docvault/internal/metrics"
)

// RateLimiter keeps one token bucket per principal.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	limiters sync.Map // principal -> *rate.Limiter
}

// NewRateLimiter creates a limiter allowing rps requests per second with
// the given burst for every principal.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{rps: rate.Limit(rps), burst: burst}
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}
	v, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.rps, l.burst))
	return v.(*rate.Limiter)
}

// Middleware rejects requests over the caller's budget with 429. Requests
// without a principal (health, metrics) are not limited.
func (l *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r.Context())
			if principal != "" && !l.limiter(principal).Allow() {
				metrics.RateLimitedTotal.Inc()
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
