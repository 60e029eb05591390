package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/ropasuggest/internal/api/response"
	"github.com/kiranshivaraju/ropasuggest/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	rateLimitWindow          = time.Minute
)

// RateLimit caps requests per caller in fixed one-minute windows counted in
// Redis. A caller is the tenant and user Authenticate resolved, so every key
// a user holds shares one budget.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
}

func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin}
}

// Limit must run after Authenticate. Unauthenticated requests pass through.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := GetTenantID(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		userID, _ := GetUserID(r)

		now := time.Now()
		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(tenantID, userID), rateLimitWindow)
		if err != nil {
			// Redis trouble must not take the API down with it.
			slog.Warn("rate limit check failed", "tenant_id", tenantID, "user_id", userID, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.requestsPerMin-int(count), 0)
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(rateLimitWindow).Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			h.Set("Retry-After", strconv.Itoa(int(rateLimitWindow.Seconds())))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
