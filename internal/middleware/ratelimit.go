package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/R3E-Network/token_engine/internal/config"
	"github.com/R3E-Network/token_engine/internal/errors"
	internalhttputil "github.com/R3E-Network/token_engine/internal/httputil"
	"github.com/R3E-Network/token_engine/internal/logging"
)

// RateLimitResponse is the body of a 429 response.
type RateLimitResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Limit     int       `json:"limit"`
	ResetTime time.Time `json:"resetTime"`
	TraceID   string    `json:"traceId,omitempty"`
}

// RateLimiter enforces the per-minute limit of each tenant's plan.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*tenantLimiter
	plans    config.Plans
	logger   *logging.Logger
	now      func() time.Time
}

type tenantLimiter struct {
	limiter  *rate.Limiter
	limit    int
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(plans config.Plans, logger *logging.Logger) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*tenantLimiter),
		plans:    plans,
		logger:   logger,
		now:      time.Now,
	}
}

// getLimiter returns the limiter of tenantID, replacing it when the plan limit changed.
func (rl *RateLimiter) getLimiter(tenantID string, limit int) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[tenantID]
	if !exists || entry.limit != limit {
		entry = &tenantLimiter{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(limit)), limit),
			limit:   limit,
		}
		rl.limiters[tenantID] = entry
	}
	entry.lastSeen = rl.now()

	return entry.limiter
}

// Handler returns the rate limiting middleware handler. It must run after
// APIKeyMiddleware.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, ok := TenantFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		limit := rl.plans.Limit(tc.Plan())
		if limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		now := rl.now()
		reservation := rl.getLimiter(tc.ID(), limit).ReserveN(now, 1)
		delay := reservation.DelayFrom(now)
		if !reservation.OK() || delay > 0 {
			reservation.CancelAt(now)

			rl.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
				"plan":   tc.Plan(),
				"limit":  limit,
				"path":   r.URL.Path,
				"method": r.Method,
			})

			serviceErr := errors.RateLimitExceeded(limit, "1m")
			w.Header().Set("Retry-After", retryAfter(delay))
			internalhttputil.WriteJSON(w, serviceErr.HTTPStatus, RateLimitResponse{
				Error:     serviceErr.Message,
				Code:      string(serviceErr.Code),
				Limit:     limit,
				ResetTime: now.Add(delay).UTC(),
				TraceID:   logging.GetTraceID(r.Context()),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup removes limiters idle for longer than maxIdle and returns how many were dropped.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxIdle)
	removed := 0
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

func retryAfter(delay time.Duration) string {
	seconds := int(delay.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
