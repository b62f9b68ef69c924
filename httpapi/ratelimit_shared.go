package httpapi

import (
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	sharedrate "github.com/pantrychef/authcore/internal/rate"
)

// Limiter is a rate-limiting middleware for the token routes.
type Limiter interface {
	Middleware(next http.Handler) http.Handler
}

var (
	_ Limiter = (*RateLimiter)(nil)
	_ Limiter = (*SharedRateLimiter)(nil)
)

// SharedRateLimiter limits per client IP with Redis fixed-window counters,
// so the budget holds across replicas. When Redis cannot be reached the
// request is let through.
type SharedRateLimiter struct {
	limiter *sharedrate.Limiter
	logger  *zap.Logger
}

// NewSharedRateLimiter wraps a Redis window limiter.
func NewSharedRateLimiter(l *sharedrate.Limiter, logger *zap.Logger) *SharedRateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SharedRateLimiter{limiter: l, logger: logger}
}

func (s *SharedRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		d, err := s.limiter.Allow(r.Context(), "ip:"+ip)
		if err != nil {
			s.logger.Warn("shared rate limiter unavailable", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !d.Allowed {
			s.logger.Warn("rate limit exceeded",
				zap.String("client_ip", ip),
				zap.String("path", r.URL.Path),
				zap.Int64("count", d.Count),
			)
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: CodeRateLimited})
			return
		}
		next.ServeHTTP(w, r)
	})
}
