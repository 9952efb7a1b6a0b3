package middleware

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/zhouzirui/nur-al-ilm/backend/pkg/utils"
)

// RateLimiter 为每个客户端维护一个令牌桶。
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	perSec   float64
	burst    int
}

// NewRateLimiter creates a limiter allowing perSec requests per client with burst.
func NewRateLimiter(perSec float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		perSec:   perSec,
		burst:    burst,
	}
}

// Allow reports whether clientID may proceed now.
func (rl *RateLimiter) Allow(clientID string) bool {
	if rl.perSec <= 0 {
		return true
	}
	return rl.limiter(clientID).Allow()
}

func (rl *RateLimiter) limiter(clientID string) *rate.Limiter {
	rl.mu.RLock()
	l, ok := rl.limiters[clientID]
	rl.mu.RUnlock()
	if ok {
		return l
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l, ok := rl.limiters[clientID]; ok {
		return l
	}
	l = rate.NewLimiter(rate.Limit(rl.perSec), rl.burst)
	rl.limiters[clientID] = l
	return l
}

// Limit 返回按 key(r) 限流的中间件，超限时返回 429。
func (rl *RateLimiter) Limit(key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(key(r)) {
				w.Header().Set("Retry-After", "1")
				utils.RespondError(w, http.StatusTooManyRequests, "too many messages, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
