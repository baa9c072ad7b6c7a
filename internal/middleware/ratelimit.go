package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chathub/internal/logger"
	"github.com/chathub/internal/storage"
)

const (
	rateLimitWindow   = time.Minute
	rateLimitMaxIP    = 200
	rateLimitMaxIdent = 100
)

type rateLimiter struct {
	mu     sync.Mutex
	times  map[string][]time.Time
	max    int
	window time.Duration
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{times: make(map[string][]time.Time), max: max, window: window}
}

func (r *rateLimiter) allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-r.window)
	slice := r.times[key]
	i := 0
	for _, t := range slice {
		if t.After(cutoff) {
			slice[i] = t
			i++
		}
	}
	slice = slice[:i]
	if len(slice) >= r.max {
		return false
	}
	r.times[key] = append(slice, now)
	return true
}

// RateLimitAPI limits /api/* requests by IP and by identity. Counters live
// in the ephemeral store so limits hold across instances; a store failure
// falls back to the local in-process window instead of rejecting traffic.
func RateLimitAPI(store storage.Store) func(http.Handler) http.Handler {
	localByIP := newRateLimiter(rateLimitMaxIP, rateLimitWindow)
	localByIdent := newRateLimiter(rateLimitMaxIdent, rateLimitWindow)

	allow := func(r *http.Request, key string, max int, local *rateLimiter) bool {
		n, err := store.IncrWithTTL(r.Context(), "rl:"+key, rateLimitWindow)
		if err != nil {
			logger.Errorf("ratelimit store incr %s: %v", key, err)
			return local.allow(key)
		}
		return n <= int64(max)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if x := r.Header.Get("X-Real-Ip"); x != "" {
				ip = x
			} else if x := r.Header.Get("X-Forwarded-For"); x != "" {
				ip = x
			}
			if !allow(r, "ip:"+ip, rateLimitMaxIP, localByIP) {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			if identity := GetIdentity(r.Context()); identity > 0 {
				if !allow(r, "u:"+strconv.FormatInt(identity, 10), rateLimitMaxIdent, localByIdent) {
					http.Error(w, "too many requests", http.StatusTooManyRequests)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
