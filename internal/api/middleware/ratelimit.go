package middleware

import (
	"log/slog"
	"net"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// defaultMaxClients bounds how many per-client limiters are tracked at once.
const defaultMaxClients = 10000

// RateLimiter applies a token bucket per client IP. Least recently seen
// clients are evicted once the tracking cache is full.
type RateLimiter struct {
	clients *lru.Cache[string, *rate.Limiter]
	limit   rate.Limit
	burst   int
}

// NewRateLimiter creates a new rate limiter
// rps: sustained requests per second per client
// burst: maximum requests a client may issue at once
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	cache, err := lru.New[string, *rate.Limiter](defaultMaxClients)
	if err != nil {
		// Only fails for non-positive sizes
		slog.Error("[RATE-LIMIT] failed to create client cache, using minimal cache", "error", err)
		cache, _ = lru.New[string, *rate.Limiter](1)
	}
	return &RateLimiter{
		clients: cache,
		limit:   rate.Limit(rps),
		burst:   burst,
	}
}

// Middleware returns a rate limiting middleware
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := getClientIP(r)

		if !rl.allow(clientID) {
			w.Header().Set("Cache-Control", "no-store")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// allow checks if a client is allowed to make a request
func (rl *RateLimiter) allow(clientID string) bool {
	limiter, ok := rl.clients.Get(clientID)
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		// Another request may have raced us; keep whichever landed first.
		if existing, found, _ := rl.clients.PeekOrAdd(clientID, limiter); found {
			limiter = existing
		}
	}
	return limiter.Allow()
}

// getClientIP keys on the connection address. Forwarding headers are
// client-controlled; chi's RealIP middleware resolves them into RemoteAddr
// when the server sits behind a trusted proxy.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
