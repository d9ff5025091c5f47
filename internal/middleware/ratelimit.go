package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/overland-tools/overlandd/pkg/logger"
)

// maxLimiters bounds the per-IP limiter map; past it the next cleanup pass
// drops the map wholesale. Idle uploaders are cheap to re-admit.
const maxLimiters = 10000

const defaultCleanupInterval = 10 * time.Minute

// RateLimiter bounds request rates per client IP. Health and metrics probes
// bypass it so orchestrator checks never starve behind a chatty uploader.
// It is a lifecycle service: Start runs the periodic map cleanup, Stop ends
// it.
type RateLimiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	rate         rate.Limit
	burst        int
	skipPaths    map[string]bool
	logger       *logger.Logger
	cleanupEvery time.Duration
	stop         chan struct{}
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond sustained
// with the given burst, exempting the listed paths.
func NewRateLimiter(requestsPerSecond, burst int, skipPaths []string, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.NewDefault("ratelimit")
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return &RateLimiter{
		limiters:     make(map[string]*rate.Limiter),
		rate:         rate.Limit(requestsPerSecond),
		burst:        burst,
		skipPaths:    skip,
		logger:       log,
		cleanupEvery: defaultCleanupInterval,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

// Handler returns the rate limiting middleware handler.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		key := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			key = host
		}

		if !rl.getLimiter(key).Allow() {
			rl.logger.WithContext(r.Context()).
				WithField("ip", key).
				WithField("path", r.URL.Path).
				Warn("rate limit exceeded")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup drops the limiter map once it grows past the size bound.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.limiters) > maxLimiters {
		rl.limiters = make(map[string]*rate.Limiter)
	}
}

// Name implements the lifecycle service contract.
func (rl *RateLimiter) Name() string { return "ratelimit" }

// Start runs the periodic limiter-map cleanup until Stop.
func (rl *RateLimiter) Start(ctx context.Context) error {
	rl.mu.Lock()
	if rl.stop != nil {
		rl.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	rl.stop = stop
	interval := rl.cleanupEvery
	rl.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-stop:
				return
			}
		}
	}()
	return nil
}

// Stop ends the cleanup loop. Safe to call repeatedly.
func (rl *RateLimiter) Stop(ctx context.Context) error {
	rl.mu.Lock()
	stop := rl.stop
	rl.stop = nil
	rl.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	return nil
}
