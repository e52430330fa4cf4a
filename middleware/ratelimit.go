package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"certd/internal/httputil"
	"certd/internal/logger"
)

// RateLimitConfig bounds requests per client address within a window.
type RateLimitConfig struct {
	MaxRequests        int
	Window             time.Duration
	MaxEntries         int
	TrustProxy         bool
	ExemptPaths        []string
	ExemptPathPrefixes []string
}

type rateLimiterEntry struct {
	count   int
	resetAt time.Time
}

type rateLimiter struct {
	mu      sync.Mutex
	config  RateLimitConfig
	entries map[string]rateLimiterEntry
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 300,
		Window:      time.Minute,
		MaxEntries:  10_000,
		ExemptPaths: []string{"/api/health", "/api/ready", "/metrics"},
	}
}

// LoginRateLimitConfig is the tighter budget applied to credential checks.
func LoginRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{MaxRequests: 10, Window: time.Minute, MaxEntries: 10_000}
}

func RateLimit(config RateLimitConfig) func(http.Handler) http.Handler {
	limiter := &rateLimiter{config: config, entries: make(map[string]rateLimiterEntry)}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || shouldSkipRateLimit(r, config) {
				next.ServeHTTP(w, r)
				return
			}
			ip := httputil.ClientIP(r, config.TrustProxy)
			allowed, retryAfter := limiter.allow(time.Now(), ip)
			if !allowed {
				logger.SecurityEvent("rate_limited").
					Str("client_ip", ip).
					Str("path", r.URL.Path).
					Msg("request rejected by rate limit")
				if retryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				}
				writeProblem(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func shouldSkipRateLimit(r *http.Request, config RateLimitConfig) bool {
	path := r.URL.Path
	for _, exempt := range config.ExemptPaths {
		if path == exempt {
			return true
		}
	}
	for _, prefix := range config.ExemptPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (l *rateLimiter) allow(now time.Time, key string) (bool, int) {
	if key == "" {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(now)
	entry := l.entries[key]
	if entry.resetAt.IsZero() || now.After(entry.resetAt) {
		entry = rateLimiterEntry{resetAt: now.Add(l.config.Window)}
	}
	entry.count++
	l.entries[key] = entry
	if entry.count <= l.config.MaxRequests {
		return true, 0
	}
	retryAfter := int(entry.resetAt.Sub(now).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

// prune drops expired windows, then the oldest ones beyond MaxEntries.
func (l *rateLimiter) prune(now time.Time) {
	for key, entry := range l.entries {
		if now.After(entry.resetAt) {
			delete(l.entries, key)
		}
	}
	if l.config.MaxEntries <= 0 {
		return
	}
	for len(l.entries) > l.config.MaxEntries {
		var oldestKey string
		var oldest time.Time
		for key, entry := range l.entries {
			if oldestKey == "" || entry.resetAt.Before(oldest) {
				oldestKey, oldest = key, entry.resetAt
			}
		}
		delete(l.entries, oldestKey)
	}
}
