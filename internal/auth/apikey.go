// Package auth guards the admin endpoints with API keys
package auth

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"signal_trader/internal/core"
)

const (
	// HeaderAPIKey carries the API key; "Authorization: Bearer <key>" is also accepted
	HeaderAPIKey = "X-API-Key"
	// HeaderRequestID is echoed on every authenticated response
	HeaderRequestID = "X-Request-ID"

	// DefaultRateLimitPerKey is the default number of requests per second allowed per API key
	DefaultRateLimitPerKey = 10
)

// APIKeyValidator validates API keys and rate limits each key
type APIKeyValidator struct {
	validKeys     map[string]bool
	rateLimiters  map[string]*rate.Limiter
	rateLimit     int
	logger        core.ILogger
	mu            sync.RWMutex
	failureLogger core.ILogger
}

// NewAPIKeyValidator creates a validator. Empty keys are ignored.
func NewAPIKeyValidator(apiKeys []string, rateLimit int, logger core.ILogger) *APIKeyValidator {
	validKeys := make(map[string]bool)
	for _, key := range apiKeys {
		if key != "" {
			validKeys[key] = true
		}
	}

	if rateLimit <= 0 {
		rateLimit = DefaultRateLimitPerKey
	}

	return &APIKeyValidator{
		validKeys:     validKeys,
		rateLimiters:  make(map[string]*rate.Limiter),
		rateLimit:     rateLimit,
		logger:        logger.WithField("component", "auth"),
		failureLogger: logger.WithField("component", "auth_failure"),
	}
}

// AddAPIKey adds a key (for rotation)
func (v *APIKeyValidator) AddAPIKey(apiKey string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.validKeys[apiKey] = true
	v.logger.Info("API key added")
}

// RemoveAPIKey revokes a key (for rotation)
func (v *APIKeyValidator) RemoveAPIKey(apiKey string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.validKeys, apiKey)
	delete(v.rateLimiters, apiKey)
	v.logger.Info("API key removed")
}

// KeyCount returns the number of accepted keys
func (v *APIKeyValidator) KeyCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.validKeys)
}

// ValidateAPIKey checks apiKey against every accepted key in constant time
func (v *APIKeyValidator) ValidateAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()

	ok := false
	for key := range v.validKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			ok = true
		}
	}
	return ok
}

// CheckRateLimit reports whether apiKey may make another request now
func (v *APIKeyValidator) CheckRateLimit(apiKey string) bool {
	v.mu.Lock()
	limiter, exists := v.rateLimiters[apiKey]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(v.rateLimit), v.rateLimit)
		v.rateLimiters[apiKey] = limiter
	}
	v.mu.Unlock()

	return limiter.Allow()
}

type requestIDKey struct{}

// RequestID returns the id Middleware attached to ctx
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return "unknown"
}

// Middleware rejects requests without a valid, non-throttled API key
func (v *APIKeyValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		w.Header().Set(HeaderRequestID, requestID)
		clientIP := clientIP(r)

		apiKey := extractKey(r)
		if apiKey == "" {
			v.failureLogger.Warn("Authentication failed: missing API key",
				"path", r.URL.Path,
				"request_id", requestID,
				"client_ip", clientIP)
			http.Error(w, "missing API key", http.StatusUnauthorized)
			return
		}

		if !v.ValidateAPIKey(apiKey) {
			v.failureLogger.Warn("Authentication failed: invalid API key",
				"path", r.URL.Path,
				"request_id", requestID,
				"client_ip", clientIP)
			http.Error(w, "invalid API key", http.StatusUnauthorized)
			return
		}

		if !v.CheckRateLimit(apiKey) {
			v.failureLogger.Warn("Rate limit exceeded",
				"path", r.URL.Path,
				"request_id", requestID,
				"client_ip", clientIP)
			http.Error(w, "rate limit exceeded for API key", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractKey(r *http.Request) string {
	if key := r.Header.Get(HeaderAPIKey); key != "" {
		return key
	}
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(bearer)
	}
	return ""
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
