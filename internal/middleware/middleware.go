// Package middleware composes the service's request pipeline: Logging ->
// RateLimit -> Auth -> endpoint, following the server's established
// echo.MiddlewareFunc idiom (see http/server.go's APIKeyMiddleware and
// SecurityHeadersMiddleware) generalized to the sliding-window limiter and
// JWT/API-key auth this service needs.
package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ronkoch2-code/code-standards-auditor/internal/apierror"
	"github.com/ronkoch2-code/code-standards-auditor/internal/logging"
)

const ctxUserIDKey = "auth_user_id"
const ctxAuthMethodKey = "auth_method"

// LoggingConfig controls the Logging middleware.
type LoggingConfig struct {
	Logger          *logging.ContextLogger
	SlowThresholdMs int64 // 0 disables the slow-request warning
}

// Logging stamps a UUID request id on every request (header X-Request-ID),
// and logs start/completion/failure with method, path, client, user-agent,
// status, and duration.
func Logging(cfg LoggingConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := uuid.NewString()
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)
			c.Set("request_id", requestID)

			req := c.Request()
			entry := cfg.Logger.WithFields(map[string]interface{}{
				"request_id": requestID,
				"method":     req.Method,
				"path":       req.URL.Path,
				"client":     c.RealIP(),
				"user_agent": req.UserAgent(),
			})
			entry.Info("request started")

			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			status := c.Response().Status
			completion := entry.WithFields(map[string]interface{}{
				"status":      status,
				"duration_ms": duration.Milliseconds(),
			})

			if err != nil {
				completion.WithError(err).Error("request failed")
				return err
			}

			completion.Info("request completed")
			if cfg.SlowThresholdMs > 0 && duration.Milliseconds() > cfg.SlowThresholdMs {
				completion.Warn("slow request")
			}
			return nil
		}
	}
}

// clientWindow tracks one identifier's sliding-window request timestamps.
type clientWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
	lastSeen   time.Time
}

// RateLimiter is a sliding-window, per-identifier rate limiter shared by
// both the per-client and per-(client,endpoint) middleware variants.
type RateLimiter struct {
	mu              sync.Mutex
	clients         map[string]*clientWindow
	requestsPerMinute int
}

// NewRateLimiter constructs a limiter. A requestsPerMinute of 0 rejects
// every request (boundary behavior: limit=0 means every request is
// rate-limited).
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	return &RateLimiter{clients: make(map[string]*clientWindow), requestsPerMinute: requestsPerMinute}
}

// Allow reports whether id may proceed, and the remaining quota plus the
// unix seconds at which the window resets.
func (r *RateLimiter) Allow(id string) (allowed bool, remaining int, resetAt int64) {
	r.mu.Lock()
	win, ok := r.clients[id]
	if !ok {
		win = &clientWindow{}
		r.clients[id] = win
	}
	if len(r.clients) > 10000 {
		r.sweepLocked()
	}
	r.mu.Unlock()

	win.mu.Lock()
	defer win.mu.Unlock()

	now := time.Now()
	win.lastSeen = now
	cutoff := now.Add(-60 * time.Second)
	kept := win.timestamps[:0]
	for _, t := range win.timestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	win.timestamps = kept

	reset := now.Add(60 * time.Second).Unix()
	if len(win.timestamps) > 0 {
		reset = win.timestamps[0].Add(60 * time.Second).Unix()
	}

	if r.requestsPerMinute <= 0 || len(win.timestamps) >= r.requestsPerMinute {
		return false, 0, reset
	}

	win.timestamps = append(win.timestamps, now)
	remaining = r.requestsPerMinute - len(win.timestamps)
	return true, remaining, reset
}

// sweepLocked discards clients with no activity in the last window. Caller
// must hold r.mu.
func (r *RateLimiter) sweepLocked() {
	cutoff := time.Now().Add(-60 * time.Second)
	for id, win := range r.clients {
		win.mu.Lock()
		stale := win.lastSeen.Before(cutoff)
		win.mu.Unlock()
		if stale {
			delete(r.clients, id)
		}
	}
}

// RateLimitConfig controls the RateLimit middleware.
type RateLimitConfig struct {
	Limiter *RateLimiter
}

func clientIdentifier(c echo.Context) string {
	id := c.RealIP()
	if userID, ok := c.Get(ctxUserIDKey).(string); ok && userID != "" {
		id += ":" + userID
	}
	return id
}

// RateLimit enforces a sliding-window limit keyed by client_ip[:user_id].
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := clientIdentifier(c)
			allowed, remaining, resetAt := cfg.Limiter.Allow(id)

			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limiter.requestsPerMinute))
			c.Response().Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

			if !allowed {
				retryAfter := resetAt - time.Now().Unix()
				if retryAfter < 0 {
					retryAfter = 0
				}
				c.Response().Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":      "rate_limited",
					"detail":     "too many requests",
					"retry_after": retryAfter,
					"limit":      cfg.Limiter.requestsPerMinute,
					"remaining":  0,
				})
			}

			c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			return next(c)
		}
	}
}

// PerEndpointRateLimit applies the same algorithm keyed by (client,
// endpoint path) instead of client alone.
func PerEndpointRateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := clientIdentifier(c) + "|" + c.Path()
			allowed, remaining, resetAt := cfg.Limiter.Allow(id)

			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limiter.requestsPerMinute))
			c.Response().Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

			if !allowed {
				retryAfter := resetAt - time.Now().Unix()
				if retryAfter < 0 {
					retryAfter = 0
				}
				c.Response().Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":      "rate_limited",
					"detail":     "too many requests",
					"retry_after": retryAfter,
					"limit":      cfg.Limiter.requestsPerMinute,
					"remaining":  0,
				})
			}

			c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			return next(c)
		}
	}
}

// defaultPublicPaths is the exact-match public path set.
var defaultPublicPaths = map[string]bool{
	"/":                 true,
	"/docs":             true,
	"/redoc":            true,
	"/openapi.json":     true,
	"/api/v1/health":    true,
	"/metrics":          true,
}

// AuthConfig controls the Auth middleware.
type AuthConfig struct {
	JWTSecret    string
	APIKeys      map[string]string // key value -> attached user id
	APIKeyHeader string            // defaults to X-API-Key
	PublicPaths  map[string]bool   // merged with defaultPublicPaths
}

func isPublicPath(path string, extra map[string]bool) bool {
	if defaultPublicPaths[path] || extra[path] {
		return true
	}
	for p := range defaultPublicPaths {
		if p != "/" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Claims is the JWT claim set issued and verified by this service.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// IssueToken signs a JWT with {user_id, exp, iat, ...extra}.
func IssueToken(secret string, userID string, ttl time.Duration, extra map[string]interface{}) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Auth enforces bearer-JWT or API-key authentication on every non-public
// path.
func Auth(cfg AuthConfig) echo.MiddlewareFunc {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if isPublicPath(path, cfg.PublicPaths) {
				return next(c)
			}

			if userID, method, ok := tryBearerAuth(c, cfg.JWTSecret); ok {
				c.Set(ctxUserIDKey, userID)
				c.Set(ctxAuthMethodKey, method)
				return next(c)
			}

			if userID, method, ok := tryAPIKeyAuth(c, cfg); ok {
				c.Set(ctxUserIDKey, userID)
				c.Set(ctxAuthMethodKey, method)
				return next(c)
			}

			apiErr := apierror.Unauthorized("missing or invalid credentials")
			apiErr.Path = path
			return c.JSON(http.StatusUnauthorized, apiErr)
		}
	}
}

func tryBearerAuth(c echo.Context, secret string) (userID string, method string, ok bool) {
	if secret == "" {
		return "", "", false
	}
	header := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", "", false
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", "", false
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return "", "", false
	}
	return claims.UserID, "jwt", true
}

func tryAPIKeyAuth(c echo.Context, cfg AuthConfig) (userID string, method string, ok bool) {
	if len(cfg.APIKeys) == 0 {
		return "", "", false
	}
	key := c.Request().Header.Get(cfg.APIKeyHeader)
	if key == "" {
		return "", "", false
	}
	user, found := cfg.APIKeys[key]
	if !found {
		return "", "", false
	}
	return user, "api_key", true
}
