package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/ronkoch2-code/code-standards-auditor/internal/logging"
)

func testLogger() *logging.ContextLogger {
	l := logrus.New()
	l.SetOutput(discard{})
	return logging.NewContextLogger(l, nil)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestLogging_SetsRequestIDHeader(t *testing.T) {
	e := echo.New()
	e.Use(Logging(LoggingConfig{Logger: testLogger()}))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Error("expected X-Request-Id header to be set")
	}
}

func TestRateLimiter_AllowsUpToLimitThenBlocks(t *testing.T) {
	rl := NewRateLimiter(2)

	allowed1, remaining1, _ := rl.Allow("client1")
	allowed2, remaining2, _ := rl.Allow("client1")
	allowed3, _, reset3 := rl.Allow("client1")

	if !allowed1 || !allowed2 {
		t.Fatal("expected first two requests to be allowed")
	}
	if remaining1 != 1 || remaining2 != 0 {
		t.Errorf("expected remaining 1 then 0, got %d then %d", remaining1, remaining2)
	}
	if allowed3 {
		t.Error("expected third request within the window to be blocked")
	}
	if reset3 <= time.Now().Unix() {
		t.Error("expected reset to be in the future")
	}
}

func TestRateLimiter_LimitZeroBlocksEverything(t *testing.T) {
	rl := NewRateLimiter(0)
	allowed, _, _ := rl.Allow("anyone")
	if allowed {
		t.Error("expected limit=0 to block every request")
	}
}

func TestRateLimit_Returns429WithHeaders(t *testing.T) {
	e := echo.New()
	limiter := NewRateLimiter(1)
	e.Use(RateLimit(RateLimitConfig{Limiter: limiter}))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req1 := httptest.NewRequest(http.MethodGet, "/x", nil)
	req1.RemoteAddr = "1.2.3.4:9999"
	rec1 := httptest.NewRecorder()
	e.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/x", nil)
	req2.RemoteAddr = "1.2.3.4:9999"
	rec2 := httptest.NewRecorder()
	e.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec2.Code)
	}
	if rec2.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}
	if rec2.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining=0, got %q", rec2.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestAuth_PublicPathBypassesAuth(t *testing.T) {
	e := echo.New()
	e.Use(Auth(AuthConfig{JWTSecret: "s"}))
	e.GET("/api/v1/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected public path to bypass auth, got %d", rec.Code)
	}
}

func TestAuth_MissingCredentialsReturns401(t *testing.T) {
	e := echo.New()
	e.Use(Auth(AuthConfig{JWTSecret: "s"}))
	e.GET("/api/v1/standards/list", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/standards/list", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAuth_ValidBearerTokenSucceeds(t *testing.T) {
	secret := "test-secret"
	token, err := IssueToken(secret, "user-1", time.Hour, nil)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	e := echo.New()
	e.Use(Auth(AuthConfig{JWTSecret: secret}))
	e.GET("/api/v1/standards/list", func(c echo.Context) error {
		uid, _ := c.Get(ctxUserIDKey).(string)
		if uid != "user-1" {
			t.Errorf("expected user id attached to context, got %q", uid)
		}
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/standards/list", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with valid bearer token, got %d", rec.Code)
	}
}

func TestAuth_ExpiredTokenRejected(t *testing.T) {
	secret := "test-secret"
	token, err := IssueToken(secret, "user-1", -time.Hour, nil)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	e := echo.New()
	e.Use(Auth(AuthConfig{JWTSecret: secret}))
	e.GET("/api/v1/standards/list", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/standards/list", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected expired token to be rejected with 401, got %d", rec.Code)
	}
}

func TestAuth_APIKeyFallback(t *testing.T) {
	e := echo.New()
	e.Use(Auth(AuthConfig{APIKeys: map[string]string{"secret-key": "user-2"}}))
	e.GET("/api/v1/standards/list", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/standards/list", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with valid api key, got %d", rec.Code)
	}
}

func TestIsPublicPath_PrefixMatching(t *testing.T) {
	if !isPublicPath("/docs/index.html", nil) {
		t.Error("expected /docs prefix to be public")
	}
	if isPublicPath("/api/v1/standards/list", nil) {
		t.Error("expected non-public path to not match")
	}
}
