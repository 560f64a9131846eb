package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"taskmanager/internal/api/auth"
	"taskmanager/internal/model"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/pkg/ratelimit"
)

type fakeResolver struct {
	users map[uint]*model.User
}

func (f *fakeResolver) FindByID(ctx context.Context, id uint) (*model.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, errors.New("record not found")
}

type errLimiter struct{}

func (errLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	return false, 0, errors.New("redis down")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func init() {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_ResolvesCaller(t *testing.T) {
	resolver := &fakeResolver{users: map[uint]*model.User{
		1: {ID: 1, Email: "admin@example.com", IsAdmin: true, IsActive: true},
		2: {ID: 2, Email: "mia@example.com", IsActive: false},
	}}
	r := gin.New()
	var caller model.Caller
	r.GET("/me", AuthMiddleware("secret", resolver), func(c *gin.Context) {
		caller = CallerFrom(c)
		c.Status(http.StatusOK)
	})

	// 令牌声明不是管理员，以数据库记录为准
	token, _ := auth.IssueToken([]byte("secret"), 1, false, time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: token})
	if w := serve(r, req); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if caller.UserID != 1 || !caller.IsAdmin || caller.Email != "admin@example.com" {
		t.Fatalf("unexpected caller %+v", caller)
	}

	inactive, _ := auth.IssueToken([]byte("secret"), 2, false, time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+inactive)
	if w := serve(r, req); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for inactive user, got %d", w.Code)
	}

	unknown, _ := auth.IssueToken([]byte("secret"), 3, false, time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+unknown)
	w := serve(r, req)
	if w.Code != http.StatusUnauthorized || !strings.Contains(w.Body.String(), "User not found.") {
		t.Fatalf("expected 401 user not found, got %d %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Basic abc")
	w = serve(r, req)
	if w.Code != http.StatusUnauthorized || !strings.Contains(w.Body.String(), "No token provided") {
		t.Fatalf("expected missing token for non-bearer header, got %d %s", w.Code, w.Body.String())
	}
}

func TestAdminOnly(t *testing.T) {
	r := gin.New()
	r.GET("/admin", func(c *gin.Context) {
		c.Set("isAdmin", c.Query("admin") == "1")
		c.Next()
	}, AdminOnly(), func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := serve(r, httptest.NewRequest(http.MethodGet, "/admin?admin=0", nil)); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/admin?admin=1", nil)); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	limiter := ratelimit.NewLimiter(rdb, testLogger(), 0.001, 2)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		c.Set("userID", uint(7))
		c.Next()
	}, RateLimit(limiter, testLogger()), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		if w := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	w := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" || !strings.Contains(w.Body.String(), "retry_after") {
		t.Fatalf("expected retry hint, got headers=%v body=%s", w.Header(), w.Body.String())
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	r := gin.New()
	r.GET("/x", RateLimit(errLimiter{}, testLogger()), func(c *gin.Context) { c.Status(http.StatusOK) })
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)); w.Code != http.StatusOK {
		t.Fatalf("expected request to pass when limiter errors, got %d", w.Code)
	}
}

func TestRequestLogger_RequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(testLogger()))
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("requestID")) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := serve(r, req)
	if w.Header().Get(RequestIDHeader) != "req-123" || w.Body.String() != "req-123" {
		t.Fatalf("expected request id to be propagated, got %q", w.Header().Get(RequestIDHeader))
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	if len(w.Header().Get(RequestIDHeader)) != 36 {
		t.Fatalf("expected generated uuid, got %q", w.Header().Get(RequestIDHeader))
	}
}
