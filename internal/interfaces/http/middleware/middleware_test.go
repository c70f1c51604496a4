package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (l *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allowed, l.err
}

func serve(engine *gin.Engine, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRateLimit(t *testing.T) {
	tests := []struct {
		name     string
		cfg      RateLimitConfig
		limiter  *stubLimiter
		wantCode int
	}{
		{"disabled", RateLimitConfig{Enabled: false}, &stubLimiter{allowed: false}, http.StatusOK},
		{"allowed", RateLimitConfig{Enabled: true, Limit: 1}, &stubLimiter{allowed: true}, http.StatusOK},
		{"rejected", RateLimitConfig{Enabled: true, Limit: 1}, &stubLimiter{allowed: false}, http.StatusTooManyRequests},
		{"limiter failure lets request through", RateLimitConfig{Enabled: true}, &stubLimiter{err: errors.New("redis down")}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := gin.New()
			engine.POST("/v1/drafts/generate", RateLimit(tt.cfg, tt.limiter), func(c *gin.Context) { c.Status(http.StatusOK) })

			w := serve(engine, http.MethodPost, "/v1/drafts/generate", nil)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.cfg.Enabled {
				assert.Len(t, tt.limiter.keys, 1)
				assert.True(t, strings.HasSuffix(tt.limiter.keys[0], ":/v1/drafts/generate"))
			} else {
				assert.Empty(t, tt.limiter.keys)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID())
	engine.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(requestIDKey)) })

	w := serve(engine, http.MethodGet, "/", http.Header{RequestIDHeader: {"req-123"}})
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-123", w.Body.String())

	w = serve(engine, http.MethodGet, "/", http.Header{RequestIDHeader: {strings.Repeat("x", 100)}})
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)

	w = serve(engine, http.MethodGet, "/", nil)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestRecovery(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID(), Recovery())
	engine.GET("/panic", func(*gin.Context) { panic("boom") })
	engine.GET("/panic-after-write", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late boom")
	})

	w := serve(engine, http.MethodGet, "/panic", http.Header{RequestIDHeader: {"req-9"}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
	assert.Contains(t, w.Body.String(), "req-9")

	w = serve(engine, http.MethodGet, "/panic-after-write", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "partial", w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	engine := gin.New()
	engine.Use(CORS(CORSConfig{AllowedOrigins: []string{"http://localhost:5173"}}))
	engine.POST("/v1/drafts/preview", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(engine, http.MethodOptions, "/v1/drafts/preview", http.Header{
		"Origin":                        {"http://localhost:5173"},
		"Access-Control-Request-Method": {"POST"},
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestMetricsSkipsConfiguredPaths(t *testing.T) {
	engine := gin.New()
	engine.Use(Metrics("/metrics"))
	engine.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/v1/templates", func(c *gin.Context) { c.String(http.StatusOK, "[]") })

	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/metrics", nil).Code)
	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/v1/templates", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(engine, http.MethodGet, "/nope", nil).Code)
}
