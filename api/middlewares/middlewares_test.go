package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/moyoez/docdrop/tool"
	"github.com/moyoez/docdrop/types"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handlers = append(handlers, func(c *gin.Context) { c.JSON(http.StatusOK, tool.FastReturnSuccess()) })
	router.GET("/ping", handlers...)
	router.OPTIONS("/ping", handlers...)
	return router
}

func request(router *gin.Engine, method, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/ping", nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestOnlyAllowLocal(t *testing.T) {
	router := newRouter(OnlyAllowLocal)
	if w := request(router, http.MethodGet, "127.0.0.1:40000"); w.Code != http.StatusOK {
		t.Errorf("loopback: expected 200, got %d", w.Code)
	}
	if w := request(router, http.MethodGet, "[::1]:40000"); w.Code != http.StatusOK {
		t.Errorf("ipv6 loopback: expected 200, got %d", w.Code)
	}
	if w := request(router, http.MethodGet, "10.1.2.3:40000"); w.Code != http.StatusForbidden {
		t.Errorf("remote: expected 403, got %d", w.Code)
	}
}

func TestAllowAllCORS(t *testing.T) {
	router := newRouter(AllowAllCORS())
	w := request(router, http.MethodOptions, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight: expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q", got)
	}
	w = request(router, http.MethodGet, "")
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Headers") == "" {
		t.Errorf("simple request: got %d, headers %v", w.Code, w.Header())
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	limiter := NewRateLimiter(types.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2})
	router := newRouter(limiter.Middleware())

	for i := 0; i < 2; i++ {
		if w := request(router, http.MethodGet, "10.0.0.1:1000"); w.Code != http.StatusOK {
			t.Fatalf("request %d within burst: expected 200, got %d", i, w.Code)
		}
	}
	w := request(router, http.MethodGet, "10.0.0.1:1000")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("over budget: expected 429, got %d", w.Code)
	}
	if w := request(router, http.MethodGet, "10.0.0.2:1000"); w.Code != http.StatusOK {
		t.Errorf("other client: expected 200, got %d", w.Code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(types.RateLimitConfig{})
	if limiter != nil {
		t.Fatal("zero rate should disable the limiter")
	}
	router := newRouter(limiter.Middleware())
	for i := 0; i < 50; i++ {
		if w := request(router, http.MethodGet, ""); w.Code != http.StatusOK {
			t.Fatalf("disabled limiter rejected request %d", i)
		}
	}
}
