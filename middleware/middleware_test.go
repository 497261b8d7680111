package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestRouter(logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SecurityHeaders())
	router.Use(LoggerMiddleware(logger))
	router.Use(MetricsMiddleware())
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, RequestID(c))
	})
	router.GET("/boom", func(c *gin.Context) {
		c.Status(http.StatusInternalServerError)
	})
	router.GET("/metrics", PrometheusHandler())
	return router
}

func TestLoggerMiddleware_AssignsRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	router := newTestRouter(zap.New(core))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))

	id := w.Header().Get(RequestIDHeader)
	if id == "" {
		t.Fatal("Expected a generated request id")
	}
	if w.Body.String() != id {
		t.Errorf("Expected handler to see request id %s, got %s", id, w.Body.String())
	}

	entries := logs.FilterMessage("Request handled").All()
	if len(entries) != 1 {
		t.Fatalf("Expected one access log entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["request_id"]; got != id {
		t.Errorf("Expected logged request id %s, got %v", id, got)
	}
}

func TestLoggerMiddleware_KeepsIncomingRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	router := newTestRouter(zap.New(core))

	req := httptest.NewRequest("GET", "/boom", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "req-123" {
		t.Errorf("Expected request id req-123, got %s", got)
	}
	if logs.FilterMessage("Request failed").Len() != 1 {
		t.Error("Expected 5xx responses to be logged at error level")
	}
}

func TestSecurityHeaders_Preflight(t *testing.T) {
	router := newTestRouter(zap.NewNop())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("OPTIONS", "/ping", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status %d, got %d", http.StatusNoContent, w.Code)
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("Expected X-Frame-Options header")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header")
	}
}

func TestMetricsMiddleware_ExposesRequestCounter(t *testing.T) {
	router := newTestRouter(zap.NewNop())

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/ping", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(w.Body.String(), `http_requests_total{endpoint="/ping",method="GET",status="200"}`) {
		t.Errorf("Expected request counter for /ping in metrics output")
	}
}
