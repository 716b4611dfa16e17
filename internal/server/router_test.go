package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/eternisai/enchanted-chat/internal/logger"
	"github.com/eternisai/enchanted-chat/internal/ratelimit"
)

func newTestRouter(t *testing.T, cfg ratelimit.Config) (*gin.Engine, *ratelimit.Limiter) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.New(logger.Config{Level: slog.LevelError})
	limiter := ratelimit.New(cfg, log)
	t.Cleanup(limiter.Destroy)
	sock := NewSocket(nil, log)
	return NewRouter(sock, limiter), limiter
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, ratelimit.Config{PerMinute: 60, PerHour: 500})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestRateLimitStatusRequiresUserID(t *testing.T) {
	router, _ := newTestRouter(t, ratelimit.Config{PerMinute: 60, PerHour: 500})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/rate-limit/status", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRateLimitStatusDoesNotConsume(t *testing.T) {
	router, limiter := newTestRouter(t, ratelimit.Config{PerMinute: 60, PerHour: 500})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/rate-limit/status?userId=u1", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
	}

	snap := limiter.GetStatus("u1")
	if snap.Remaining.Minute != 60 {
		t.Errorf("remaining.minute = %d, want 60 (status must not consume)", snap.Remaining.Minute)
	}
}

func TestRateLimitCheckConsumesAndDenies(t *testing.T) {
	router, _ := newTestRouter(t, ratelimit.Config{PerMinute: 2, PerHour: 500})

	post := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/rate-limit/check",
			strings.NewReader(`{"userId":"u1"}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := post(); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, w.Code)
		}
	}

	w := post()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["limit_type"] != "minute" {
		t.Errorf("limit_type = %v", body["limit_type"])
	}
	if body["retry_after_ms"].(float64) <= 0 {
		t.Errorf("retry_after_ms = %v", body["retry_after_ms"])
	}
}

func TestRateLimitCheckRejectsMissingBody(t *testing.T) {
	router, _ := newTestRouter(t, ratelimit.Config{PerMinute: 60, PerHour: 500})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rate-limit/check", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestPanicRecoveryAnswersJSON500(t *testing.T) {
	router, _ := newTestRouter(t, ratelimit.Config{PerMinute: 60, PerHour: 500})
	router.GET("/boom", func(c *gin.Context) {
		panic("handler exploded")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("recovery response is not JSON: %v", err)
	}
	if body["error"] != "internal server error" {
		t.Errorf("body = %v", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t, ratelimit.Config{PerMinute: 60, PerHour: 500})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/health", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q", got)
	}
}
