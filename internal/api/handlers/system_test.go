package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/your-org/signage/internal/store"
)

func newSystemRouter(t *testing.T) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	h := NewSystemHandler(store.NewWithClient(client), nil, nil)

	r := gin.New()
	r.GET("/health", h.Readyz)
	r.GET("/healthz", h.Healthz)
	return r, mr
}

// TestReadyzReportsRedisOnly omits optional backend checks and the queue
// depth when neither is configured.
func TestReadyzReportsRedisOnly(t *testing.T) {
	r, _ := newSystemRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var payload struct {
		Status     string            `json:"status"`
		Checks     map[string]string `json:"checks"`
		QueueDepth *uint64           `json:"queueDepth"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "ready" {
		t.Fatalf("status = %q", payload.Status)
	}
	if payload.Checks["redis"] != "ok" {
		t.Fatalf("redis check = %q", payload.Checks["redis"])
	}
	if _, ok := payload.Checks["nats"]; ok {
		t.Fatal("nats check present without a producer")
	}
	if payload.QueueDepth != nil {
		t.Fatal("queueDepth present without a producer")
	}
}

// TestReadyzDegradesWhenRedisDown answers 503 with the failure detail.
func TestReadyzDegradesWhenRedisDown(t *testing.T) {
	r, mr := newSystemRouter(t)
	mr.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}
