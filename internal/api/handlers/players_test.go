package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/your-org/signage/internal/broker"
	"github.com/your-org/signage/internal/config"
	"github.com/your-org/signage/internal/player"
	"github.com/your-org/signage/internal/store"
	"github.com/your-org/signage/pkg/dto"
)

func newPlayersRouter(t *testing.T, streamCfg config.StreamConfig) (*gin.Engine, *broker.Broker, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewWithClient(client)

	sse := broker.NewSSEBroker(s)
	h := NewPlayersHandler(player.NewDirectory(s), sse, streamCfg)

	r := gin.New()
	r.POST("/player/state", h.State)
	r.GET("/player/stream", h.Stream)
	return r, sse, mr
}

func defaultStreamCfg() config.StreamConfig {
	return config.StreamConfig{RetryMs: 3000, PopTimeoutSec: 1, KeepaliveSec: 5}
}

// TestStateStoresAndAcks ensures a valid report is stored and answered
// with an ack envelope.
func TestStateStoresAndAcks(t *testing.T) {
	r, _, mr := newPlayersRouter(t, defaultStreamCfg())

	body := `{"type":"player.state","data":{"playerId":"p1","content":[{"contentId":"ad-1","contentType":"video"}],"timestamp":1700000000}}`
	req := httptest.NewRequest(http.MethodPost, "/player/state?cameraId=cam-1", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var env dto.Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.Type != dto.TypeAck {
		t.Fatalf("response type = %q, want %q", env.Type, dto.TypeAck)
	}
	var ack dto.Ack
	if err := json.Unmarshal(env.Data, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Ref != dto.TypePlayerState {
		t.Fatalf("ack ref = %q", ack.Ref)
	}

	if !mr.Exists("player:state:p1") {
		t.Fatal("state not stored")
	}
	if got := mr.HGet("camera:player", "cam-1"); got != "p1" {
		t.Fatalf("camera binding = %q, want p1", got)
	}
}

// TestStateWithoutTimestampDefaultsToNow fills the report timestamp with
// the current time before storing it.
func TestStateWithoutTimestampDefaultsToNow(t *testing.T) {
	r, _, mr := newPlayersRouter(t, defaultStreamCfg())

	before := time.Now().Unix()
	body := `{"type":"player.state","data":{"playerId":"p2","content":[]}}`
	req := httptest.NewRequest(http.MethodPost, "/player/state", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	raw, err := mr.Get("player:state:p2")
	if err != nil {
		t.Fatalf("read stored state: %v", err)
	}
	var state struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		t.Fatalf("decode stored state: %v", err)
	}
	if state.Timestamp < before || state.Timestamp > time.Now().Unix() {
		t.Fatalf("timestamp = %d, want current time", state.Timestamp)
	}
}

// TestStateRejectsWrongEnvelope covers bad type and missing playerId.
func TestStateRejectsWrongEnvelope(t *testing.T) {
	r, _, _ := newPlayersRouter(t, defaultStreamCfg())

	for _, body := range []string{
		`{"type":"player.hello","data":{"playerId":"p1"}}`,
		`{"type":"player.state","data":{"content":[]}}`,
		`not json`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/player/state", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

// TestStreamDeliversQueuedEvents opens the SSE stream against a queue that
// already holds an event and checks the wire format.
func TestStreamDeliversQueuedEvents(t *testing.T) {
	r, sse, _ := newPlayersRouter(t, defaultStreamCfg())

	sse.Publish(context.Background(), "p1", dto.TypeTriggerStart, dto.TriggerEvent{ID: "promo"})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/player/stream?playerId=p1", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.HasPrefix(body, "retry: 3000\n\n") {
		t.Fatalf("missing retry hint, body = %q", body)
	}
	if !strings.Contains(body, "event: event.triggerStart\n") {
		t.Fatalf("missing event line, body = %q", body)
	}
	if !strings.Contains(body, `data: {"id":"promo"}`) {
		t.Fatalf("missing data line, body = %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
}

// TestStreamEmitsKeepaliveEvents sends a named keepalive frame, not a
// comment, when the queue stays silent.
func TestStreamEmitsKeepaliveEvents(t *testing.T) {
	r, _, _ := newPlayersRouter(t, config.StreamConfig{RetryMs: 3000, PopTimeoutSec: 1, KeepaliveSec: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 1300*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/player/stream?playerId=p1", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "event: keepalive\ndata: {}\n\n") {
		t.Fatalf("missing keepalive event frame, body = %q", body)
	}
}

// TestStreamRequiresPlayerID rejects anonymous stream requests.
func TestStreamRequiresPlayerID(t *testing.T) {
	r, _, _ := newPlayersRouter(t, defaultStreamCfg())

	req := httptest.NewRequest(http.MethodGet, "/player/stream", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
