package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/your-org/signage/internal/aggregate"
	"github.com/your-org/signage/internal/config"
)

type stubReader struct {
	frames []aggregate.RawFrame
	err    error
	seen   url.Values
}

func (s *stubReader) FetchFrames(_ context.Context, filters url.Values) ([]aggregate.RawFrame, error) {
	s.seen = filters
	return s.frames, s.err
}

func newDashboardsRouter(t *testing.T, reader *stubReader, maxFrames int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := aggregate.NewEngine(config.AggregationConfig{
		ImpressionGapSec: 5,
		MaxFrames:        maxFrames,
	}, nil)

	r := gin.New()
	r.GET("/dashboards/frames", NewDashboardsHandler(reader, engine).Frames)
	return r
}

const dashQuery = "filter[start]=2026-01-01&filter[end]=2026-01-02&filter[screenIds]=p1"

// TestDashboardsRequiresFilters rejects requests missing any required
// filter.
func TestDashboardsRequiresFilters(t *testing.T) {
	r := newDashboardsRouter(t, &stubReader{}, 100)

	for _, q := range []string{
		"",
		"filter[start]=2026-01-01",
		"filter[start]=2026-01-01&filter[end]=2026-01-02",
	} {
		req := httptest.NewRequest(http.MethodGet, "/dashboards/frames?"+q, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("query %q: status = %d, want 400", q, w.Code)
		}
	}
}

// TestDashboardsFetchFailure maps archive errors to FETCH_FAILED.
func TestDashboardsFetchFailure(t *testing.T) {
	r := newDashboardsRouter(t, &stubReader{err: errors.New("boom")}, 100)

	req := httptest.NewRequest(http.MethodGet, "/dashboards/frames?"+dashQuery, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "FETCH_FAILED" {
		t.Fatalf("error = %q, want FETCH_FAILED", resp.Error)
	}
}

// TestDashboardsRawFramesSorted returns raw frames ascending by timestamp.
func TestDashboardsRawFramesSorted(t *testing.T) {
	reader := &stubReader{frames: []aggregate.RawFrame{
		{"timestamp": float64(1767225700)},
		{"timestamp": float64(1767225600)},
		{"timestamp": float64(1767225650)},
	}}
	r := newDashboardsRouter(t, reader, 100)

	req := httptest.NewRequest(http.MethodGet, "/dashboards/frames?"+dashQuery+"&returnRawFrames=true", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data []map[string]float64 `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(resp.Data))
	}
	for i := 1; i < len(resp.Data); i++ {
		if resp.Data[i-1]["timestamp"] > resp.Data[i]["timestamp"] {
			t.Fatalf("frames not sorted ascending: %v", resp.Data)
		}
	}
}

// TestDashboardsLimitExceeded maps the frame-count limit to a 400.
func TestDashboardsLimitExceeded(t *testing.T) {
	reader := &stubReader{frames: []aggregate.RawFrame{
		{"timestamp": float64(1)},
		{"timestamp": float64(2)},
	}}
	r := newDashboardsRouter(t, reader, 1)

	req := httptest.NewRequest(http.MethodGet, "/dashboards/frames?"+dashQuery, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "LIMIT_EXCEEDED" {
		t.Fatalf("error = %q, want LIMIT_EXCEEDED", resp.Error)
	}
}

// TestDashboardsAggregates returns bucketed stats for a valid request and
// forwards only filter params to the archive.
func TestDashboardsAggregates(t *testing.T) {
	reader := &stubReader{frames: []aggregate.RawFrame{
		{
			"timestamp":  float64(1767268800), // 2026-01-01T12:00:00Z
			"playerUUID": "p1",
			"faceDetections": []any{
				map[string]any{"faceID": float64(1), "gender": float64(0), "dwellTime": float64(3)},
			},
		},
	}}
	r := newDashboardsRouter(t, reader, 100)

	req := httptest.NewRequest(http.MethodGet, "/dashboards/frames?"+dashQuery+"&bucketType=day&other=x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data aggregate.Result `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.BucketType != aggregate.BucketDay {
		t.Fatalf("bucketType = %q", resp.Data.BucketType)
	}
	if resp.Data.Totals.Faces != 1 || resp.Data.Totals.Gender["male"] != 1 {
		t.Fatalf("unexpected totals: %+v", resp.Data.Totals)
	}

	if reader.seen.Get("filter[screenIds]") != "p1" {
		t.Fatalf("filters not forwarded: %v", reader.seen)
	}
	if reader.seen.Get("other") != "" {
		t.Fatalf("non-filter params must not be forwarded: %v", reader.seen)
	}
}
