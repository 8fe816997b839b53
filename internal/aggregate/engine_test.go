package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/your-org/signage/internal/config"
	"github.com/your-org/signage/internal/store"
)

func testConfig() config.AggregationConfig {
	return config.AggregationConfig{
		ImpressionGapSec: 5,
		CacheTTLSec:      0,
		MaxFrames:        100,
	}
}

func face(attrs map[string]any) map[string]any { return attrs }

func frameAt(ts int64, playerUUID string, faces ...any) RawFrame {
	return RawFrame{
		"timestamp":      float64(ts),
		"playerUUID":     playerUUID,
		"faceDetections": faces,
	}
}

// TestAggregateBucketSumsMatchTotals ensures per-bucket face counts add up
// to the totals and that empty buckets still appear zero-filled.
func TestAggregateBucketSumsMatchTotals(t *testing.T) {
	e := NewEngine(testConfig(), nil)

	day1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC).Unix()
	day3 := time.Date(2026, 1, 3, 10, 0, 0, 0, time.UTC).Unix()

	frames := []RawFrame{
		frameAt(day1, "p1",
			face(map[string]any{"faceID": float64(1), "gender": float64(0), "dwellTime": float64(4)}),
			face(map[string]any{"faceID": float64(2), "gender": float64(1), "dwellTime": float64(6)}),
		),
		frameAt(day3, "p1",
			face(map[string]any{"faceID": float64(3), "gender": float64(0), "dwellTime": float64(2)}),
		),
	}

	result, err := e.Aggregate(context.Background(), frames, "2026-01-01", "2026-01-04", BucketDay)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}

	if result.BucketType != BucketDay {
		t.Fatalf("expected day buckets, got %s", result.BucketType)
	}
	if len(result.Buckets) != 3 {
		t.Fatalf("expected 3 day buckets, got %d", len(result.Buckets))
	}

	if result.Totals.Faces != 3 {
		t.Fatalf("expected 3 faces total, got %d", result.Totals.Faces)
	}

	bucketFaces := 0
	for _, b := range result.Buckets {
		bucketFaces += b.Faces
	}
	if bucketFaces != result.Totals.Faces {
		t.Fatalf("bucket faces %d != totals %d", bucketFaces, result.Totals.Faces)
	}

	// The middle day saw nothing but must still be present.
	if result.Buckets[1].Bucket != "2026-01-02" || result.Buckets[1].Faces != 0 {
		t.Fatalf("expected empty 2026-01-02 bucket, got %+v", result.Buckets[1])
	}

	if result.Totals.Gender["male"] != 2 || result.Totals.Gender["female"] != 1 {
		t.Fatalf("unexpected gender counts: %v", result.Totals.Gender)
	}
	if result.Totals.GenderPct["male"] != 2.0/3.0 {
		t.Fatalf("unexpected male pct: %v", result.Totals.GenderPct)
	}

	if result.Totals.DwellTime.Sum != 12 {
		t.Fatalf("expected dwell sum 12, got %d", result.Totals.DwellTime.Sum)
	}
	if result.Totals.DwellTime.Avg != 4 {
		t.Fatalf("expected dwell avg 4, got %v", result.Totals.DwellTime.Avg)
	}
}

// TestAggregateViewsRespectGap ensures repeated sightings of the same
// player/content pair inside the gap count as one view.
func TestAggregateViewsRespectGap(t *testing.T) {
	e := NewEngine(testConfig(), nil)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC).Unix()
	withContent := func(ts int64) RawFrame {
		f := frameAt(ts, "p1")
		f["player"] = map[string]any{
			"playerId": "p1",
			"content":  []any{map[string]any{"id": "ad-1"}},
		}
		return f
	}

	frames := []RawFrame{
		withContent(base),     // first view
		withContent(base + 2), // inside gap, ignored
		withContent(base + 6), // past gap, second view
	}

	result, err := e.Aggregate(context.Background(), frames, "2026-01-01", "2026-01-02", BucketHourly8)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if result.Totals.Views != 2 {
		t.Fatalf("expected 2 views, got %d", result.Totals.Views)
	}
}

// TestAggregateImpressionsAreDistinctFaces ensures impressions count each
// engaged face id once, and only faces with dwell or attention time.
func TestAggregateImpressionsAreDistinctFaces(t *testing.T) {
	e := NewEngine(testConfig(), nil)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC).Unix()
	frames := []RawFrame{
		frameAt(base, "p1",
			face(map[string]any{"faceID": float64(1), "dwellTime": float64(3)}),
			face(map[string]any{"faceID": float64(2)}), // no engagement
		),
		frameAt(base+10, "p1",
			face(map[string]any{"faceID": float64(1), "attentionTime": float64(2)}), // repeat
			face(map[string]any{"faceID": float64(3), "attentionTime": float64(1)}),
		),
	}

	result, err := e.Aggregate(context.Background(), frames, "2026-01-01", "2026-01-02", BucketHourly8)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if result.Totals.Impressions != 2 {
		t.Fatalf("expected 2 impressions, got %d", result.Totals.Impressions)
	}
}

// TestAggregateSkipsFramesOutsideWindow ensures out-of-window timestamps
// contribute nothing.
func TestAggregateSkipsFramesOutsideWindow(t *testing.T) {
	e := NewEngine(testConfig(), nil)

	before := time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC).Unix()
	frames := []RawFrame{
		frameAt(before, "p1", face(map[string]any{"faceID": float64(1)})),
	}

	result, err := e.Aggregate(context.Background(), frames, "2026-01-01", "2026-01-02", BucketHourly8)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if result.Totals.Faces != 0 {
		t.Fatalf("expected 0 faces, got %d", result.Totals.Faces)
	}
}

// TestAggregateErrorClasses ensures input failures map onto the sentinel
// errors the HTTP boundary distinguishes.
func TestAggregateErrorClasses(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFrames = 1
	e := NewEngine(cfg, nil)
	ctx := context.Background()

	if _, err := e.Aggregate(ctx, nil, "not-a-date", "2026-01-02", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad start, got %v", err)
	}
	if _, err := e.Aggregate(ctx, nil, "2026-01-02", "2026-01-01", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for inverted window, got %v", err)
	}

	frames := []RawFrame{frameAt(1, "p1"), frameAt(2, "p1")}
	if _, err := e.Aggregate(ctx, frames, "2026-01-01", "2026-01-02", ""); !errors.Is(err, ErrTooManyFrames) {
		t.Fatalf("expected ErrTooManyFrames, got %v", err)
	}
}

// TestAggregateCacheReturnsStoredResult ensures a second call with frames
// that share the cached projection returns the stored result.
func TestAggregateCacheReturnsStoredResult(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCache(store.NewWithClient(client))

	cfg := testConfig()
	cfg.CacheTTLSec = 300
	e := NewEngine(cfg, cache)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC).Unix()
	frames := []RawFrame{
		frameAt(base, "p1", face(map[string]any{"faceID": float64(1), "gender": float64(0)})),
	}

	first, err := e.Aggregate(ctx, frames, "2026-01-01", "2026-01-02", BucketHourly8)
	if err != nil {
		t.Fatalf("first Aggregate returned error: %v", err)
	}
	if first.Totals.Gender["male"] != 1 {
		t.Fatalf("expected 1 male, got %v", first.Totals.Gender)
	}

	// Change an attribute outside the cache projection; the cached result
	// still wins inside the TTL.
	frames[0]["faceDetections"].([]any)[0].(map[string]any)["gender"] = float64(1)
	second, err := e.Aggregate(ctx, frames, "2026-01-01", "2026-01-02", BucketHourly8)
	if err != nil {
		t.Fatalf("second Aggregate returned error: %v", err)
	}
	if second.Totals.Gender["male"] != 1 {
		t.Fatalf("expected cached result with 1 male, got %v", second.Totals.Gender)
	}
}

// TestAgeBinBoundaries pins the bin edges and the fallback for
// non-numeric ages.
func TestAgeBinBoundaries(t *testing.T) {
	tests := []struct {
		age  any
		want string
	}{
		{float64(19), "<20"},
		{float64(20), "20-29"},
		{float64(29), "20-29"},
		{float64(30), "30-45"},
		{float64(45), "30-45"},
		{float64(46), "45+"},
		{"unknown", "20-29"},
		{nil, "20-29"},
	}

	for _, tt := range tests {
		if got := ageBin(tt.age); got != tt.want {
			t.Fatalf("ageBin(%v) = %q, want %q", tt.age, got, tt.want)
		}
	}
}

// TestAttributeMappings pins the numeric code translations used by
// aggregation.
func TestAttributeMappings(t *testing.T) {
	if got := mapGender(float64(0)); got != "male" {
		t.Fatalf("mapGender(0) = %q", got)
	}
	if got := mapGender(float64(1)); got != "female" {
		t.Fatalf("mapGender(1) = %q", got)
	}
	if got := mapGender(float64(7)); got != "" {
		t.Fatalf("mapGender(7) = %q, want empty", got)
	}

	for code, want := range map[float64]string{0: "Happy", 1: "Satisfied", 2: "Neutral", 3: "Unhappy"} {
		if got := mapEmotion(code); got != want {
			t.Fatalf("mapEmotion(%v) = %q, want %q", code, got, want)
		}
	}
	if got := mapEmotion(float64(9)); got != "" {
		t.Fatalf("mapEmotion(9) = %q, want empty", got)
	}

	if got := mapGlasses(true); got != "with" {
		t.Fatalf("mapGlasses(true) = %q", got)
	}
	if got := mapGlasses(float64(0)); got != "without" {
		t.Fatalf("mapGlasses(0) = %q", got)
	}
	if got := mapGlasses("glasses"); got != "with" {
		t.Fatalf("mapGlasses(glasses) = %q", got)
	}
}
