package aggregate

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/signage/internal/config"
	"github.com/your-org/signage/internal/observability"
)

// Error classes the dashboard boundary maps to HTTP statuses. Everything
// else coming out of Aggregate is a server-side failure.
var (
	// ErrInvalidInput covers unparseable dates and start >= end.
	ErrInvalidInput = errors.New("invalid aggregation input")
	// ErrTooManyFrames is the frame-count limit, distinguishable from bad
	// input so clients know not to retry with the same window.
	ErrTooManyFrames = errors.New("frame count exceeds limit")
)

// RawFrame is a frame record as returned by the external archive. Frames
// stay loosely typed end to end; one malformed record must never abort an
// aggregation, so every field is extracted tolerantly.
type RawFrame = map[string]any

type Stat struct {
	Sum int     `json:"sum"`
	Avg float64 `json:"avg"`
}

type BucketStats struct {
	Bucket        string         `json:"bucket"`
	Faces         int            `json:"faces"`
	Gender        map[string]int `json:"gender"`
	Emotion       map[string]int `json:"emotion"`
	Glasses       map[string]int `json:"glasses"`
	DwellTime     Stat           `json:"dwellTime"`
	AttentionTime Stat           `json:"attentionTime"`
	AgeBins       map[string]int `json:"ageBins"`
}

type Totals struct {
	Faces         int                `json:"faces"`
	Views         int                `json:"views"`
	Impressions   int                `json:"impressions"`
	Gender        map[string]int     `json:"gender"`
	Emotion       map[string]int     `json:"emotion"`
	Glasses       map[string]int     `json:"glasses"`
	DwellTime     Stat               `json:"dwellTime"`
	AttentionTime Stat               `json:"attentionTime"`
	GenderPct     map[string]float64 `json:"genderPct"`
	EmotionPct    map[string]float64 `json:"emotionPct"`
	GlassesPct    map[string]float64 `json:"glassesPct"`
}

// Result is immutable once built; cached entries are returned verbatim.
type Result struct {
	BucketType string        `json:"bucketType"`
	Totals     Totals        `json:"totals"`
	Buckets    []BucketStats `json:"buckets"`
}

// Engine buckets historical frames into time segments and derives audience
// statistics. It holds no cross-request state beyond the result cache.
type Engine struct {
	viewGap   int64
	cacheTTL  time.Duration
	maxFrames int
	cache     *Cache
}

// NewEngine builds an engine; cache may be nil to disable caching entirely
// (a zero cache TTL disables it too).
func NewEngine(cfg config.AggregationConfig, cache *Cache) *Engine {
	return &Engine{
		viewGap:   int64(cfg.ImpressionGapSec),
		cacheTTL:  time.Duration(cfg.CacheTTLSec) * time.Second,
		maxFrames: cfg.MaxFrames,
		cache:     cache,
	}
}

// Aggregate groups frames into buckets over [start, end) and computes
// totals, percentage breakdowns, views and impressions. Identical inputs
// within the cache TTL return the stored result unchanged.
func (e *Engine) Aggregate(ctx context.Context, frames []RawFrame, startISO, endISO, bucketType string) (*Result, error) {
	began := time.Now()

	startTime, err := parseTime(startISO)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	endTime, err := parseTime(endISO)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	start, end := startTime.Unix(), endTime.Unix()
	if start >= end {
		return nil, fmt.Errorf("%w: start must be before end", ErrInvalidInput)
	}
	if len(frames) > e.maxFrames {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyFrames, len(frames), e.maxFrames)
	}

	cacheKey := e.cacheKey(frames, startISO, endISO, bucketType)
	if e.cacheTTL > 0 && e.cache != nil {
		if cached, ok := e.cache.Get(ctx, cacheKey); ok {
			slog.Debug("aggregation cache hit", "cacheKey", cacheKey, "frameCount", len(frames))
			return cached, nil
		}
	}

	bucket := bucketType
	if bucket == "" {
		bucket = autoBucket(endTime.Sub(startTime))
	}

	keys := makeBucketKeys(start, end, bucket)
	buckets := make(map[string]*BucketStats, len(keys))
	for _, k := range keys {
		buckets[k] = emptyBucket(k)
	}

	totals := emptyTotals()
	lastViewTs := make(map[string]int64)
	impressions := make(map[string]bool)

	for _, frame := range frames {
		ts, ok := asInt64(frame["timestamp"])
		if !ok || ts < start || ts >= end {
			continue
		}

		key := bucketKeyFor(ts, start, end, bucket)
		b, ok := buckets[key]
		if !ok {
			continue
		}

		playerUUID := asString(frame["playerUUID"])
		faces, _ := frame["faceDetections"].([]any)
		totals.Faces += len(faces)

		for _, cid := range contentIDs(frame) {
			viewKey := playerUUID + "|" + cid
			if ts-lastViewTs[viewKey] >= e.viewGap || lastViewTs[viewKey] == 0 {
				totals.Views++
				lastViewTs[viewKey] = ts
			}
		}

		for _, item := range faces {
			face, ok := item.(map[string]any)
			if !ok {
				slog.Warn("skipping malformed face in aggregation", "timestamp", ts)
				continue
			}

			gender := mapGender(face["gender"])
			emotion := mapEmotion(face["emotion"])
			glasses := mapGlasses(face["glasses"])
			dwell := int(asFloat(face["dwellTime"]) + 0.5)
			att := int(asFloat(face["attentionTime"]) + 0.5)

			totals.DwellTime.Sum += dwell
			totals.AttentionTime.Sum += att
			if gender != "" {
				totals.Gender[gender]++
			}
			if emotion != "" {
				totals.Emotion[emotion]++
			}
			if glasses != "" {
				totals.Glasses[glasses]++
			}

			if fid, ok := face["faceID"]; ok && fid != nil && (dwell > 0 || att > 0) {
				impressions[fmt.Sprint(fid)] = true
			}

			b.Faces++
			if gender != "" {
				b.Gender[gender]++
			}
			if emotion != "" {
				b.Emotion[emotion]++
			}
			if glasses != "" {
				b.Glasses[glasses]++
			}
			b.DwellTime.Sum += dwell
			b.AttentionTime.Sum += att
			b.AgeBins[ageBin(face["age"])]++
		}
	}

	totals.Impressions = len(impressions)
	faceDiv := float64(max(1, totals.Faces))
	totals.DwellTime.Avg = float64(totals.DwellTime.Sum) / faceDiv
	totals.AttentionTime.Avg = float64(totals.AttentionTime.Sum) / faceDiv

	genderSum := max(1, totals.Gender["male"]+totals.Gender["female"])
	totals.GenderPct = map[string]float64{
		"male":   float64(totals.Gender["male"]) / float64(genderSum),
		"female": float64(totals.Gender["female"]) / float64(genderSum),
	}

	emotionSum := 0
	for _, v := range totals.Emotion {
		emotionSum += v
	}
	totals.EmotionPct = make(map[string]float64, len(totals.Emotion))
	for k, v := range totals.Emotion {
		totals.EmotionPct[k] = float64(v) / float64(max(1, emotionSum))
	}

	glassesSum := max(1, totals.Glasses["with"]+totals.Glasses["without"])
	totals.GlassesPct = map[string]float64{
		"with":    float64(totals.Glasses["with"]) / float64(glassesSum),
		"without": float64(totals.Glasses["without"]) / float64(glassesSum),
	}

	bucketList := make([]BucketStats, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		div := float64(max(1, b.Faces))
		b.DwellTime.Avg = float64(b.DwellTime.Sum) / div
		b.AttentionTime.Avg = float64(b.AttentionTime.Sum) / div
		bucketList = append(bucketList, *b)
	}

	result := &Result{BucketType: bucket, Totals: totals, Buckets: bucketList}

	if e.cacheTTL > 0 && e.cache != nil {
		e.cache.Put(ctx, cacheKey, result, e.cacheTTL)
	}

	observability.AggregationDuration.Observe(time.Since(began).Seconds())
	slog.Debug("aggregation completed", "frameCount", len(frames), "bucketType", bucket, "duration", time.Since(began).String())

	return result, nil
}

// cacheKey hashes a projection of each frame (timestamp, player, face
// count) with the window parameters, so any change in the underlying data
// produces a different key.
func (e *Engine) cacheKey(frames []RawFrame, startISO, endISO, bucketType string) string {
	type projection struct {
		Timestamp  int64  `json:"timestamp"`
		PlayerUUID string `json:"playerUUID"`
		FaceCount  int    `json:"faceCount"`
	}

	proj := make([]projection, 0, len(frames))
	for _, frame := range frames {
		ts, _ := asInt64(frame["timestamp"])
		faces, _ := frame["faceDetections"].([]any)
		proj = append(proj, projection{
			Timestamp:  ts,
			PlayerUUID: asString(frame["playerUUID"]),
			FaceCount:  len(faces),
		})
	}

	encoded, _ := json.Marshal(proj)
	hash := md5.Sum(encoded)

	if bucketType == "" {
		bucketType = "auto"
	}
	return fmt.Sprintf("aggregation:%x:%s:%s:%s", hash, startISO, endISO, bucketType)
}

func contentIDs(frame RawFrame) []string {
	player, ok := frame["player"].(map[string]any)
	if !ok {
		return nil
	}
	content, ok := player["content"].([]any)
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(content))
	for _, item := range content {
		c, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := asString(c["id"])
		if id == "" {
			id = asString(c["contentId"])
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func emptyBucket(key string) *BucketStats {
	return &BucketStats{
		Bucket:  key,
		Gender:  map[string]int{"male": 0, "female": 0},
		Emotion: map[string]int{"Happy": 0, "Satisfied": 0, "Neutral": 0, "Unhappy": 0},
		Glasses: map[string]int{"with": 0, "without": 0},
		AgeBins: map[string]int{"<20": 0, "20-29": 0, "30-45": 0, "45+": 0},
	}
}

func emptyTotals() Totals {
	return Totals{
		Gender:  map[string]int{"male": 0, "female": 0},
		Emotion: map[string]int{"Happy": 0, "Satisfied": 0, "Neutral": 0, "Unhappy": 0},
		Glasses: map[string]int{"with": 0, "without": 0},
	}
}

func ageBin(v any) string {
	age, ok := asInt64(v)
	if !ok {
		return "20-29"
	}
	switch {
	case age < 20:
		return "<20"
	case age < 30:
		return "20-29"
	case age <= 45:
		return "30-45"
	default:
		return "45+"
	}
}

func mapGender(v any) string {
	switch g := v.(type) {
	case float64:
		if g == 0 {
			return "male"
		}
		if g == 1 {
			return "female"
		}
	case string:
		switch g {
		case "0", "male":
			return "male"
		case "1", "female":
			return "female"
		}
	}
	return ""
}

var emotionLabels = []string{"Happy", "Satisfied", "Neutral", "Unhappy"}

func mapEmotion(v any) string {
	n, ok := asInt64(v)
	if !ok || n < 0 || int(n) >= len(emotionLabels) {
		return ""
	}
	return emotionLabels[n]
}

func mapGlasses(v any) string {
	switch g := v.(type) {
	case bool:
		if g {
			return "with"
		}
		return "without"
	case float64:
		if g != 0 {
			return "with"
		}
		return "without"
	case string:
		switch g {
		case "1", "glasses", "true":
			return "with"
		case "0", "no_glasses", "false":
			return "without"
		}
	}
	return ""
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return int64(f), err == nil
	}
	return 0, false
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
