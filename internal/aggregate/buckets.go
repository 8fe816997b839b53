package aggregate

import (
	"fmt"
	"time"
)

// Bucket types. When no override is supplied the window length picks one.
const (
	BucketHourly8 = "hourly8"
	BucketDay     = "day"
	BucketWeek    = "week"
	BucketMonth   = "month"
	BucketYear    = "year"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime accepts the ISO-8601 shapes dashboards actually send.
func parseTime(value string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", value)
}

func autoBucket(window time.Duration) string {
	switch {
	case window <= 24*time.Hour:
		return BucketHourly8
	case window <= 7*24*time.Hour:
		return BucketDay
	case window <= 31*24*time.Hour:
		return BucketWeek
	case window <= 365*24*time.Hour:
		return BucketMonth
	default:
		return BucketYear
	}
}

// makeBucketKeys returns every bucket key for the window, in chronological
// order. All keys exist up front so empty buckets still appear in results.
func makeBucketKeys(start, end int64, bucketType string) []string {
	if bucketType == BucketHourly8 {
		keys := make([]string, 0, 8)
		seg := float64(end-start) / 8
		for i := 0; i < 8; i++ {
			segStart := start + int64(float64(i)*seg)
			keys = append(keys, time.Unix(segStart, 0).UTC().Format(time.RFC3339))
		}
		return keys
	}

	var keys []string
	cur := time.Unix(start, 0).UTC()
	endTime := time.Unix(end, 0).UTC()
	for cur.Before(endTime) {
		keys = append(keys, calendarKey(cur, bucketType))
		switch bucketType {
		case BucketDay:
			cur = cur.AddDate(0, 0, 1)
		case BucketWeek:
			cur = cur.AddDate(0, 0, 7)
		case BucketMonth:
			cur = cur.AddDate(0, 1, 0)
		case BucketYear:
			cur = cur.AddDate(1, 0, 0)
		default:
			return keys
		}
	}
	return keys
}

// bucketKeyFor maps a timestamp to its bucket key. For hourly8 the key is
// the start of the containing segment (index clamped to 0..7); calendar
// buckets truncate the timestamp itself, so a timestamp exactly on a
// boundary lands in the bucket starting there.
func bucketKeyFor(ts, start, end int64, bucketType string) string {
	if bucketType == BucketHourly8 {
		seg := float64(end-start) / 8
		index := int(float64(ts-start) / seg)
		if index < 0 {
			index = 0
		}
		if index > 7 {
			index = 7
		}
		segStart := start + int64(float64(index)*seg)
		return time.Unix(segStart, 0).UTC().Format(time.RFC3339)
	}
	return calendarKey(time.Unix(ts, 0).UTC(), bucketType)
}

func calendarKey(t time.Time, bucketType string) string {
	switch bucketType {
	case BucketDay:
		return t.Format("2006-01-02")
	case BucketWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case BucketMonth:
		return t.Format("2006-01")
	case BucketYear:
		return t.Format("2006")
	default:
		return t.Format(time.RFC3339)
	}
}
