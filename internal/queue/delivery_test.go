package queue

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/your-org/signage/internal/config"
)

// TestDeliverPostsArrayWithAuth ensures the payload ships as an array of
// one with the bearer token attached.
func TestDeliverPostsArrayWithAuth(t *testing.T) {
	var gotBody []byte
	var gotAuth, gotType string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	d := NewArchiveDeliverer(config.ArchiveConfig{IngestURL: ts.URL, BearerToken: "tok"})
	if err := d.Deliver(context.Background(), []byte(`{"timestamp":1700000000}`)); err != nil {
		t.Fatalf("Deliver returned error: %v", err)
	}

	if gotAuth != "Bearer tok" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotType != "application/json" {
		t.Fatalf("content type = %q", gotType)
	}

	var frames []map[string]any
	if err := json.Unmarshal(gotBody, &frames); err != nil {
		t.Fatalf("body is not a JSON array: %s", gotBody)
	}
	if len(frames) != 1 || frames[0]["timestamp"] != float64(1700000000) {
		t.Fatalf("unexpected body: %s", gotBody)
	}
}

// TestDeliverFailsOnServerError surfaces non-2xx statuses so the queue
// retries.
func TestDeliverFailsOnServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	d := NewArchiveDeliverer(config.ArchiveConfig{IngestURL: ts.URL})
	if err := d.Deliver(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

// TestDeliverSkipsWithoutURL drops payloads when no archive is configured.
func TestDeliverSkipsWithoutURL(t *testing.T) {
	d := NewArchiveDeliverer(config.ArchiveConfig{})
	if err := d.Deliver(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("expected nil for unconfigured archive, got %v", err)
	}
}
