package queue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/your-org/signage/internal/config"
	"github.com/your-org/signage/internal/observability"
)

// ArchiveDeliverer posts queued frame payloads to the external archive.
// The archive ingest endpoint accepts a JSON array of frames; each queued
// payload is a single frame, so it ships as an array of one.
type ArchiveDeliverer struct {
	url    string
	token  string
	client *http.Client
}

func NewArchiveDeliverer(cfg config.ArchiveConfig) *ArchiveDeliverer {
	return &ArchiveDeliverer{
		url:   cfg.IngestURL,
		token: cfg.BearerToken,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Deliver implements DeliverFunc. An unconfigured archive URL drops the
// payload without error so the queue drains instead of piling up.
func (d *ArchiveDeliverer) Deliver(ctx context.Context, payload []byte) error {
	if d.url == "" {
		observability.ForwardDeliveries.WithLabelValues("skipped").Inc()
		return nil
	}

	body := make([]byte, 0, len(payload)+2)
	body = append(body, '[')
	body = append(body, payload...)
	body = append(body, ']')

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build archive request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		observability.ForwardDeliveries.WithLabelValues("failure").Inc()
		return fmt.Errorf("post to archive: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.ForwardDeliveries.WithLabelValues("failure").Inc()
		return fmt.Errorf("archive returned status %d", resp.StatusCode)
	}

	observability.ForwardDeliveries.WithLabelValues("success").Inc()
	return nil
}
