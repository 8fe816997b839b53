package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/your-org/signage/internal/config"
)

// FramesReader fetches raw frame records for a filter set. The dashboard
// boundary consumes this; the archive HTTP API is the only implementation.
type FramesReader interface {
	FetchFrames(ctx context.Context, filters url.Values) ([]RawFrame, error)
}

// ArchiveReader reads frames back from the external archive's query API.
type ArchiveReader struct {
	url    string
	token  string
	client *http.Client
}

func NewArchiveReader(cfg config.ArchiveConfig) *ArchiveReader {
	return &ArchiveReader{
		url:    cfg.QueryURL,
		token:  cfg.BearerToken,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchFrames passes the caller's filters through to the archive and
// returns its frame list. An unconfigured URL or a non-2xx response yields
// an empty list, not an error; transport failures are reported so the
// boundary can distinguish "archive down" from "no data".
func (r *ArchiveReader) FetchFrames(ctx context.Context, filters url.Values) ([]RawFrame, error) {
	if r.url == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build archive query: %w", err)
	}
	req.URL.RawQuery = filters.Encode()
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	res, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		io.Copy(io.Discard, res.Body)
		return nil, nil
	}

	var body struct {
		Frames []RawFrame `json:"frames"`
		Data   []RawFrame `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode archive response: %w", err)
	}

	if body.Frames != nil {
		return body.Frames, nil
	}
	return body.Data, nil
}
