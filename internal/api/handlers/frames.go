package handlers

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/signage/internal/ingest"
	"github.com/your-org/signage/internal/queue"
)

// FramesHandler accepts detection frames from edge devices and feeds them
// through the ingestion pipeline. producer may be nil when archive
// forwarding is not configured.
type FramesHandler struct {
	pipeline *ingest.Pipeline
	producer *queue.Producer
}

func NewFramesHandler(pipeline *ingest.Pipeline, producer *queue.Producer) *FramesHandler {
	return &FramesHandler{pipeline: pipeline, producer: producer}
}

// Ingest handles POST /v1/frames and POST /frames. The body is a single
// JSON object, a JSON array, or an NDJSON batch, optionally gzipped.
// Each payload is accepted or rejected independently.
func (h *FramesHandler) Ingest(c *gin.Context) {
	body, err := h.readBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID", "message": err.Error()})
		return
	}

	payloads := splitPayloads(body, c.ContentType())
	accepted := 0
	for _, raw := range payloads {
		frame := h.pipeline.ProcessFrame(c.Request.Context(), raw)
		if frame == nil {
			continue
		}
		accepted++

		if h.producer != nil {
			playerID := ""
			if frame.Player != nil {
				playerID = frame.Player.PlayerID
			}
			if err := h.producer.PublishPayload(c.Request.Context(), playerID, frame); err != nil {
				slog.Error("queue frame for archive", "playerId", playerID, "error", err)
			}
		}
	}

	if accepted == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID", "message": "no valid frames in payload"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "accepted": accepted})
}

func (h *FramesHandler) readBody(c *gin.Context) ([]byte, error) {
	var reader io.Reader = c.Request.Body
	if strings.EqualFold(c.GetHeader("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(reader)
}

// splitPayloads breaks the body into individual frame documents. NDJSON
// bodies split on newlines; a JSON array splits into its elements; anything
// else is treated as one document.
func splitPayloads(body []byte, contentType string) [][]byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	if strings.Contains(contentType, "ndjson") {
		lines := bytes.Split(trimmed, []byte("\n"))
		out := make([][]byte, 0, len(lines))
		for _, line := range lines {
			if line = bytes.TrimSpace(line); len(line) > 0 {
				out = append(out, line)
			}
		}
		return out
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err == nil {
			out := make([][]byte, 0, len(items))
			for _, item := range items {
				out = append(out, item)
			}
			return out
		}
	}

	return [][]byte{trimmed}
}
