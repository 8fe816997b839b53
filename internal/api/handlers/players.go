package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/signage/internal/broker"
	"github.com/your-org/signage/internal/config"
	"github.com/your-org/signage/internal/models"
	"github.com/your-org/signage/internal/observability"
	"github.com/your-org/signage/internal/player"
	"github.com/your-org/signage/pkg/dto"
)

// PlayersHandler serves the HTTP side of the player protocol: state
// reports and the SSE event stream.
type PlayersHandler struct {
	directory *player.Directory
	events    *broker.Broker

	retryMs    int
	popTimeout time.Duration
	keepalive  time.Duration
}

func NewPlayersHandler(directory *player.Directory, events *broker.Broker, cfg config.StreamConfig) *PlayersHandler {
	return &PlayersHandler{
		directory:  directory,
		events:     events,
		retryMs:    cfg.RetryMs,
		popTimeout: cfg.PopTimeout(),
		keepalive:  cfg.Keepalive(),
	}
}

// State handles POST /player/state. The body is a player.state envelope;
// an optional ?cameraId= query binds that camera to the reporting player.
func (h *PlayersHandler) State(c *gin.Context) {
	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID", "message": "malformed body"})
		return
	}
	if msg.Type != dto.TypePlayerState {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID", "message": "expected type player.state"})
		return
	}

	var state models.PlayerState
	if err := json.Unmarshal(msg.Data, &state); err != nil || state.PlayerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID", "message": "state requires playerId"})
		return
	}
	if state.Timestamp == 0 {
		state.Timestamp = time.Now().Unix()
	}

	if err := h.directory.SetState(c.Request.Context(), state.PlayerID, state); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "STORE_FAILED"})
		return
	}

	if cameraID := c.Query("cameraId"); cameraID != "" {
		if err := h.directory.BindCamera(c.Request.Context(), cameraID, state.PlayerID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "STORE_FAILED"})
			return
		}
	}

	ack, _ := json.Marshal(dto.Ack{Ref: dto.TypePlayerState})
	c.JSON(http.StatusOK, dto.Envelope{Type: dto.TypeAck, Data: ack})
}

// Stream handles GET /player/stream?playerId= as a Server-Sent Events
// feed. Queued events are popped with a blocking timeout so a keepalive
// event goes out during silence and client disconnect is noticed
// promptly.
func (h *PlayersHandler) Stream(c *gin.Context) {
	playerID := c.Query("playerId")
	if playerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID", "message": "playerId is required"})
		return
	}

	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	fmt.Fprintf(w, "retry: %d\n\n", h.retryMs)
	flusher.Flush()

	observability.SSEConnections.Inc()
	defer observability.SSEConnections.Dec()
	slog.Debug("sse stream opened", "playerId", playerID)
	defer slog.Debug("sse stream closed", "playerId", playerID)

	ctx := c.Request.Context()
	lastWrite := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env := h.events.BlockingPop(ctx, playerID, h.popTimeout)
		if env != nil {
			data := env.Data
			if len(data) == 0 {
				data = json.RawMessage("{}")
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type, data)
			flusher.Flush()
			lastWrite = time.Now()
			continue
		}

		if time.Since(lastWrite) >= h.keepalive {
			fmt.Fprint(w, "event: keepalive\ndata: {}\n\n")
			flusher.Flush()
			lastWrite = time.Now()
		}
	}
}
