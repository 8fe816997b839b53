package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/signage/internal/queue"
	"github.com/your-org/signage/internal/storage"
	"github.com/your-org/signage/internal/store"
)

type SystemHandler struct {
	store     *store.Store
	snapshots *storage.SnapshotStore
	producer  *queue.Producer
}

// NewSystemHandler wires health checks. snapshots and producer may be nil
// when the corresponding backend is not configured.
func NewSystemHandler(s *store.Store, snapshots *storage.SnapshotStore, producer *queue.Producer) *SystemHandler {
	return &SystemHandler{store: s, snapshots: snapshots, producer: producer}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	// Check Redis
	if err := h.store.Ping(ctx); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	// Check MinIO
	if h.snapshots != nil {
		if err := h.snapshots.Ping(ctx); err != nil {
			checks["minio"] = err.Error()
			healthy = false
		} else {
			checks["minio"] = "ok"
		}
	}

	// Check NATS
	payload := gin.H{"checks": checks}
	if h.producer != nil {
		if err := h.producer.Ping(); err != nil {
			checks["nats"] = err.Error()
			healthy = false
		} else {
			checks["nats"] = "ok"
			if depth, err := h.producer.QueueDepth(ctx); err == nil {
				payload["queueDepth"] = depth
			}
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	payload["status"] = map[bool]string{true: "ready", false: "not ready"}[healthy]
	c.JSON(status, payload)
}
