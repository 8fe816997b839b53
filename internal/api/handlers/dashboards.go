package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/your-org/signage/internal/aggregate"
)

// DashboardsHandler serves aggregated (or raw) frame statistics fetched
// from the external archive.
type DashboardsHandler struct {
	reader aggregate.FramesReader
	engine *aggregate.Engine
}

func NewDashboardsHandler(reader aggregate.FramesReader, engine *aggregate.Engine) *DashboardsHandler {
	return &DashboardsHandler{reader: reader, engine: engine}
}

// Frames handles GET /dashboards/frames.
func (h *DashboardsHandler) Frames(c *gin.Context) {
	start := c.Query("filter[start]")
	end := c.Query("filter[end]")
	screenIDs := c.Query("filter[screenIds]")
	if start == "" || end == "" || screenIDs == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID",
			"message": "filter[start], filter[end] and filter[screenIds] are required",
		})
		return
	}

	filters := url.Values{}
	for key, values := range c.Request.URL.Query() {
		if len(key) > 7 && key[:7] == "filter[" {
			for _, v := range values {
				filters.Add(key, v)
			}
		}
	}

	frames, err := h.reader.FetchFrames(c.Request.Context(), filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "FETCH_FAILED"})
		return
	}

	if c.Query("returnRawFrames") == "true" {
		sort.SliceStable(frames, func(i, j int) bool {
			return frameTimestamp(frames[i]) < frameTimestamp(frames[j])
		})
		c.JSON(http.StatusOK, gin.H{"data": frames})
		return
	}

	result, err := h.engine.Aggregate(c.Request.Context(), frames, start, end, c.Query("bucketType"))
	if err != nil {
		switch {
		case errors.Is(err, aggregate.ErrTooManyFrames):
			c.JSON(http.StatusBadRequest, gin.H{"error": "LIMIT_EXCEEDED", "message": err.Error()})
		case errors.Is(err, aggregate.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "AGGREGATION_FAILED"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func frameTimestamp(frame aggregate.RawFrame) int64 {
	switch v := frame["timestamp"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}
