package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"presence-tracker-backend/internal/pipeline"
	"presence-tracker-backend/internal/stats"
)

// GetPresence returns the latest presence snapshot.
func (h *Handler) GetPresence(c *gin.Context) {
	if h.presence == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence monitor is not running"})
		return
	}
	c.JSON(http.StatusOK, h.presence.Snapshot())
}

// GetPresenceStats returns aggregated presence statistics. The window starts
// at the optional RFC3339 "since" parameter, defaulting to the current
// logical day's boundary instant.
func (h *Handler) GetPresenceStats(c *gin.Context) {
	now := time.Now().UTC()

	loc := time.Local
	if h.cfg.Pipeline.Timezone != "" {
		if l, err := time.LoadLocation(h.cfg.Pipeline.Timezone); err == nil {
			loc = l
		}
	}

	since := pipeline.BoundaryInstant(now, loc, h.cfg.Pipeline.BoundaryHour).UTC()
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'since' timestamp format, use RFC3339"})
			return
		}
		since = parsed.UTC()
	}

	var activeStart *time.Time
	active := false
	if h.presence != nil {
		start, ok := h.presence.CurrentSession()
		if ok {
			activeStart = &start
			active = true
		}
	}

	result, err := stats.Compute(c.Request.Context(), h.store, since, now, activeStart, active)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
