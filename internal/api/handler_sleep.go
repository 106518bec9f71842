package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"presence-tracker-backend/internal/sleepcalc"
)

// GetLatestSleep computes last night's sleep inference on demand. The nightly
// pipeline stage writes the authoritative artifact; this endpoint serves the
// same computation for ad-hoc inspection before the next boundary.
func (h *Handler) GetLatestSleep(c *gin.Context) {
	loc := time.Local
	if h.cfg.Sleep.Timezone != "" {
		l, err := time.LoadLocation(h.cfg.Sleep.Timezone)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid sleep timezone configured"})
			return
		}
		loc = l
	}

	result, err := sleepcalc.Compute(c.Request.Context(), h.store, &h.cfg.Sleep, time.Now(), nil, loc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
