package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// GetPipelineState returns the scheduler's persisted state.
func (h *Handler) GetPipelineState(c *gin.Context) {
	if h.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pipeline is not running"})
		return
	}

	state, err := h.pipeline.State(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

// RunPipelineStage triggers one stage by id, bypassing its run policy.
func (h *Handler) RunPipelineStage(c *gin.Context) {
	if h.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pipeline is not running"})
		return
	}

	id := c.Param("id")
	if err := h.pipeline.RunStage(c.Request.Context(), id, time.Now()); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stage": id, "status": "completed"})
}
