package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"presence-tracker-backend/internal/model"
)

type postChatMessageRequest struct {
	Source  string `json:"source" binding:"required"`
	Author  string `json:"author"`
	Content string `json:"content" binding:"required"`
}

// PostChatMessage appends a message to the chat log. The pipeline's
// on_new_chat stages pick it up on their next evaluation.
func (h *Handler) PostChatMessage(c *gin.Context) {
	var req postChatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := model.ChatMessage{
		Source:    req.Source,
		Author:    req.Author,
		Content:   req.Content,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateChatMessage(c.Request.Context(), &msg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": msg.ID, "created_at": msg.CreatedAt})
}
