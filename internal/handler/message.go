package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"openhl7/gateway/internal/model"
	"openhl7/gateway/internal/store"
)

// MessageHandler serves the archive of received messages
type MessageHandler struct {
	archive store.Archive
}

// NewMessageHandler creates a message handler
func NewMessageHandler(archive store.Archive) *MessageHandler {
	return &MessageHandler{archive: archive}
}

// RegisterRoutes registers archive routes
func (h *MessageHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/messages", h.List)
}

// List returns archived messages, newest first
func (h *MessageHandler) List(c *gin.Context) {
	var query model.MessageListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	query.Normalize()

	resp, err := h.archive.List(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}
