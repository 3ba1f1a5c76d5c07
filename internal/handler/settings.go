package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"openhl7/gateway/internal/server"
	"openhl7/gateway/internal/store"
)

// SettingsHandler reads and updates the listener bind settings. Saved
// settings apply the next time the listener starts.
type SettingsHandler struct {
	settings store.SettingsStore
	listener ListenerControl
}

// NewSettingsHandler creates a settings handler
func NewSettingsHandler(settings store.SettingsStore, listener ListenerControl) *SettingsHandler {
	return &SettingsHandler{settings: settings, listener: listener}
}

// RegisterRoutes registers settings routes
func (h *SettingsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/settings", h.Get)
	r.PUT("/settings", h.Update)
}

// Get returns the saved settings
func (h *SettingsHandler) Get(c *gin.Context) {
	settings, err := h.settings.Load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// Update validates and saves new settings
func (h *SettingsHandler) Update(c *gin.Context) {
	var req struct {
		IP   string `json:"ip" binding:"required"`
		Port *int   `json:"port" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings := store.Settings{IP: req.IP, Port: *req.Port}
	if err := h.settings.Save(c.Request.Context(), settings); err != nil {
		if errors.Is(err, store.ErrInvalidSettings) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	restart := false
	if h.listener != nil {
		restart = h.listener.Status().State == server.StateRunning.String()
	}
	c.JSON(http.StatusOK, gin.H{
		"settings":         settings,
		"restart_required": restart,
	})
}
