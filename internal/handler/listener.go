package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"openhl7/gateway/internal/server"
	"openhl7/gateway/internal/store"
)

// ListenerControl is the part of the MLLP server the API drives
type ListenerControl interface {
	Start(address string, port int) error
	Stop() error
	Status() server.Status
	Sessions() []server.SessionInfo
}

// ListenerHandler starts, stops and reports on the MLLP listener
type ListenerHandler struct {
	listener ListenerControl
	settings store.SettingsStore
	logger   *slog.Logger
}

// NewListenerHandler creates a listener handler
func NewListenerHandler(listener ListenerControl, settings store.SettingsStore, logger *slog.Logger) *ListenerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ListenerHandler{listener: listener, settings: settings, logger: logger}
}

// RegisterRoutes registers listener routes
func (h *ListenerHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/status", h.GetStatus)
	r.GET("/sessions", h.ListSessions)
	r.POST("/listener/start", h.Start)
	r.POST("/listener/stop", h.Stop)
}

// GetStatus returns the listener state and saved settings
func (h *ListenerHandler) GetStatus(c *gin.Context) {
	settings, err := h.settings.Load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"listener": h.listener.Status(),
		"settings": settings,
	})
}

// ListSessions returns the connections being handled right now
func (h *ListenerHandler) ListSessions(c *gin.Context) {
	sessions := h.listener.Sessions()
	c.JSON(http.StatusOK, gin.H{
		"data":  sessions,
		"total": len(sessions),
	})
}

// Start binds the listener to the saved settings
func (h *ListenerHandler) Start(c *gin.Context) {
	settings, err := h.settings.Load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.listener.Start(settings.IP, settings.Port); err != nil {
		if errors.Is(err, server.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Listener start failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.listener.Status())
}

// Stop closes the listener after in-flight messages finish
func (h *ListenerHandler) Stop(c *gin.Context) {
	if err := h.listener.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.listener.Status())
}
