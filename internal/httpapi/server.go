// Package httpapi serves the management API: listener control, settings,
// the message archive, live events over websocket, and metrics.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"openhl7/gateway/internal/config"
	"openhl7/gateway/internal/handler"
	"openhl7/gateway/internal/middleware"
	"openhl7/gateway/internal/store"
)

// Server represents the HTTP server
type Server struct {
	router     *gin.Engine
	config     *config.Config
	listener   handler.ListenerControl
	settings   store.SettingsStore
	archive    store.Archive
	wsHub      *handler.WSHub
	gatherer   prometheus.Gatherer
	limiter    middleware.RateLimiter
	logger     *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, listener handler.ListenerControl, settings store.SettingsStore, archive store.Archive, hub *handler.WSHub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:   cfg,
		listener: listener,
		settings: settings,
		archive:  archive,
		wsHub:    hub,
		logger:   logger,
	}
}

// SetGatherer exposes gatherer on /metrics. Call before Setup.
func (s *Server) SetGatherer(g prometheus.Gatherer) {
	s.gatherer = g
}

// SetRateLimiter sets the limiter for /api/v1. Without one an in-process
// limiter is used. Call before Setup.
func (s *Server) SetRateLimiter(l middleware.RateLimiter) {
	s.limiter = l
}

// Setup initializes routes and handlers
func (s *Server) Setup() {
	listenerHandler := handler.NewListenerHandler(s.listener, s.settings, s.logger)
	settingsHandler := handler.NewSettingsHandler(s.settings, s.listener)
	messageHandler := handler.NewMessageHandler(s.archive)
	wsHandler := handler.NewWSHandler(s.wsHub)

	s.router = gin.New()
	s.router.Use(gin.Recovery(), middleware.RequestLogger(s.logger))

	// CORS middleware
	s.router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Public routes
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"listener":   s.listener.Status().State,
			"ws_clients": s.wsHub.GetClientCount(),
		})
	})
	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Live events
	s.router.GET("/ws/events", middleware.JWTAuth(s.config.JWTSecret), wsHandler.HandleEvents)
	s.router.GET("/ws/stats", wsHandler.GetStats)

	// Protected routes
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.config.JWTSecret))
	if s.config.RateLimit > 0 {
		limiter := s.limiter
		if limiter == nil {
			limiter = middleware.NewMemoryRateLimiter()
		}
		api.Use(middleware.RateLimit(limiter, &middleware.RateLimitConfig{
			Limit:  s.config.RateLimit,
			Window: time.Minute,
		}))
	}
	{
		listenerHandler.RegisterRoutes(api)
		settingsHandler.RegisterRoutes(api)
		messageHandler.RegisterRoutes(api)
	}
}

// Run starts the HTTP server and blocks until Shutdown
func (s *Server) Run(addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	s.logger.Info("HTTP server listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// GetRouter returns the gin router for testing
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Shutdown gracefully shuts down the server. Websocket connections are
// closed by stopping the hub's feed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}
