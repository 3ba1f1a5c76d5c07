package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openhl7/gateway/internal/adapter"
	"openhl7/gateway/internal/config"
	"openhl7/gateway/internal/handler"
	"openhl7/gateway/internal/metrics"
	"openhl7/gateway/internal/middleware"
	"openhl7/gateway/internal/server"
	"openhl7/gateway/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	listener := server.NewTCPServer(cfg, adapter.NewHL7Adapter(adapter.HL7Config{}), nil, nil)
	listener.SetMetrics(metrics.New(reg))
	t.Cleanup(func() { _ = listener.Stop() })

	settings := store.NewFileSettings(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, settings.Save(context.Background(), store.Settings{IP: "127.0.0.1", Port: 0}))

	srv := NewServer(cfg, listener, settings, store.NewMemoryArchive(0), handler.NewWSHub(nil), nil)
	srv.SetGatherer(reg)
	srv.Setup()
	return srv
}

func request(srv *Server, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, config.Load())

	w := request(srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","listener":"Down","ws_clients":0}`, w.Body.String())

	w = request(srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hl7gateway_listener_up")
}

func TestSwaggerDocument(t *testing.T) {
	srv := newTestServer(t, config.Load())

	w := request(srv, http.MethodGet, "/swagger/doc.json", "")
	require.Equal(t, http.StatusOK, w.Code)
	var doc struct {
		Info struct {
			Title string `json:"title"`
		} `json:"info"`
		BasePath string                    `json:"basePath"`
		Paths    map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "HL7 Gateway API", doc.Info.Title)
	assert.Equal(t, "/api/v1", doc.BasePath)
	for _, path := range []string{"/status", "/sessions", "/listener/start", "/listener/stop", "/settings", "/messages"} {
		assert.Contains(t, doc.Paths, path)
	}
	assert.Contains(t, doc.Paths["/settings"], "put")

	w = request(srv, http.MethodGet, "/swagger/index.html", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListenerControlOverAPI(t *testing.T) {
	srv := newTestServer(t, config.Load())

	w := request(srv, http.MethodPost, "/api/v1/listener/start", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"state":"Running"`)

	w = request(srv, http.MethodGet, "/metrics", "")
	assert.Contains(t, w.Body.String(), "hl7gateway_listener_up 1")

	w = request(srv, http.MethodPost, "/api/v1/listener/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"Down"`)
}

func TestAPIRequiresTokenWhenSecretSet(t *testing.T) {
	cfg := config.Load()
	cfg.JWTSecret = "s3cret"
	srv := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, request(srv, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, request(srv, http.MethodGet, "/api/v1/status", "").Code)
	assert.Equal(t, http.StatusUnauthorized, request(srv, http.MethodGet, "/ws/events", "").Code)

	token, err := middleware.IssueToken("s3cret", "ops", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, request(srv, http.MethodGet, "/api/v1/status", token).Code)
}

func TestAPIRateLimit(t *testing.T) {
	cfg := config.Load()
	cfg.RateLimit = 2
	srv := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, request(srv, http.MethodGet, "/api/v1/settings", "").Code)
	assert.Equal(t, http.StatusOK, request(srv, http.MethodGet, "/api/v1/settings", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, request(srv, http.MethodGet, "/api/v1/settings", "").Code)
	assert.Equal(t, http.StatusOK, request(srv, http.MethodGet, "/health", "").Code)
}

func TestRunAndShutdown(t *testing.T) {
	srv := newTestServer(t, config.Load())
	assert.NoError(t, srv.Shutdown(context.Background()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run("127.0.0.1:0") }()
	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return srv.httpServer != nil
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, srv.Shutdown(context.Background()))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}
