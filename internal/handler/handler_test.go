package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openhl7/gateway/internal/events"
	"openhl7/gateway/internal/model"
	"openhl7/gateway/internal/server"
	"openhl7/gateway/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeListener struct {
	mu       sync.Mutex
	running  bool
	startErr error
	startIP  string
	port     int
}

func (f *fakeListener) Start(address string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return server.ErrAlreadyRunning
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.running, f.startIP, f.port = true, address, port
	return nil
}

func (f *fakeListener) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *fakeListener) Status() server.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return server.Status{State: server.StateRunning.String()}
	}
	return server.Status{State: server.StateDown.String()}
}

func (f *fakeListener) Sessions() []server.SessionInfo {
	return []server.SessionInfo{{ID: "s1", ClientIP: "10.0.0.1:1234", State: "Accumulating"}}
}

func newRouter(t *testing.T, listener ListenerControl, archive store.Archive) (*gin.Engine, store.SettingsStore) {
	t.Helper()
	settings := store.NewFileSettings(filepath.Join(t.TempDir(), "settings.yaml"))
	r := gin.New()
	api := r.Group("/api/v1")
	NewListenerHandler(listener, settings, nil).RegisterRoutes(api)
	NewSettingsHandler(settings, listener).RegisterRoutes(api)
	NewMessageHandler(archive).RegisterRoutes(api)
	return r, settings
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListenerStartStop(t *testing.T) {
	listener := &fakeListener{}
	r, settings := newRouter(t, listener, store.NewMemoryArchive(0))
	require.NoError(t, settings.Save(context.Background(), store.Settings{IP: "0.0.0.0", Port: 2575}))

	w := do(r, http.MethodPost, "/api/v1/listener/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"Running"`)
	assert.Equal(t, "0.0.0.0", listener.startIP)
	assert.Equal(t, 2575, listener.port)

	w = do(r, http.MethodPost, "/api/v1/listener/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Listener server.Status  `json:"listener"`
		Settings store.Settings `json:"settings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "Running", status.Listener.State)
	assert.Equal(t, 2575, status.Settings.Port)

	w = do(r, http.MethodPost, "/api/v1/listener/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"Down"`)
}

func TestListenerStartFailure(t *testing.T) {
	listener := &fakeListener{startErr: errors.New("address already in use")}
	r, _ := newRouter(t, listener, store.NewMemoryArchive(0))

	w := do(r, http.MethodPost, "/api/v1/listener/start", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "address already in use")
}

func TestListSessions(t *testing.T) {
	r, _ := newRouter(t, &fakeListener{}, store.NewMemoryArchive(0))
	w := do(r, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
	assert.Contains(t, w.Body.String(), `"client_ip":"10.0.0.1:1234"`)
}

func TestSettingsUpdate(t *testing.T) {
	listener := &fakeListener{}
	r, _ := newRouter(t, listener, store.NewMemoryArchive(0))

	w := do(r, http.MethodGet, "/api/v1/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ip":"127.0.0.1","port":5000}`, w.Body.String())

	w = do(r, http.MethodPut, "/api/v1/settings", `{"ip":"10.0.0.2","port":0}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"restart_required":false`)

	w = do(r, http.MethodGet, "/api/v1/settings", "")
	assert.JSONEq(t, `{"ip":"10.0.0.2","port":0}`, w.Body.String())

	listener.running = true
	w = do(r, http.MethodPut, "/api/v1/settings", `{"ip":"10.0.0.3","port":6000}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"restart_required":true`)

	for _, body := range []string{
		`{"ip":"localhost","port":5000}`,
		`{"ip":"10.0.0.1","port":70000}`,
		`{"ip":"10.0.0.1"}`,
		`not json`,
	} {
		w = do(r, http.MethodPut, "/api/v1/settings", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestListMessages(t *testing.T) {
	archive := store.NewMemoryArchive(0)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, archive.Save(ctx, &model.MessageRecord{ID: "1", MessageType: "ADT^A01", Inbound: "MSH|PID|Doe", ReceivedAt: now}))
	require.NoError(t, archive.Save(ctx, &model.MessageRecord{ID: "2", MessageType: "ORU^R01", Inbound: "MSH|PID|Roe", ReceivedAt: now.Add(time.Second)}))
	r, _ := newRouter(t, &fakeListener{}, archive)

	w := do(r, http.MethodGet, "/api/v1/messages?type=ADT&q=DOE", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp model.MessageListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp.Total)
	assert.Equal(t, "1", resp.Data[0].ID)
	assert.Equal(t, 20, resp.PageSize)

	w = do(r, http.MethodGet, "/api/v1/messages?page=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWSHubStreamsEvents(t *testing.T) {
	hub := NewWSHub(nil)
	feed := make(chan events.Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, feed)

	r := gin.New()
	wsHandler := NewWSHandler(hub)
	r.GET("/ws/events", wsHandler.HandleEvents)
	r.GET("/ws/stats", wsHandler.GetStats)
	srv := httptest.NewServer(r)
	defer srv.Close()

	all := dialWS(t, srv, "")
	acksOnly := dialWS(t, srv, "?kinds=ack_sent")
	assert.Equal(t, "connected", readWS(t, all).Type)
	assert.Equal(t, "connected", readWS(t, acksOnly).Type)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	w := do(r, http.MethodGet, "/ws/stats", "")
	assert.Contains(t, w.Body.String(), `"connected_clients":2`)

	feed <- events.StatusChanged(events.StatusRunning)
	feed <- events.Event{Kind: events.KindAckSent, ControlID: "MSG001", AckCode: "AA"}

	var e events.Event
	msg := readWS(t, all)
	require.Equal(t, "event", msg.Type)
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	assert.Equal(t, events.KindStatusChanged, e.Kind)

	msg = readWS(t, acksOnly)
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	assert.Equal(t, events.KindAckSent, e.Kind)
	assert.Equal(t, "MSG001", e.ControlID)

	require.NoError(t, all.WriteJSON(WSMessage{Type: "ping"}))
	for {
		msg = readWS(t, all)
		if msg.Type == "pong" {
			break
		}
	}

	require.NoError(t, all.WriteJSON(WSMessage{Type: "subscribe", Data: json.RawMessage(`{"kinds":["connection_error"]}`)}))
	assert.Equal(t, "subscribed", readWS(t, all).Type)
	feed <- events.Event{Kind: events.KindAckSent}
	feed <- events.Event{Kind: events.KindConnectionError, Payload: "read timed out"}
	msg = readWS(t, all)
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	assert.Equal(t, events.KindConnectionError, e.Kind)

	all.Close()
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	_, _, err := acksOnly.ReadMessage()
	assert.Error(t, err)
}

func TestWSReplyAfterHubClosedClient(t *testing.T) {
	hub := NewWSHub(nil)
	client := &Client{ID: "c1", Send: make(chan []byte, 1), Hub: hub}
	hub.clients[client] = true

	assert.True(t, client.reply(WSMessage{Type: "pong"}))
	assert.False(t, client.reply(WSMessage{Type: "pong"}), "full queue drops the reply")

	hub.remove(client)
	assert.NotPanics(t, func() {
		assert.False(t, client.reply(WSMessage{Type: "pong"}))
	})
	_, open := <-client.Send
	assert.True(t, open, "queued reply is still delivered")
	_, open = <-client.Send
	assert.False(t, open)
}
