package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"openhl7/gateway/internal/config"
	"openhl7/gateway/internal/events"
	"openhl7/gateway/internal/metrics"
	"openhl7/gateway/internal/protocol"
)

// State is the listener lifecycle state
type State int32

const (
	StateDown State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateDown:
		return "Down"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

var ErrAlreadyRunning = errors.New("listener is already running")

// SessionRegistry records live sessions outside the process
type SessionRegistry interface {
	Register(ctx context.Context, info SessionInfo) error
	Unregister(ctx context.Context, sessionID string) error
}

// Status is a snapshot of the listener
type Status struct {
	State          string    `json:"state"`
	Address        string    `json:"address,omitempty"`
	ActiveSessions int       `json:"active_sessions"`
	StartedAt      time.Time `json:"started_at"`
	LastError      string    `json:"last_error,omitempty"`
}

// TCPServer accepts MLLP connections and hands each to its own session
type TCPServer struct {
	config    *config.Config
	handler   protocol.MessageHandler
	scanner   protocol.PacketScanner
	publisher events.Publisher
	registry  SessionRegistry
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// mu serializes Start and Stop
	mu       sync.Mutex
	state    atomic.Int32
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	// infoMu guards the fields read by Status and Addr, which must not
	// wait behind a draining Stop.
	infoMu    sync.RWMutex
	addr      net.Addr
	startedAt time.Time
	lastError string

	sessions sync.Map // map[string]*Session
	active   atomic.Int64
	wg       sync.WaitGroup
}

// NewTCPServer creates a new MLLP server. It does not bind until Start.
func NewTCPServer(cfg *config.Config, handler protocol.MessageHandler, publisher events.Publisher, logger *slog.Logger) *TCPServer {
	if publisher == nil {
		publisher = events.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPServer{
		config:    cfg,
		handler:   handler,
		scanner:   protocol.NewMLLPScanner(cfg.MaxFrameBytes),
		publisher: publisher,
		logger:    logger.With("component", "gateway"),
	}
}

// SetRegistry attaches a session registry. Call before Start.
func (s *TCPServer) SetRegistry(registry SessionRegistry) {
	s.registry = registry
}

// SetMetrics attaches metrics. Call before Start.
func (s *TCPServer) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// State returns the current lifecycle state
func (s *TCPServer) State() State {
	return State(s.state.Load())
}

// Start binds address:port and begins accepting connections. A bind
// failure leaves the server Down and is reported as a status event.
func (s *TCPServer) Start(address string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateDown {
		return ErrAlreadyRunning
	}
	s.state.Store(int32(StateStarting))
	s.publisher.Publish(events.StatusChanged(events.StatusChecking))

	addr := net.JoinHostPort(address, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.state.Store(int32(StateDown))
		s.setInfo(nil, time.Time{}, err.Error())
		s.logger.Error("Server failed to start", "addr", addr, "error", err)
		s.publisher.Publish(events.StatusChanged(err.Error()))
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.setInfo(listener.Addr(), time.Now(), "")
	s.state.Store(int32(StateRunning))
	s.metrics.ListenerUp(true)

	s.wg.Add(1)
	go s.acceptLoop(s.ctx, listener)

	s.logger.Info("Server started", "addr", listener.Addr().String(), "protocol", s.handler.Protocol())
	s.publisher.Publish(events.StatusChanged(events.StatusRunning))
	return nil
}

// Stop closes the listener and waits for in-flight sessions to finish
// their current message. Sessions are bounded by their read and write
// deadlines.
func (s *TCPServer) Stop() error {
	return s.Shutdown(context.Background())
}

// Shutdown is Stop with a bound: when ctx ends first, open client
// connections are closed so their sessions exit immediately.
func (s *TCPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateRunning {
		return nil
	}
	s.state.Store(int32(StateStopping))

	s.cancel()
	err := s.listener.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.sessions.Range(func(_, value interface{}) bool {
			if session, ok := value.(*Session); ok {
				session.Conn.Close()
			}
			return true
		})
		<-done
	}

	s.listener = nil
	s.setInfo(nil, time.Time{}, "")
	s.state.Store(int32(StateDown))
	s.metrics.ListenerUp(false)
	s.logger.Info("Server stopped")
	s.publisher.Publish(events.StatusChanged(events.StatusDown))

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close listener: %w", err)
	}
	return nil
}

func (s *TCPServer) setInfo(addr net.Addr, startedAt time.Time, lastError string) {
	s.infoMu.Lock()
	defer s.infoMu.Unlock()
	s.addr = addr
	s.startedAt = startedAt
	s.lastError = lastError
}

// Addr returns the bound address, or nil when the server is not running
func (s *TCPServer) Addr() net.Addr {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()
	return s.addr
}

// Status returns a snapshot of the server
func (s *TCPServer) Status() Status {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()

	st := Status{
		State:          s.State().String(),
		ActiveSessions: int(s.active.Load()),
		StartedAt:      s.startedAt,
		LastError:      s.lastError,
	}
	if s.addr != nil {
		st.Address = s.addr.String()
	}
	return st
}

// Sessions lists the sessions currently being handled
func (s *TCPServer) Sessions() []SessionInfo {
	list := make([]SessionInfo, 0)
	s.sessions.Range(func(_, value interface{}) bool {
		if session, ok := value.(*Session); ok {
			list = append(list, session.Info())
		}
		return true
	})
	return list
}

func (s *TCPServer) acceptLoop(ctx context.Context, listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Accept error", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		session := newSession(s.config.GatewayID, conn)
		s.sessions.Store(session.ID, session)
		s.active.Add(1)
		s.metrics.SessionOpened()

		s.wg.Add(1)
		go s.handleConnection(session)
	}
}

func (s *TCPServer) registerSession(session *Session) {
	if s.registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.registry.Register(ctx, session.Info()); err != nil {
		s.logger.Warn("Failed to register session", "session", session.ID, "error", err)
	}
}

func (s *TCPServer) cleanupSession(session *Session) {
	s.sessions.Delete(session.ID)
	s.active.Add(-1)
	s.metrics.SessionClosed()

	if s.registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.registry.Unregister(ctx, session.ID); err != nil {
		s.logger.Warn("Failed to unregister session", "session", session.ID, "error", err)
	}
}
