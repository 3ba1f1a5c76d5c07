package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"openhl7/gateway/internal/events"
	"openhl7/gateway/internal/protocol"
)

// SessionState tracks one connection through its single message
type SessionState int32

const (
	SessionIdle SessionState = iota
	SessionAccumulating
	SessionFrameComplete
	SessionValidated
	SessionAckSent
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "Idle"
	case SessionAccumulating:
		return "Accumulating"
	case SessionFrameComplete:
		return "FrameComplete"
	case SessionValidated:
		return "Validated"
	case SessionAckSent:
		return "AckSent"
	case SessionClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

const readChunkSize = 4096

// Session represents a client connection
type Session struct {
	ID          string
	GatewayID   string
	Conn        net.Conn
	ClientIP    string
	ConnectedAt time.Time
	state       atomic.Int32
}

// SessionInfo is the exported view of a session
type SessionInfo struct {
	ID          string    `json:"id"`
	GatewayID   string    `json:"gateway_id"`
	ClientIP    string    `json:"client_ip"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
}

func newSession(gatewayID string, conn net.Conn) *Session {
	return &Session{
		ID:          uuid.NewString(),
		GatewayID:   gatewayID,
		Conn:        conn,
		ClientIP:    conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
	}
}

// State returns the session state
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(state SessionState) {
	s.state.Store(int32(state))
}

// Info returns a snapshot of the session
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:          s.ID,
		GatewayID:   s.GatewayID,
		ClientIP:    s.ClientIP,
		State:       s.State().String(),
		ConnectedAt: s.ConnectedAt,
	}
}

// handleConnection reads until one complete frame is buffered, answers
// it and closes. One message per connection. Bytes that arrive outside a
// frame are kept so an unframed message can still be rejected.
func (s *TCPServer) handleConnection(session *Session) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.connectionError(session, fmt.Sprintf("session panic: %v", r), "")
		}
		session.setState(SessionClosed)
		session.Conn.Close()
		s.cleanupSession(session)
		s.logger.Debug("Connection closed", "session", session.ID)
	}()

	s.logger.Info("New connection", "session", session.ID, "remote", session.ClientIP)
	s.registerSession(session)

	buffer := make([]byte, readChunkSize)
	var pending, discarded []byte

	for {
		if err := session.Conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
			s.connectionError(session, fmt.Sprintf("set read deadline: %v", err), "")
			return
		}

		n, err := session.Conn.Read(buffer)
		if n > 0 {
			s.metrics.BytesReceived(n)
			pending = append(pending, buffer[:n]...)
			session.setState(SessionAccumulating)

			frame, rest, scanErr := s.scanner.Scan(pending)
			if scanErr != nil {
				s.handleUnframed(session, pending, scanErr)
				return
			}
			if frame != nil {
				session.setState(SessionFrameComplete)
				s.handleFrame(session, frame)
				return
			}
			discarded = append(discarded, pending[:len(pending)-len(rest)]...)
			if len(discarded) > s.frameLimit() {
				s.handleUnframed(session, discarded, protocol.ErrFrameTooLarge)
				return
			}
			pending = rest
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				switch {
				case len(pending) > 0:
					s.handleUnframed(session, pending, protocol.ErrInvalidFraming)
				case len(discarded) > 0:
					s.handleUnframed(session, discarded, protocol.ErrInvalidFraming)
				}
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if len(pending) == 0 && len(discarded) > 0 {
					s.handleUnframed(session, discarded, protocol.ErrInvalidFraming)
					return
				}
				s.connectionError(session, fmt.Sprintf("read timed out after %s with %d bytes buffered", s.config.ReadTimeout, len(pending)), "")
				return
			}
			s.connectionError(session, fmt.Sprintf("read failed: %v", err), "")
			return
		}
	}
}

// handleFrame runs decode, validate, acknowledge and write for one
// complete frame.
func (s *TCPServer) handleFrame(session *Session, frame []byte) {
	start := time.Now()

	message, err := protocol.Decode(frame)
	if err != nil {
		s.handleUnframed(session, frame, err)
		return
	}

	result, handleErr := s.handler.Handle(message)
	received := s.event(session, events.KindMessageReceived, message)
	if result != nil {
		received.MessageType = result.Header.MessageType
		received.ControlID = result.Header.ControlID
	}
	s.publisher.Publish(received)
	s.logger.Info("HL7 message received", "session", session.ID, "type", received.MessageType, "control_id", received.ControlID)

	if handleErr != nil || result == nil || result.Ack == "" {
		s.connectionError(session, fmt.Sprintf("no acknowledgment possible: %v", handleErr), message)
		return
	}
	session.setState(SessionValidated)

	if err := s.writeAck(session, result.Ack); err != nil {
		s.connectionError(session, fmt.Sprintf("failed to send ACK: %v", err), message)
		return
	}
	session.setState(SessionAckSent)
	s.metrics.MessageHandled(result.Header.MessageType, string(result.Outcome.Code), time.Since(start))

	sent := s.event(session, events.KindAckSent, result.Ack)
	sent.Inbound = message
	sent.MessageType = result.Header.MessageType
	sent.ControlID = result.Header.ControlID
	sent.AckCode = string(result.Outcome.Code)
	if d := result.Outcome.Detail; d != nil {
		sent.ErrorCode = d.Code
		sent.ErrorText = d.Description
	}
	s.publisher.Publish(sent)
	s.logger.Info("ACK sent", "session", session.ID, "ack_code", sent.AckCode, "control_id", sent.ControlID)
}

// handleUnframed answers a frame that failed below the HL7 layer with an
// AR acknowledgment when a header can still be found in it. Otherwise the
// connection closes without a reply.
func (s *TCPServer) handleUnframed(session *Session, raw []byte, cause error) {
	s.metrics.FrameError(frameErrorReason(cause))
	text := salvageText(raw)

	ack, err := s.handler.Reject(text, cause)
	if err != nil {
		s.connectionError(session, fmt.Sprintf("%v; no acknowledgment possible: %v", cause, err), text)
		return
	}
	s.connectionError(session, cause.Error(), "")

	if err := s.writeAck(session, ack); err != nil {
		s.connectionError(session, fmt.Sprintf("failed to send ACK: %v", err), text)
		return
	}
	session.setState(SessionAckSent)

	sent := s.event(session, events.KindAckSent, ack)
	sent.Inbound = text
	sent.AckCode = string(protocol.AckReject)
	sent.ErrorText = cause.Error()
	s.publisher.Publish(sent)
}

func (s *TCPServer) frameLimit() int {
	if s.config.MaxFrameBytes <= 0 {
		return protocol.DefaultMaxFrameBytes
	}
	return s.config.MaxFrameBytes
}

func (s *TCPServer) writeAck(session *Session, ack string) error {
	if err := session.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
		return err
	}
	_, err := session.Conn.Write(protocol.Encode(ack))
	return err
}

// connectionError reports a failure. inbound is set only when the message
// it carries will get no acknowledgment.
func (s *TCPServer) connectionError(session *Session, text, inbound string) {
	s.metrics.ConnectionError()
	s.logger.Warn("Connection error", "session", session.ID, "remote", session.ClientIP, "error", text)

	e := s.event(session, events.KindConnectionError, text)
	e.Inbound = inbound
	s.publisher.Publish(e)
}

func (s *TCPServer) event(session *Session, kind events.Kind, payload string) events.Event {
	return events.Event{
		Kind:      kind,
		Payload:   payload,
		SessionID: session.ID,
		Remote:    session.ClientIP,
		Timestamp: time.Now(),
	}
}

// salvageText recovers readable text from a frame that failed to decode
func salvageText(raw []byte) string {
	if idx := bytes.IndexByte(raw, protocol.StartBlock); idx >= 0 {
		raw = raw[idx+1:]
	}
	raw = bytes.TrimRight(raw, string([]byte{protocol.CarriageReturn, protocol.EndBlock}))
	raw = bytes.ReplaceAll(raw, []byte{protocol.EndBlock}, nil)
	return strings.ToValidUTF8(string(raw), "")
}

func frameErrorReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrInvalidEncoding):
		return "encoding"
	case errors.Is(err, protocol.ErrFrameTooLarge):
		return "too_large"
	default:
		return "framing"
	}
}
