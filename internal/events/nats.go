package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// DefaultSubjectPrefix roots every subject the gateway publishes on
	DefaultSubjectPrefix = "hl7"

	// StreamEvents is the JetStream stream that persists gateway events
	StreamEvents = "HL7_EVENTS"
)

// Conn is the subset of *nats.Conn the publisher needs
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events as JSON to NATS subjects:
//
//	<prefix>.status
//	<prefix>.inbound.<message type>
//	<prefix>.ack.<ack code>
//	<prefix>.error
type NATSPublisher struct {
	conn   Conn
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher creates a publisher over a core NATS connection
func NewNATSPublisher(conn Conn, prefix string, logger *slog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{
		conn:   conn,
		prefix: prefix,
		logger: logger.With("component", "nats"),
	}
}

// NewJetStreamPublisher ensures the HL7_EVENTS stream exists and returns
// a publisher whose messages are persisted by JetStream.
func NewJetStreamPublisher(nc *nats.Conn, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:      StreamEvents,
		Subjects:  []string{prefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxMsgs:   -1,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		MaxAge:    30 * 24 * time.Hour,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}
	if _, err := js.AddStream(cfg); err != nil {
		if !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
		if _, err := js.UpdateStream(cfg); err != nil {
			return nil, fmt.Errorf("failed to update stream %s: %w", cfg.Name, err)
		}
	}

	return NewNATSPublisher(jetStreamConn{js: js}, prefix, logger), nil
}

type jetStreamConn struct {
	js nats.JetStreamContext
}

func (c jetStreamConn) Publish(subject string, data []byte) error {
	_, err := c.js.Publish(subject, data)
	return err
}

// Publish implements Publisher. Failures are logged, never returned:
// the listener must keep serving when the broker is unavailable.
func (p *NATSPublisher) Publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("Failed to marshal event", "kind", e.Kind, "error", err)
		return
	}

	subject := p.Subject(e)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish event", "subject", subject, "error", err)
	}
}

// Subject returns the subject an event is published on
func (p *NATSPublisher) Subject(e Event) string {
	switch e.Kind {
	case KindStatusChanged:
		return p.prefix + ".status"
	case KindMessageReceived:
		return p.prefix + ".inbound." + subjectToken(e.MessageType)
	case KindAckSent:
		return p.prefix + ".ack." + subjectToken(e.AckCode)
	case KindConnectionError:
		return p.prefix + ".error"
	default:
		return p.prefix + ".other"
	}
}

// subjectToken makes value safe to use as a single subject token
func subjectToken(value string) string {
	if value == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, value)
}

// Decode parses an event published by NATSPublisher
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return e, nil
}
