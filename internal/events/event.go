// Package events carries pipeline notifications (status changes,
// received messages, sent acknowledgments, connection errors) from the
// listener to whoever subscribes: the websocket hub, the archive, NATS.
package events

import "time"

// Kind identifies an event
type Kind string

const (
	KindStatusChanged   Kind = "status_changed"
	KindMessageReceived Kind = "message_received"
	KindAckSent         Kind = "ack_sent"
	KindConnectionError Kind = "connection_error"
)

// Listener status values carried by KindStatusChanged. A failed bind
// carries the error text instead.
const (
	StatusChecking = "Checking"
	StatusRunning  = "Running"
	StatusDown     = "Down"
)

// Event is a single pipeline notification
type Event struct {
	Kind      Kind      `json:"kind"`
	Payload   string    `json:"payload"`
	SessionID string    `json:"session_id,omitempty"`
	Remote    string    `json:"remote,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Set on message and ack events once the header is known.
	MessageType string `json:"message_type,omitempty"`
	ControlID   string `json:"control_id,omitempty"`
	AckCode     string `json:"ack_code,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	ErrorText   string `json:"error_text,omitempty"`

	// Inbound holds the received message on ack and error events.
	Inbound string `json:"inbound,omitempty"`
}

// StatusChanged builds a status event
func StatusChanged(status string) Event {
	return Event{Kind: KindStatusChanged, Payload: status, Timestamp: time.Now()}
}

// Publisher receives events. Implementations must not block the caller
// for longer than a local hand-off.
type Publisher interface {
	Publish(e Event)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(e Event)

// Publish calls f(e)
func (f PublisherFunc) Publish(e Event) {
	f(e)
}

// Multi fans an event out to several publishers in order
type Multi []Publisher

// Publish implements Publisher
func (m Multi) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}

// Discard drops every event
var Discard Publisher = PublisherFunc(func(Event) {})
