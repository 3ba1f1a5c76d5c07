package adapter

import (
	"errors"
	"strings"
	"time"

	"openhl7/gateway/internal/protocol"
)

const (
	// AckTimestampFormat is YYYYMMDDHHMMSS
	AckTimestampFormat = "20060102150405"
	AckMessageType     = "ACK"
	AckProcessingID    = "P"
	DefaultAckVersion  = "2.3"
)

// AckBuilder synthesizes ACK messages for inbound messages
type AckBuilder struct {
	version string
	now     func() time.Time
}

// NewAckBuilder creates an ack builder. An empty version falls back to
// DefaultAckVersion; a nil clock falls back to time.Now.
func NewAckBuilder(version string, now func() time.Time) *AckBuilder {
	if version == "" {
		version = DefaultAckVersion
	}
	if now == nil {
		now = time.Now
	}
	return &AckBuilder{version: version, now: now}
}

// Build re-parses the inbound message and returns its acknowledgment.
// It fails only when the message has no MSH segment to mirror; an
// incomplete header is mirrored as far as it goes.
func (b *AckBuilder) Build(message string, outcome protocol.Outcome) (string, error) {
	header, err := ParseHeader(message)
	if err != nil && !errors.Is(err, ErrIncompleteHeader) {
		return "", err
	}
	return BuildAck(header, outcome, b.now(), b.version), nil
}

// BuildAck renders MSH, MSA and (for AE) ERR segments. Addressing is
// mirrored: the inbound receiver becomes the ACK sender and vice versa.
func BuildAck(h protocol.Header, outcome protocol.Outcome, now time.Time, version string) string {
	msh := strings.Join([]string{
		HeaderSegmentID,
		EncodingCharacters,
		h.ReceivingApplication,
		h.ReceivingFacility,
		h.SendingApplication,
		h.SendingFacility,
		now.Format(AckTimestampFormat),
		"",
		AckMessageType,
		h.ControlID,
		AckProcessingID,
		version,
	}, FieldSeparator)

	msa := strings.Join([]string{"MSA", string(outcome.Code), h.ControlID}, FieldSeparator)

	segments := []string{msh, msa}
	if outcome.Code == protocol.AckError && outcome.Detail != nil {
		segments = append(segments, strings.Join([]string{
			"ERR", "", "", outcome.Detail.Code, "E", "", "", outcome.Detail.Description,
		}, FieldSeparator))
	}
	return strings.Join(segments, SegmentDelimiter)
}
