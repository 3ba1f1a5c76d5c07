// Header parsing for the MSH segment plus the adapter that ties parsing,
// validation and acknowledgment together for the TCP server.

package adapter

import (
	"errors"
	"strings"
	"time"

	"openhl7/gateway/internal/protocol"
)

const (
	HeaderSegmentID    = "MSH"
	FieldSeparator     = "|"
	SegmentDelimiter   = "\r"
	EncodingCharacters = `^~\&`

	// MSH split indexes. MSH-1 is the field separator itself, so the
	// value of MSH-n sits at index n-1 after splitting on "|".
	idxSendingApplication   = 2
	idxSendingFacility      = 3
	idxReceivingApplication = 4
	idxReceivingFacility    = 5
	idxTimestamp            = 6
	idxMessageType          = 8
	idxControlID            = 9
	idxProcessingID         = 10
	idxVersionID            = 11

	// MinHeaderFields is the fixed arity an MSH segment must reach.
	MinHeaderFields = idxVersionID + 1
)

var (
	ErrMissingHeader    = errors.New("hl7: MSH segment is missing")
	ErrIncompleteHeader = errors.New("hl7: MSH segment is incomplete")
)

// Segments splits a message into its non-empty segments. Line feeds are
// accepted as delimiters alongside carriage returns.
func Segments(message string) []string {
	normalized := strings.ReplaceAll(message, "\r\n", SegmentDelimiter)
	normalized = strings.ReplaceAll(normalized, "\n", SegmentDelimiter)
	normalized = strings.TrimSpace(normalized)
	if normalized == "" {
		return nil
	}

	parts := strings.Split(normalized, SegmentDelimiter)
	segments := parts[:0]
	for _, seg := range parts {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}

// ParseHeader extracts the MSH slots from message.
//
// When the segment has fewer than MinHeaderFields fields the slots that
// are present are still filled in and ErrIncompleteHeader is returned,
// so a reject acknowledgment can mirror whatever addressing exists.
func ParseHeader(message string) (protocol.Header, error) {
	msh := findHeaderSegment(Segments(message))
	if msh == "" {
		return protocol.Header{}, ErrMissingHeader
	}

	fields := strings.Split(msh, FieldSeparator)
	field := func(idx int) string {
		if idx < len(fields) {
			return fields[idx]
		}
		return ""
	}

	h := protocol.Header{
		SendingApplication:   field(idxSendingApplication),
		SendingFacility:      field(idxSendingFacility),
		ReceivingApplication: field(idxReceivingApplication),
		ReceivingFacility:    field(idxReceivingFacility),
		Timestamp:            field(idxTimestamp),
		MessageType:          field(idxMessageType),
		ControlID:            field(idxControlID),
		ProcessingID:         field(idxProcessingID),
		VersionID:            field(idxVersionID),
	}
	if len(fields) < MinHeaderFields {
		return h, ErrIncompleteHeader
	}
	return h, nil
}

func findHeaderSegment(segments []string) string {
	for _, seg := range segments {
		if strings.HasPrefix(seg, HeaderSegmentID) {
			return seg
		}
	}
	return ""
}

// HL7Config configures the HL7 adapter
type HL7Config struct {
	AllowedTypes []string
	AckVersion   string
	Rules        []Rule
}

// HL7Adapter implements protocol.MessageHandler for HL7 v2 over MLLP
type HL7Adapter struct {
	validator *Validator
	acks      *AckBuilder
}

// NewHL7Adapter creates a new HL7 adapter
func NewHL7Adapter(cfg HL7Config) *HL7Adapter {
	return &HL7Adapter{
		validator: NewValidator(cfg.AllowedTypes, cfg.Rules...),
		acks:      NewAckBuilder(cfg.AckVersion, time.Now),
	}
}

// Protocol returns protocol identifier
func (a *HL7Adapter) Protocol() string {
	return "HL7v2"
}

// Handle validates message and builds its acknowledgment
func (a *HL7Adapter) Handle(message string) (*protocol.Result, error) {
	outcome := a.validator.Validate(message)

	header, err := ParseHeader(message)
	result := &protocol.Result{Header: header, Outcome: outcome}
	if errors.Is(err, ErrMissingHeader) {
		return result, err
	}

	ack, err := a.acks.Build(message, outcome)
	if err != nil {
		return result, err
	}
	result.Ack = ack
	return result, nil
}

// Reject builds an AR acknowledgment for a frame that could not be
// decoded. Every transport-level cause maps to the malformed-message code.
func (a *HL7Adapter) Reject(message string, cause error) (string, error) {
	detail := MalformedDetail()
	return a.acks.Build(message, protocol.Reject(detail.Code, detail.Description))
}
