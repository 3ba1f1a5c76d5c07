package adapter

import (
	"errors"
	"fmt"

	"openhl7/gateway/internal/protocol"
)

// Error codes carried in ERR/MSA detail.
const (
	CodeMalformedMessage      = "100"
	CodeMissingHeader         = "101"
	CodeIncompleteHeader      = "102"
	CodeMissingSendingApp     = "103"
	CodeMissingSendingFac     = "104"
	CodeMissingReceivingApp   = "105"
	CodeMissingReceivingFac   = "106"
	CodeMissingMessageType    = "107"
	CodeMissingControlID      = "108"
	CodeMissingProcessingID   = "109"
	CodeMissingVersionID      = "110"
	CodeUnsupportedType       = "111"
	CodeUnexpectedValidation  = "999"
	descMalformedMessage      = "Message is empty or improperly formatted."
	descMissingHeader         = "MSH segment is missing."
	descIncompleteHeader      = "MSH segment is incomplete."
	descUnexpectedValidation  = "Unexpected error during message validation."
	descUnsupportedTypeFormat = "Unsupported Message Type: %s."
)

// DefaultAllowedTypes is the message type allow-list used when none is configured
var DefaultAllowedTypes = []string{"ADT^A01", "ORM^O01", "ORU^R01"}

// MalformedDetail is reported for frames that fail below the HL7 layer
// (framing, encoding, size).
func MalformedDetail() protocol.Detail {
	return protocol.Detail{Code: CodeMalformedMessage, Description: descMalformedMessage}
}

// Rule is an additional header check run after the built-in ones. It
// returns nil when the header passes.
type Rule func(h protocol.Header) *protocol.Detail

type requiredField struct {
	code  string
	desc  string
	value func(h protocol.Header) string
}

// checked in this order; the first empty slot wins
var requiredFields = []requiredField{
	{CodeMissingSendingApp, "Sending Application is missing.", func(h protocol.Header) string { return h.SendingApplication }},
	{CodeMissingSendingFac, "Sending Facility is missing.", func(h protocol.Header) string { return h.SendingFacility }},
	{CodeMissingReceivingApp, "Receiving Application is missing.", func(h protocol.Header) string { return h.ReceivingApplication }},
	{CodeMissingReceivingFac, "Receiving Facility is missing.", func(h protocol.Header) string { return h.ReceivingFacility }},
	{CodeMissingMessageType, "Message Type is missing.", func(h protocol.Header) string { return h.MessageType }},
	{CodeMissingControlID, "Message Control ID is missing.", func(h protocol.Header) string { return h.ControlID }},
	{CodeMissingProcessingID, "Processing ID is missing.", func(h protocol.Header) string { return h.ProcessingID }},
	{CodeMissingVersionID, "Version ID is missing.", func(h protocol.Header) string { return h.VersionID }},
}

// Validator classifies inbound messages as AA, AE or AR
type Validator struct {
	allowed map[string]struct{}
	rules   []Rule
}

// NewValidator creates a validator. An empty allow-list falls back to
// DefaultAllowedTypes.
func NewValidator(allowedTypes []string, rules ...Rule) *Validator {
	if len(allowedTypes) == 0 {
		allowedTypes = DefaultAllowedTypes
	}
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = struct{}{}
	}
	return &Validator{allowed: allowed, rules: rules}
}

// Validate parses message and classifies it. It never panics; any
// failure inside a check is reported as AR 999.
func (v *Validator) Validate(message string) (outcome protocol.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = protocol.Reject(CodeUnexpectedValidation, descUnexpectedValidation)
		}
	}()

	if len(Segments(message)) == 0 {
		return protocol.Reject(CodeMalformedMessage, descMalformedMessage)
	}

	header, err := ParseHeader(message)
	switch {
	case errors.Is(err, ErrMissingHeader):
		return protocol.Reject(CodeMissingHeader, descMissingHeader)
	case errors.Is(err, ErrIncompleteHeader):
		return protocol.Reject(CodeIncompleteHeader, descIncompleteHeader)
	case err != nil:
		return protocol.Reject(CodeUnexpectedValidation, descUnexpectedValidation)
	}
	return v.ValidateHeader(header)
}

// ValidateHeader applies the presence, allow-list and custom rules to an
// already parsed header.
func (v *Validator) ValidateHeader(h protocol.Header) protocol.Outcome {
	for _, f := range requiredFields {
		if f.value(h) == "" {
			return protocol.Error(f.code, f.desc)
		}
	}

	if !v.Allowed(h.MessageType) {
		return protocol.Error(CodeUnsupportedType, fmt.Sprintf(descUnsupportedTypeFormat, h.MessageType))
	}

	for _, rule := range v.rules {
		if detail := rule(h); detail != nil {
			return protocol.Error(detail.Code, detail.Description)
		}
	}
	return protocol.Accept()
}

// Allowed reports whether messageType is on the allow-list
func (v *Validator) Allowed(messageType string) bool {
	_, ok := v.allowed[messageType]
	return ok
}
