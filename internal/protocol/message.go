package protocol

// Header is the positional view over an MSH segment used for validation
// and for mirroring into the acknowledgment.
type Header struct {
	SendingApplication   string `json:"sending_application"`
	SendingFacility      string `json:"sending_facility"`
	ReceivingApplication string `json:"receiving_application"`
	ReceivingFacility    string `json:"receiving_facility"`
	Timestamp            string `json:"timestamp"`
	MessageType          string `json:"message_type"`
	ControlID            string `json:"control_id"`
	ProcessingID         string `json:"processing_id"`
	VersionID            string `json:"version_id"`
}

// AckCode is the MSA-1 acknowledgment classification.
type AckCode string

const (
	AckAccept AckCode = "AA"
	AckError  AckCode = "AE"
	AckReject AckCode = "AR"
)

// Detail is the machine readable reason attached to AE and AR outcomes.
type Detail struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Outcome is the result of validating one message. Only the first
// violated rule is reported.
type Outcome struct {
	Code   AckCode `json:"code"`
	Detail *Detail `json:"detail,omitempty"`
}

// Accept returns an AA outcome
func Accept() Outcome {
	return Outcome{Code: AckAccept}
}

// Error returns an AE outcome carrying detail
func Error(code, description string) Outcome {
	return Outcome{Code: AckError, Detail: &Detail{Code: code, Description: description}}
}

// Reject returns an AR outcome carrying detail
func Reject(code, description string) Outcome {
	return Outcome{Code: AckReject, Detail: &Detail{Code: code, Description: description}}
}

// Accepted reports whether the message passed validation.
func (o Outcome) Accepted() bool {
	return o.Code == AckAccept
}

// Result is what a MessageHandler produces for one inbound message.
type Result struct {
	Header  Header
	Outcome Outcome
	Ack     string
}
