package protocol

// PacketScanner handles packet boundary detection from TCP stream
type PacketScanner interface {
	// Scan extracts complete packet from buffer
	// completePacket: the extracted packet including its framing
	// restBuffer: remaining unprocessed bytes
	Scan(buffer []byte) (completePacket []byte, restBuffer []byte, err error)
}

// MessageHandler validates a decoded message and builds its acknowledgment
type MessageHandler interface {
	// Handle validates message and builds the reply. It returns an error
	// only when no acknowledgment can be addressed (no header segment);
	// the returned Result still carries the outcome in that case.
	Handle(message string) (*Result, error)

	// Reject builds an AR acknowledgment for a frame that failed below
	// the validation layer (framing, encoding, size); cause is the
	// failure. message is whatever text could be salvaged from the frame.
	Reject(message string, cause error) (string, error)

	// Protocol returns protocol identifier
	Protocol() string
}
