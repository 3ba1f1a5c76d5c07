// MLLP (Minimal Lower Layer Protocol) framing
// <VT> message <FS><CR>

package protocol

import (
	"bytes"
	"errors"
	"unicode/utf8"
)

const (
	StartBlock     byte = 0x0B
	EndBlock       byte = 0x1C
	CarriageReturn byte = 0x0D

	// DefaultMaxFrameBytes bounds a single buffered frame.
	DefaultMaxFrameBytes = 1 << 20
)

var (
	ErrInvalidFraming  = errors.New("mllp: invalid framing")
	ErrInvalidEncoding = errors.New("mllp: message is not valid utf-8")
	ErrFrameTooLarge   = errors.New("mllp: frame exceeds size limit")
)

var frameTrailer = []byte{EndBlock, CarriageReturn}

// Encode wraps message in MLLP start and end blocks.
func Encode(message string) []byte {
	frame := make([]byte, 0, len(message)+3)
	frame = append(frame, StartBlock)
	frame = append(frame, message...)
	frame = append(frame, frameTrailer...)
	return frame
}

// Decode strips the MLLP envelope from a complete frame and returns the
// enclosed message text.
func Decode(frame []byte) (string, error) {
	payload, err := Unwrap(frame)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(payload) {
		return "", ErrInvalidEncoding
	}
	return string(payload), nil
}

// Unwrap returns the bytes between the start block and the trailer
// without checking their encoding.
func Unwrap(frame []byte) ([]byte, error) {
	if len(frame) < 3 || frame[0] != StartBlock || !bytes.HasSuffix(frame, frameTrailer) {
		return nil, ErrInvalidFraming
	}
	return frame[1 : len(frame)-len(frameTrailer)], nil
}

// MLLPScanner finds frame boundaries in a TCP byte stream.
type MLLPScanner struct {
	// MaxFrameBytes caps an unterminated frame; zero means DefaultMaxFrameBytes.
	MaxFrameBytes int
}

// NewMLLPScanner creates a scanner with the given frame limit
func NewMLLPScanner(maxFrameBytes int) *MLLPScanner {
	return &MLLPScanner{MaxFrameBytes: maxFrameBytes}
}

// Scan implements PacketScanner.
//
// Bytes ahead of the first start block are dropped. When no complete
// frame is buffered yet, the returned frame is nil and rest holds the
// partial frame so the caller can append the next read to it.
func (s *MLLPScanner) Scan(buffer []byte) ([]byte, []byte, error) {
	startIdx := bytes.IndexByte(buffer, StartBlock)
	if startIdx == -1 {
		return nil, nil, nil
	}
	data := buffer[startIdx:]

	endIdx := bytes.Index(data[1:], frameTrailer)
	if endIdx == -1 {
		if len(data) > s.limit() {
			return nil, data, ErrFrameTooLarge
		}
		return nil, data, nil
	}

	frameLen := 1 + endIdx + len(frameTrailer)
	if frameLen > s.limit() {
		return nil, data[frameLen:], ErrFrameTooLarge
	}
	return data[:frameLen], data[frameLen:], nil
}

func (s *MLLPScanner) limit() int {
	if s.MaxFrameBytes <= 0 {
		return DefaultMaxFrameBytes
	}
	return s.MaxFrameBytes
}
