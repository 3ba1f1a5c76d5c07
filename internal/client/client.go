// Package client sends HL7 messages to an MLLP listener and waits for the
// acknowledgment.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"openhl7/gateway/internal/protocol"
)

// DefaultTimeout bounds a send when ctx has no deadline
const DefaultTimeout = 10 * time.Second

// ErrNoAck is returned when the listener closes without acknowledging
var ErrNoAck = errors.New("connection closed without acknowledgment")

// Client sends one message per connection, as the listener expects
type Client struct {
	Timeout       time.Duration
	MaxFrameBytes int
	dialer        net.Dialer
}

// New creates a client. timeout <= 0 uses DefaultTimeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{Timeout: timeout, MaxFrameBytes: protocol.DefaultMaxFrameBytes}
}

// Send is a shortcut for New(0).Send
func Send(ctx context.Context, addr, message string) (string, error) {
	return New(0).Send(ctx, addr, message)
}

// Send frames message, writes it to addr and returns the decoded
// acknowledgment. Bare "\n" or "\r\n" segment separators are converted
// to "\r".
func (c *Client) Send(ctx context.Context, addr, message string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return "", err
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write(protocol.Encode(normalizeSegments(message))); err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	scanner := protocol.NewMLLPScanner(c.MaxFrameBytes)
	buffer := make([]byte, 4096)
	var pending []byte
	for {
		n, err := conn.Read(buffer)
		if n > 0 {
			pending = append(pending, buffer[:n]...)
			frame, rest, scanErr := scanner.Scan(pending)
			if scanErr != nil {
				return "", fmt.Errorf("failed to read acknowledgment: %w", scanErr)
			}
			if frame != nil {
				return protocol.Decode(frame)
			}
			pending = rest
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", ErrNoAck
			}
			if ctx.Err() != nil {
				return "", fmt.Errorf("failed to read acknowledgment: %w", ctx.Err())
			}
			return "", fmt.Errorf("failed to read acknowledgment: %w", err)
		}
	}
}

func normalizeSegments(message string) string {
	message = strings.ReplaceAll(message, "\r\n", "\r")
	return strings.ReplaceAll(message, "\n", "\r")
}

// AckCode returns the MSA-1 code of an acknowledgment, or "" when the
// MSA segment is missing.
func AckCode(ack string) string {
	for _, segment := range strings.Split(ack, "\r") {
		fields := strings.Split(segment, "|")
		if fields[0] == "MSA" && len(fields) > 1 {
			return fields[1]
		}
	}
	return ""
}
