// Package nativemsg implements Chrome Native Messaging protocol I/O.
// Messages are length-prefixed JSON: 4 bytes little-endian length, then JSON payload.
package nativemsg

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxMessageSize is the largest message Chrome accepts from a native host (1MB).
const MaxMessageSize = 1024 * 1024

// ErrTooLarge is returned for messages over MaxMessageSize.
var ErrTooLarge = errors.New("nativemsg: message too large")

// Read reads a single Native Messaging message from the reader.
// It returns io.EOF unwrapped when the stream ends between messages.
func Read(r io.Reader) (json.RawMessage, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}

	if length == 0 {
		return nil, fmt.Errorf("invalid message length: 0")
	}
	if length > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, length, MaxMessageSize)
	}

	msg := make([]byte, length)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, fmt.Errorf("failed to read message payload: %w", err)
	}
	return json.RawMessage(msg), nil
}

// Write writes a single Native Messaging message to the writer.
func Write(w io.Writer, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), MaxMessageSize)
	}

	frame := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
