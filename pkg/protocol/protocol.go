// Package protocol defines the relay wire format: length-prefixed frames
// carrying one JSON message each.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// FrameHeaderSize is the byte size of the length prefix.
	FrameHeaderSize = 4

	// MaxFrameSize is the maximum payload size accepted on either
	// direction of the wire (1 MiB).
	MaxFrameSize = 1 << 20
)

var (
	// ErrFrameTooLarge is returned when a frame's declared or actual
	// payload length exceeds the configured maximum.
	ErrFrameTooLarge = errors.New("protocol: frame too large")

	// ErrMalformedPayload is returned when a frame body is not a valid
	// JSON message object.
	ErrMalformedPayload = errors.New("protocol: malformed payload")
)

// WriteFrame writes a length-prefixed frame to w.
// Format: [4-byte big-endian length][payload]
func WriteFrame(w io.Writer, payload []byte, max int) error {
	if max <= 0 {
		max = MaxFrameSize
	}
	if len(payload) > max {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(payload), max)
	}

	header := make([]byte, FrameHeaderSize)
	binary.BigEndian.PutUint32(header, uint32(len(payload))) //nolint:gosec // length bounds-checked above
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("protocol: write length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("protocol: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r. The read is two-phase:
// first exactly 4 header bytes, then exactly N payload bytes. On a blocking
// reader this resumes transparently across short reads; nothing beyond the
// frame is consumed. A declared length over max fails before any payload
// allocation.
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	if max <= 0 {
		max = MaxFrameSize
	}

	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("protocol: read length: %w", err)
	}
	length := binary.BigEndian.Uint32(header)
	if int64(length) > int64(max) {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, max)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("protocol: read payload: %w", err)
	}
	return payload, nil
}

// WriteMessage marshals env and writes it as one frame.
func WriteMessage(w io.Writer, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("protocol: marshal: %w", err)
	}
	return WriteFrame(w, data, MaxFrameSize)
}

// ReadMessage reads one frame and unmarshals it into an Envelope.
func ReadMessage(r io.Reader) (*Envelope, error) {
	return ReadMessageLimit(r, MaxFrameSize)
}

// ReadMessageLimit is ReadMessage with an explicit frame size cap.
func ReadMessageLimit(r io.Reader, max int) (*Envelope, error) {
	payload, err := ReadFrame(r, max)
	if err != nil {
		return nil, err
	}
	env := &Envelope{}
	if err := json.Unmarshal(payload, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return env, nil
}
