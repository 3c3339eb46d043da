package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/constellation-io/constellation/pkg/frame"
)

// Wire framing: an 8-byte header (magic, version, reserved, payload
// length) followed by the frame's JSON encoding.
const (
	magicNumber   uint16 = 0xC57E
	wireVersion   byte   = 1
	headerSize           = 8
	maxPayloadLen uint32 = 64 << 20
)

// ReadFrame reads one length-prefixed frame from r
func ReadFrame(r io.Reader) (*frame.Frame, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	magic := binary.BigEndian.Uint16(header[0:2])
	if magic != magicNumber {
		return nil, fmt.Errorf("invalid magic number: %#x", magic)
	}
	if version := header[2]; version != wireVersion {
		return nil, fmt.Errorf("unsupported wire version: %d", version)
	}

	payloadLen := binary.BigEndian.Uint32(header[4:8])
	if payloadLen > maxPayloadLen {
		return nil, fmt.Errorf("frame payload %d exceeds limit", payloadLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return frame.Decode(payload)
}

// WriteFrame writes one length-prefixed frame to w
func WriteFrame(w io.Writer, f *frame.Frame) error {
	payload, err := frame.Encode(f)
	if err != nil {
		return err
	}
	if uint32(len(payload)) > maxPayloadLen {
		return fmt.Errorf("frame payload %d exceeds limit", len(payload))
	}

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint16(header[0:2], magicNumber)
	header[2] = wireVersion
	header[3] = 0 // Reserved
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	return nil
}
