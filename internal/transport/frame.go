// Package transport implements the framed binary connection protocol:
// length-prefixed messages secured end-to-end by a Noise_XX session after
// an initial unencrypted handshake exchange.
package transport

import (
	"encoding/binary"
	"io"

	"github.com/zincnote/zincsync/internal/types"
	"github.com/zincnote/zincsync/internal/zerrors"
)

// Magic bytes identifying a zincsync frame: 'Z', 'N'.
var Magic = [2]byte{0x5A, 0x4E}

// ProtocolVersion is the current wire version byte.
const ProtocolVersion byte = 1

// MaxPayloadSize bounds a single frame's payload to 16 MiB, preventing a
// misbehaving or malicious peer from driving unbounded memory allocation.
const MaxPayloadSize = 16 * 1024 * 1024

// WriteFrame writes a single frame: magic, version, type, 4-byte
// big-endian length, payload.
func WriteFrame(w io.Writer, msgType types.MessageType, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return zerrors.New(zerrors.ProtocolError, "payload exceeds maximum frame size")
	}
	header := make([]byte, 2+1+1+4)
	header[0], header[1] = Magic[0], Magic[1]
	header[2] = ProtocolVersion
	header[3] = byte(msgType)
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return zerrors.Wrap(zerrors.IoError, "write frame header", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return zerrors.Wrap(zerrors.IoError, "write frame payload", err)
		}
	}
	return nil
}

// ReadFrame reads and validates a single frame.
func ReadFrame(r io.Reader) (types.MessageType, []byte, error) {
	header := make([]byte, 2+1+1+4)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, zerrors.Wrap(zerrors.IoError, "read frame header", err)
	}
	if header[0] != Magic[0] || header[1] != Magic[1] {
		return 0, nil, zerrors.New(zerrors.ProtocolError, "bad frame magic")
	}
	if header[2] != ProtocolVersion {
		return 0, nil, zerrors.New(zerrors.ProtocolError, "unsupported protocol version")
	}
	msgType := types.MessageType(header[3])
	length := binary.BigEndian.Uint32(header[4:])
	if length > MaxPayloadSize {
		return 0, nil, zerrors.New(zerrors.ProtocolError, "frame payload too large")
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, zerrors.Wrap(zerrors.IoError, "read frame payload", err)
		}
	}
	return msgType, payload, nil
}
