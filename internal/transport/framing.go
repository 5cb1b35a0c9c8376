package transport

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
)

// MaxFrameSize bounds a single framed message. A length prefix beyond this
// is treated as a malformed frame rather than an allocation request.
const MaxFrameSize = 16 << 20

// EncodeFrame serializes v as a length-prefixed message: a 4-byte big-endian
// unsigned length followed by the UTF-8 JSON encoding of v.
func EncodeFrame(v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame payload: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("frame payload too large: %d bytes", len(payload))
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	return buf, nil
}

// WriteFrame encodes v and writes the full frame to w.
func WriteFrame(w io.Writer, v interface{}) error {
	buf, err := EncodeFrame(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one framed message from r and decodes its JSON
// payload into v. A peer close before or inside a frame yields ErrPeerClosed;
// a bad length prefix or undecodable payload yields a ProtocolError.
func ReadFrame(r io.Reader, v interface{}) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if isPeerClosed(err) {
			return ErrPeerClosed
		}
		return fmt.Errorf("failed to read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return &ProtocolError{Reason: fmt.Sprintf("frame length %d exceeds limit", length)}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if isPeerClosed(err) {
			return ErrPeerClosed
		}
		return fmt.Errorf("failed to read frame payload: %w", err)
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return &ProtocolError{Reason: "invalid JSON payload", Err: err}
	}
	return nil
}

// isPeerClosed reports whether a read error means the peer went away rather
// than sent garbage.
func isPeerClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
