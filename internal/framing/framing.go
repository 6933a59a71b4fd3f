// Package framing implements the length-prefixed message boundary on top of
// a stream connection: spec §4.1. It is the worker's analogue of the
// teacher's v3/mux/frame.go WriteFrame/ReadFrame pair, simplified from the
// teacher's HTTP/2-style 9-byte header (length+type+flags+stream-id) down
// to the spec's flat 4-byte little-endian length prefix, since the
// protocol carries only one logical stream per connection (no
// multiplexing, no frame types at this layer — the envelope's own
// msg_type fills that role one layer up).
package framing

import (
	"encoding/binary"
	"io"

	"github.com/rotisserie/eris"
)

// DefaultMaxFrameBytes is the default refusal threshold for an incoming
// message (spec §4.1).
const DefaultMaxFrameBytes = 50 * 1024 * 1024

// ErrFrameTooLarge is returned by ReadMessage when a declared length
// exceeds maxFrameBytes.
var ErrFrameTooLarge = eris.New("framing: message length exceeds max_frame_bytes")

// ErrZeroLength is returned by ReadMessage when a declared length is zero.
var ErrZeroLength = eris.New("framing: zero-length message")

// ReadMessage reads one length-prefixed message from r. A clean EOF at a
// message boundary (no bytes of a new header read yet) returns io.EOF so
// callers can distinguish "peer hung up between messages" from a genuine
// framing error, per spec §4.1: "partial reads at end-of-stream terminate
// the connection cleanly".
func ReadMessage(r io.Reader, maxFrameBytes uint32) ([]byte, error) {
	if maxFrameBytes == 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			// Died mid-header: still a clean boundary from the caller's
			// point of view, not a corrupt frame.
			return nil, io.EOF
		}
		return nil, err
	}

	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length == 0 {
		return nil, ErrZeroLength
	}
	if length > maxFrameBytes {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, eris.Wrap(err, "framing: read payload")
	}
	return payload, nil
}

// WriteMessage writes payload as one length-prefixed message.
func WriteMessage(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrZeroLength
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return eris.Wrap(err, "framing: write length prefix")
	}
	if _, err := w.Write(payload); err != nil {
		return eris.Wrap(err, "framing: write payload")
	}
	return nil
}
