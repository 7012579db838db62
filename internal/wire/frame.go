// Package wire implements the length-prefixed framing shared by every
// socket in the relay protocol.
//
// Format: [Len uint32 big-endian][Kind byte][Payload Len bytes]
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Kind is the serialization tag of a frame payload.
type Kind byte

const (
	KindJSON  Kind = 'j'
	KindText  Kind = 'u'
	KindBytes Kind = 'n'
)

// HeaderSize is the length of the frame header in bytes.
const HeaderSize = 5

// MaxPayload bounds a single frame; page content is the largest payload.
const MaxPayload = 64 << 20

var (
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum payload size")
	ErrUnknownKind   = errors.New("wire: unknown serialization kind")
)

func (k Kind) Valid() bool {
	return k == KindJSON || k == KindText || k == KindBytes
}

func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("kind(%#x)", byte(k))
	}
}

// Frame is one discrete message on a socket.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// Validate reports whether f can be put on the wire.
func (f Frame) Validate() error {
	if len(f.Payload) > MaxPayload {
		return ErrFrameTooLarge
	}
	if !f.Kind.Valid() {
		return ErrUnknownKind
	}
	return nil
}

// JSON builds a KindJSON frame from v. Payloads over MaxPayload are
// rejected here rather than at write time.
func JSON(v any) (Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, err
	}
	if len(data) > MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	return Frame{Kind: KindJSON, Payload: data}, nil
}

// Pair builds the [category, payload] frame every sink consumes.
func Pair(category string, payload any) (Frame, error) {
	return JSON([2]any{category, payload})
}

// Encode appends the wire form of f to dst.
func (f Frame) Encode(dst []byte) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return dst, err
	}
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(f.Payload)))
	hdr[4] = byte(f.Kind)
	dst = append(dst, hdr[:]...)
	return append(dst, f.Payload...), nil
}

// WriteFrame writes f to w as a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	buf, err := f.Encode(make([]byte, 0, HeaderSize+len(f.Payload)))
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads the next frame from r. io.EOF is returned only when the
// stream ends cleanly between frames.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("wire: truncated header: %w", err)
		}
		return Frame{}, err
	}

	length := binary.BigEndian.Uint32(hdr[:4])
	if length > MaxPayload {
		return Frame{}, ErrFrameTooLarge
	}
	kind := Kind(hdr[4])
	if !kind.Valid() {
		return Frame{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, fmt.Errorf("wire: truncated payload: %w", err)
	}
	return Frame{Kind: kind, Payload: payload}, nil
}
