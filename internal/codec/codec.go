// Package codec implements the worker wire format.
//
// A frame is either a WebSocket text message holding a JSON object, or a
// WebSocket binary message laid out as
//
//	[uint32 big-endian header length][UTF-8 JSON header][payload bytes]
//
// The WebSocket message type is the only thing telling the two apart; the
// codec never adds a type tag of its own.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// PrefixLen is the size of the binary frame length prefix
const PrefixLen = 4

const snippetLen = 64

var (
	ErrShortFrame     = errors.New("codec: binary frame shorter than length prefix")
	ErrHeaderOverrun  = errors.New("codec: header length exceeds frame")
	ErrInvalidUTF8    = errors.New("codec: header is not valid UTF-8")
	ErrNotObject      = errors.New("codec: header is not a JSON object")
	ErrTrailingData   = errors.New("codec: data after header object")
	ErrHeaderTooLarge = errors.New("codec: header too large for length prefix")
)

// Frame is one physical WebSocket message
type Frame struct {
	Binary bool
	Data   []byte
}

// Message is a decoded frame. Payload is nil when the frame had none.
type Message struct {
	Header  map[string]any
	Payload []byte
}

// DecodeError reports a frame that could not be decoded. It carries enough
// of the offending bytes to make a log line useful.
type DecodeError struct {
	Binary  bool
	Size    int
	Snippet []byte
	Err     error
}

func (e *DecodeError) Error() string {
	kind := "text"
	if e.Binary {
		kind = "binary"
	}
	return fmt.Sprintf("decode %s frame (%d bytes, starts %q): %v", kind, e.Size, e.Snippet, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes header and, when payload is non-empty, produces a
// length-prefixed binary frame. Otherwise the frame is the JSON text alone.
func Encode(header any, payload []byte) (Frame, error) {
	h, err := json.Marshal(header)
	if err != nil {
		return Frame{}, fmt.Errorf("codec: marshal header: %w", err)
	}
	if len(payload) == 0 {
		return Frame{Data: h}, nil
	}
	if uint64(len(h)) > math.MaxUint32 {
		return Frame{}, ErrHeaderTooLarge
	}

	buf := make([]byte, PrefixLen+len(h)+len(payload))
	binary.BigEndian.PutUint32(buf[:PrefixLen], uint32(len(h)))
	copy(buf[PrefixLen:], h)
	copy(buf[PrefixLen+len(h):], payload)
	return Frame{Binary: true, Data: buf}, nil
}

// Decode decodes a frame received from the transport
func Decode(f Frame) (Message, error) {
	return DecodeBytes(f.Data, f.Binary)
}

// DecodeBytes decodes data according to the transport's frame type
func DecodeBytes(data []byte, binaryFrame bool) (Message, error) {
	fail := func(err error) (Message, error) {
		n := min(len(data), snippetLen)
		return Message{}, &DecodeError{
			Binary:  binaryFrame,
			Size:    len(data),
			Snippet: bytes.Clone(data[:n]),
			Err:     err,
		}
	}

	if !binaryFrame {
		header, err := parseHeader(data)
		if err != nil {
			return fail(err)
		}
		return Message{Header: header}, nil
	}

	if len(data) < PrefixLen {
		return fail(ErrShortFrame)
	}
	l := uint64(binary.BigEndian.Uint32(data[:PrefixLen]))
	end := PrefixLen + l
	if end > uint64(len(data)) {
		return fail(fmt.Errorf("%w: declared %d, have %d", ErrHeaderOverrun, l, len(data)-PrefixLen))
	}

	var header map[string]any
	if l == 0 {
		header = map[string]any{}
	} else {
		var err error
		if header, err = parseHeader(data[PrefixLen:end]); err != nil {
			return fail(err)
		}
	}

	msg := Message{Header: header}
	if uint64(len(data)) > end {
		msg.Payload = bytes.Clone(data[end:])
	}
	return msg, nil
}

func parseHeader(b []byte) (map[string]any, error) {
	if !utf8.Valid(b) {
		return nil, ErrInvalidUTF8
	}
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	// numbers stay json.Number so integers beyond 2^53 survive a round trip
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var header map[string]any
	if err := dec.Decode(&header); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, ErrTrailingData
	}
	return header, nil
}
