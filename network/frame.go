// Package network provides length-prefixed framing and TCP primitives used by
// the process transports.
package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// FrameKind identifies the payload carried by a frame
type FrameKind uint16

const (
	FrameHello       FrameKind = 1
	FrameInvoke      FrameKind = 2
	FrameResult      FrameKind = 3
	FramePut         FrameKind = 4
	FrameApplication FrameKind = 5
	FrameError       FrameKind = 6
)

// String returns the string representation of FrameKind
func (k FrameKind) String() string {
	switch k {
	case FrameHello:
		return "hello"
	case FrameInvoke:
		return "invoke"
	case FrameResult:
		return "result"
	case FramePut:
		return "put"
	case FrameApplication:
		return "application"
	case FrameError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

const (
	// FrameVersion is written into every header
	FrameVersion uint16 = 1

	// FrameHeaderSize is the fixed size of the frame header in bytes
	FrameHeaderSize = 24

	// MaxFrameSize is the maximum allowed frame size
	MaxFrameSize = 64 * 1024 * 1024

	// MaxPayloadSize is the maximum allowed payload size
	MaxPayloadSize = MaxFrameSize - FrameHeaderSize
)

// Framing errors
var (
	ErrFrameTooLarge      = errors.New("frame payload too large")
	ErrShortFrame         = errors.New("frame shorter than declared")
	ErrUnsupportedVersion = errors.New("unsupported frame version")
)

// Frame is one unit on the wire: a fixed header followed by the payload.
//
// Header layout (big endian):
//
//	0  kind      uint16
//	2  version   uint16
//	4  sequence  uint64
//	12 timestamp int64 (unix nanoseconds)
//	20 length    uint32
type Frame struct {
	Kind      FrameKind
	Sequence  uint64
	Timestamp time.Time
	Payload   []byte

	// ConnectionID is set on frames read from a connection
	ConnectionID string
}

// NewFrame creates a frame of the given kind stamped with the current time.
func NewFrame(kind FrameKind, payload []byte) *Frame {
	return &Frame{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// Size returns the encoded size of the frame
func (f *Frame) Size() int {
	return FrameHeaderSize + len(f.Payload)
}

// FrameCodec encodes frames into their binary wire form
type FrameCodec struct{}

// NewFrameCodec creates a new frame codec
func NewFrameCodec() *FrameCodec {
	return &FrameCodec{}
}

// Encode encodes a frame, header and payload, into a single slice
func (c *FrameCodec) Encode(f *Frame) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("frame is nil")
	}
	if len(f.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(f.Payload), MaxPayloadSize)
	}

	buf := make([]byte, f.Size())
	c.putHeader(buf, f)
	copy(buf[FrameHeaderSize:], f.Payload)
	return buf, nil
}

// Decode decodes a complete frame from data
func (c *FrameCodec) Decode(data []byte) (*Frame, error) {
	f, length, err := c.DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	if len(data) < FrameHeaderSize+length {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrShortFrame, FrameHeaderSize+length, len(data))
	}
	if length > 0 {
		f.Payload = make([]byte, length)
		copy(f.Payload, data[FrameHeaderSize:FrameHeaderSize+length])
	}
	return f, nil
}

// DecodeHeader decodes the header and returns the declared payload length
func (c *FrameCodec) DecodeHeader(data []byte) (*Frame, int, error) {
	if len(data) < FrameHeaderSize {
		return nil, 0, fmt.Errorf("%w: header needs %d bytes, got %d", ErrShortFrame, FrameHeaderSize, len(data))
	}

	if version := binary.BigEndian.Uint16(data[2:4]); version != FrameVersion {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	length := binary.BigEndian.Uint32(data[20:24])
	if int(length) > MaxPayloadSize {
		return nil, 0, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, MaxPayloadSize)
	}

	f := &Frame{
		Kind:      FrameKind(binary.BigEndian.Uint16(data[0:2])),
		Sequence:  binary.BigEndian.Uint64(data[4:12]),
		Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(data[12:20]))),
	}
	return f, int(length), nil
}

// WriteFrame encodes f and writes it to w
func (c *FrameCodec) WriteFrame(w io.Writer, f *Frame) (int, error) {
	data, err := c.Encode(f)
	if err != nil {
		return 0, err
	}
	return w.Write(data)
}

// ReadFrame reads exactly one frame from r
func (c *FrameCodec) ReadFrame(r io.Reader) (*Frame, int, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, 0, err
	}

	f, length, err := c.DecodeHeader(header)
	if err != nil {
		return nil, FrameHeaderSize, err
	}

	if length > 0 {
		f.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, FrameHeaderSize, fmt.Errorf("failed to read frame payload: %w", err)
		}
	}
	return f, FrameHeaderSize + length, nil
}

func (c *FrameCodec) putHeader(buf []byte, f *Frame) {
	binary.BigEndian.PutUint16(buf[0:2], uint16(f.Kind))
	binary.BigEndian.PutUint16(buf[2:4], FrameVersion)
	binary.BigEndian.PutUint64(buf[4:12], f.Sequence)
	binary.BigEndian.PutUint64(buf[12:20], uint64(f.Timestamp.UnixNano()))
	binary.BigEndian.PutUint32(buf[20:24], uint32(len(f.Payload)))
}
