package codec

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrTypeMismatch       = errors.New("envelope type mismatch")
	ErrUnknownEncoding    = errors.New("unknown envelope encoding")
	ErrUnknownCompression = errors.New("unknown envelope compression")
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
	ErrMalformedEnvelope  = errors.New("malformed envelope")
)

// EnvelopeVersion is the only envelope layout this package writes.
const EnvelopeVersion = 1

// CompressionType names a body compression algorithm.
type CompressionType string

const (
	CompressionNone CompressionType = ""
	CompressionZstd CompressionType = "zstd"
)

// Envelope wraps an encoded body with the tag of the schema it follows.
type Envelope struct {
	Type        string          `msgpack:"t" json:"type"`
	Version     int             `msgpack:"v" json:"version"`
	Encoding    string          `msgpack:"e" json:"encoding"`
	Compression CompressionType `msgpack:"c,omitempty" json:"compression,omitempty"`
	Body        []byte          `msgpack:"b" json:"body"`
}

type options struct {
	compression CompressionType
}

// Option adjusts how Marshal builds an envelope.
type Option func(*options)

// WithCompression compresses the envelope body.
func WithCompression(c CompressionType) Option {
	return func(o *options) { o.compression = c }
}

// Marshal encodes v with c and wraps it in an envelope tagged typeTag.
func Marshal(c Codec, typeTag string, v interface{}, opts ...Option) ([]byte, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	body, err := c.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", typeTag, err)
	}

	body, err = compress(o.compression, body)
	if err != nil {
		return nil, fmt.Errorf("compress %s body: %w", typeTag, err)
	}

	env := Envelope{
		Type:        typeTag,
		Version:     EnvelopeVersion,
		Encoding:    c.Name(),
		Compression: o.compression,
		Body:        body,
	}
	return msgpack.Marshal(&env)
}

// Open decodes the envelope without decoding its body.
func Open(data []byte) (*Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Version != EnvelopeVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	return &env, nil
}

// Unmarshal opens data, checks its type tag against expected and decodes the body into v.
// An empty expected tag accepts any type.
func Unmarshal(data []byte, expected string, v interface{}) error {
	env, err := Open(data)
	if err != nil {
		return err
	}
	if expected != "" && env.Type != expected {
		return fmt.Errorf("%w: want %q, got %q", ErrTypeMismatch, expected, env.Type)
	}
	return env.Decode(v)
}

// Decode decodes the envelope body into v.
func (e *Envelope) Decode(v interface{}) error {
	c, err := ByName(e.Encoding)
	if err != nil {
		return fmt.Errorf("%w: %q", err, e.Encoding)
	}
	body, err := decompress(e.Compression, e.Body)
	if err != nil {
		return fmt.Errorf("decompress %s body: %w", e.Type, err)
	}
	if err := c.Decode(body, v); err != nil {
		return fmt.Errorf("decode %s body: %w", e.Type, err)
	}
	return nil
}

func compress(c CompressionType, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		encoder, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer encoder.Close()
		return encoder.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, c)
	}
}

func decompress(c CompressionType, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer decoder.Close()
		return decoder.DecodeAll(data, nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, c)
	}
}
