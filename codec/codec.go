// Package codec defines the explicit serialization contract used for
// transport frames and structured handler payloads.
//
// Every encoded value travels inside an Envelope that names its schema with a
// type tag, so a reader can reject bytes it does not understand instead of
// guessing at their layout.
package codec

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes and decodes values.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
	Name() string
}

// Encoding names accepted in an envelope.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// JSON is the text codec.
var JSON Codec = jsonCodec{}

// Msgpack is the binary codec.
var Msgpack Codec = msgpackCodec{}

type jsonCodec struct{}

func (jsonCodec) Encode(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Decode(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return EncodingJSON }

type msgpackCodec struct{}

func (msgpackCodec) Encode(v interface{}) ([]byte, error) { return msgpack.Marshal(v) }

func (msgpackCodec) Decode(data []byte, v interface{}) error { return msgpack.Unmarshal(data, v) }

func (msgpackCodec) Name() string { return EncodingMsgpack }

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case EncodingJSON:
		return JSON, nil
	case EncodingMsgpack:
		return Msgpack, nil
	default:
		return nil, ErrUnknownEncoding
	}
}
