// Package serde encodes shim commands and decodes shim replies and indications.
package serde

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/ugorji/go/codec"
)

// jsonCodec holds a reusable encoder and decoder over one JSON handle.
type jsonCodec struct {
	handle codec.JsonHandle

	enc *codec.Encoder
	dec *codec.Decoder
	buf []byte

	mu sync.Mutex
}

var shared = newJsonCodec()

func newJsonCodec() *jsonCodec {
	c := &jsonCodec{buf: make([]byte, 0, 4096)}
	c.handle.TypeInfos = codec.NewTypeInfos([]string{"json"})
	c.enc = codec.NewEncoderBytes(&c.buf, &c.handle)
	c.dec = codec.NewDecoderBytes(nil, &c.handle)

	return c
}

// MarshalJson marshals a value of a specific type to UTF-8 bytes.
// The returned slice is owned by the caller.
func MarshalJson[T any](v T) ([]byte, error) {
	shared.mu.Lock()
	defer shared.mu.Unlock()

	shared.enc.ResetBytes(&shared.buf)
	if err := shared.enc.Encode(v); err != nil {
		return nil, err
	}

	return bytes.Clone(shared.buf), nil
}

// UnmarshalJson unmarshals the provided JSON as bytes to the value of a specific type.
func UnmarshalJson[T any](data []byte, marshalTo T) error {
	shared.mu.Lock()
	defer shared.mu.Unlock()

	shared.dec.ResetBytes(data)

	return shared.dec.Decode(marshalTo)
}

// UnmarshalTuple decodes a JSON array positionally into fields, which must be pointers.
// Fields past the end of the array are left untouched, and extra elements are ignored.
// It returns the number of elements in the array.
func UnmarshalTuple(data []byte, fields ...any) (int, error) {
	shared.mu.Lock()
	defer shared.mu.Unlock()

	var tuple []codec.Raw

	shared.dec.ResetBytes(data)
	if err := shared.dec.Decode(&tuple); err != nil {
		return 0, err
	}

	for i, raw := range tuple {
		if i >= len(fields) {
			break
		}

		shared.dec.ResetBytes(raw)
		if err := shared.dec.Decode(fields[i]); err != nil {
			return len(tuple), fmt.Errorf("element %d: %w", i, err)
		}
	}

	return len(tuple), nil
}
