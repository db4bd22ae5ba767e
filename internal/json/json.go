// SPDX-License-Identifier: Apache-2.0

package json

import (
	stdjson "encoding/json"
	"io"

	"github.com/bytedance/sonic"
)

// api sorts map keys so that encoded documents and configs are stable, which
// the registry relies on when hashing engine configuration.
var api = sonic.ConfigStd

type (
	Encoder    = sonic.Encoder
	Decoder    = sonic.Decoder
	RawMessage = stdjson.RawMessage
)

func Unmarshal(b []byte, v any) error {
	return api.Unmarshal(b, v)
}

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

func Valid(b []byte) bool {
	return api.Valid(b)
}

func NewEncoder(w io.Writer) Encoder {
	return api.NewEncoder(w)
}

// NewDecoder returns a decoder that keeps numbers as json.Number so that
// large document IDs survive the round trip.
func NewDecoder(r io.Reader) Decoder {
	dec := api.NewDecoder(r)
	dec.UseNumber()
	return dec
}

// Convert re-encodes src into dst. It is used to move SDK response structs into
// local types without depending on the exact field layout of the SDK.
func Convert(src, dst any) error {
	b, err := Marshal(src)
	if err != nil {
		return err
	}
	return Unmarshal(b, dst)
}
