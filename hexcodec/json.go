package hexcodec

import (
	"bytes"
	"encoding/json"

	"lukechampine.com/uint128"
)

// U32 is a uint32 that marshals to and from its hex text encoding.
type U32 uint32

// MarshalJSON implements json.Marshaler.
func (v U32) MarshalJSON() ([]byte, error) {
	return json.Marshal(EncodeU32(uint32(v)))
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *U32) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}

	s, err := unquote(data, "u32")
	if err != nil {
		return err
	}

	n, err := DecodeU32(s)
	if err != nil {
		return err
	}
	*v = U32(n)

	return nil
}

// U64 is a uint64 that marshals to and from its hex text encoding.
type U64 uint64

// MarshalJSON implements json.Marshaler.
func (v U64) MarshalJSON() ([]byte, error) {
	return json.Marshal(EncodeU64(uint64(v)))
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *U64) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}

	s, err := unquote(data, "u64")
	if err != nil {
		return err
	}

	n, err := DecodeU64(s)
	if err != nil {
		return err
	}
	*v = U64(n)

	return nil
}

// U128 is a 128-bit unsigned integer that marshals to and from its hex text
// encoding.
type U128 struct {
	uint128.Uint128
}

// NewU128 wraps a uint128 value.
func NewU128(v uint128.Uint128) U128 {
	return U128{Uint128: v}
}

// U128From64 wraps a 64-bit value.
func U128From64(v uint64) U128 {
	return U128{Uint128: uint128.From64(v)}
}

// MarshalJSON implements json.Marshaler.
func (v U128) MarshalJSON() ([]byte, error) {
	return json.Marshal(EncodeU128(v.Uint128))
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *U128) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}

	s, err := unquote(data, "u128")
	if err != nil {
		return err
	}

	n, err := DecodeU128(s)
	if err != nil {
		return err
	}
	v.Uint128 = n

	return nil
}

// Bytes is a byte string that marshals to and from its hex text encoding.
// Unlike []byte it never falls back to base64, and an empty value encodes as
// "0x" rather than null.
type Bytes []byte

// MarshalJSON implements json.Marshaler.
func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(EncodeBytes(b))
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}

	s, err := unquote(data, "bytes")
	if err != nil {
		return err
	}

	decoded, err := DecodeBytes(s)
	if err != nil {
		return err
	}
	*b = decoded

	return nil
}

// unquote extracts the JSON string an encoded value must be carried in.
// Native JSON numbers are rejected: they cannot carry 64 and 128-bit values
// exactly.
func unquote(data []byte, kind string) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", malformed(string(data), kind, errNotString)
	}

	return s, nil
}

// isNull reports whether data is the JSON null literal, which by convention
// leaves the target untouched.
func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}
