// Package hexcodec implements the compact hexadecimal text encoding used for
// every integer and byte string on the payment RPC wire. Integers are written
// as "0x" followed by the minimal lowercase hex digits of their value, byte
// strings as "0x" followed by two lowercase hex digits per byte. Encoding
// through text rather than JSON numbers keeps 64 and 128-bit values exact.
package hexcodec

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"lukechampine.com/uint128"
)

// Prefix is the mandatory prefix of every encoded value.
const Prefix = "0x"

var (
	// ErrMalformedEncoding is the class of every decode failure in this
	// package. Match with errors.Is.
	ErrMalformedEncoding = errors.New("malformed encoding")

	errMissingPrefix = errors.New("missing 0x prefix")
	errEmptyNumber   = errors.New("no digits after 0x prefix")
	errOddLength     = errors.New("odd length hex payload")
	errInvalidDigit  = errors.New("invalid hex digit")
	errOutOfRange    = errors.New("value out of range")
	errNotString     = errors.New("expected a JSON string")
)

// MalformedEncodingError describes a value that could not be decoded.
type MalformedEncodingError struct {
	// Input is the text that was rejected.
	Input string

	// Kind names the target of the decode, for example "u64" or "bytes".
	Kind string

	// Reason is the specific cause.
	Reason error
}

// Error returns a description of the rejected input.
func (e *MalformedEncodingError) Error() string {
	return fmt.Sprintf("malformed %v %q: %v", e.Kind, e.Input, e.Reason)
}

// Unwrap exposes the specific cause.
func (e *MalformedEncodingError) Unwrap() error {
	return e.Reason
}

// Is reports every MalformedEncodingError as ErrMalformedEncoding.
func (e *MalformedEncodingError) Is(target error) bool {
	return target == ErrMalformedEncoding
}

func malformed(input, kind string, reason error) error {
	return &MalformedEncodingError{
		Input:  input,
		Kind:   kind,
		Reason: reason,
	}
}

// EncodeU32 returns the canonical encoding of a 32-bit value.
func EncodeU32(v uint32) string {
	return EncodeU64(uint64(v))
}

// EncodeU64 returns the canonical encoding of a 64-bit value.
func EncodeU64(v uint64) string {
	return Prefix + strconv.FormatUint(v, 16)
}

// EncodeU128 returns the canonical encoding of a 128-bit value.
func EncodeU128(v uint128.Uint128) string {
	if v.Hi == 0 {
		return EncodeU64(v.Lo)
	}

	return fmt.Sprintf("%s%x%016x", Prefix, v.Hi, v.Lo)
}

// EncodeBytes returns the canonical encoding of a byte string. The empty
// string encodes as the bare prefix.
func EncodeBytes(b []byte) string {
	return Prefix + hex.EncodeToString(b)
}

// numberDigits strips the prefix of an encoded integer and checks the digits
// are hex. Leading zeros are accepted.
func numberDigits(s, kind string) (string, error) {
	if !strings.HasPrefix(s, Prefix) {
		return "", malformed(s, kind, errMissingPrefix)
	}

	digits := s[len(Prefix):]
	if len(digits) == 0 {
		return "", malformed(s, kind, errEmptyNumber)
	}

	for i := 0; i < len(digits); i++ {
		if !isHexDigit(digits[i]) {
			return "", malformed(s, kind, errInvalidDigit)
		}
	}

	return strings.TrimLeft(digits, "0"), nil
}

func isHexDigit(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'a' && c <= 'f':
		return true
	case c >= 'A' && c <= 'F':
		return true
	}

	return false
}

// DecodeU32 parses an encoded 32-bit value.
func DecodeU32(s string) (uint32, error) {
	v, err := decodeUint(s, "u32", 32)
	if err != nil {
		return 0, err
	}

	return uint32(v), nil
}

// DecodeU64 parses an encoded 64-bit value.
func DecodeU64(s string) (uint64, error) {
	return decodeUint(s, "u64", 64)
}

func decodeUint(s, kind string, bits int) (uint64, error) {
	digits, err := numberDigits(s, kind)
	if err != nil {
		return 0, err
	}

	if digits == "" {
		return 0, nil
	}

	v, err := strconv.ParseUint(digits, 16, bits)
	if err != nil {
		return 0, malformed(s, kind, errOutOfRange)
	}

	return v, nil
}

// DecodeU128 parses an encoded 128-bit value.
func DecodeU128(s string) (uint128.Uint128, error) {
	digits, err := numberDigits(s, "u128")
	if err != nil {
		return uint128.Zero, err
	}

	if len(digits) > 32 {
		return uint128.Zero, malformed(s, "u128", errOutOfRange)
	}

	var hi, lo uint64
	if len(digits) > 16 {
		split := len(digits) - 16
		hi, err = strconv.ParseUint(digits[:split], 16, 64)
		if err != nil {
			return uint128.Zero, malformed(s, "u128", err)
		}
		digits = digits[split:]
	}

	if digits != "" {
		lo, err = strconv.ParseUint(digits, 16, 64)
		if err != nil {
			return uint128.Zero, malformed(s, "u128", err)
		}
	}

	return uint128.New(lo, hi), nil
}

// DecodeBytes parses an encoded byte string.
func DecodeBytes(s string) ([]byte, error) {
	if !strings.HasPrefix(s, Prefix) {
		return nil, malformed(s, "bytes", errMissingPrefix)
	}

	payload := s[len(Prefix):]
	if len(payload)%2 != 0 {
		return nil, malformed(s, "bytes", errOddLength)
	}

	b, err := hex.DecodeString(payload)
	if err != nil {
		return nil, malformed(s, "bytes", errInvalidDigit)
	}

	return b, nil
}

// DecodeFixed parses an encoded byte string that must be exactly size bytes
// long.
func DecodeFixed(s string, size int) ([]byte, error) {
	b, err := DecodeBytes(s)
	if err != nil {
		return nil, err
	}

	if len(b) != size {
		return nil, malformed(s, fmt.Sprintf("bytes%d", size),
			fmt.Errorf("expected %d bytes, got %d", size, len(b)))
	}

	return b, nil
}
