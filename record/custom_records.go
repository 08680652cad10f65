package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/lightningnetwork/lnd/tlv"
	"github.com/tlcpay/paygate/hexcodec"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	// UserRecordsMaxKey is the highest record key that callers may set.
	// Keys above it are reserved for the routing subsystem, which may add
	// them to the records echoed back in a payment result.
	UserRecordsMaxKey = 65535

	// MaxCustomRecordsSize is the upper bound on the serialized size of a
	// set of custom records, counting four bytes per key plus the value.
	MaxCustomRecordsSize = 2 * 1024
)

// ErrInvalidCustomRecords is returned by Validate.
var ErrInvalidCustomRecords = errors.New("invalid custom records")

// CustomRecords is an extension container carried alongside a payment. The
// gateway never interprets the values, it only transports them between the
// caller and the routing subsystem.
type CustomRecords map[uint32][]byte

// Keys returns the record keys in ascending order. Every encoding of the map
// walks the keys in this order so that output is deterministic.
func (c CustomRecords) Keys() []uint32 {
	keys := maps.Keys(c)
	slices.Sort(keys)

	return keys
}

// Copy returns a deep copy of the records.
func (c CustomRecords) Copy() CustomRecords {
	if c == nil {
		return nil
	}

	cp := make(CustomRecords, len(c))
	for k, v := range c {
		cp[k] = append([]byte(nil), v...)
	}

	return cp
}

// Size returns the serialized size used for the MaxCustomRecordsSize limit.
func (c CustomRecords) Size() int {
	var size int
	for _, v := range c {
		size += 4 + len(v)
	}

	return size
}

// Validate checks that all custom records are in the user key range and that
// the set fits in the size limit. It is applied by processors on records
// submitted by callers, records returned to callers are not restricted.
func (c CustomRecords) Validate() error {
	for key := range c {
		if key > UserRecordsMaxKey {
			return fmt.Errorf("%w: key %v above user range "+
				"maximum %v", ErrInvalidCustomRecords, key,
				UserRecordsMaxKey)
		}
	}

	if size := c.Size(); size > MaxCustomRecordsSize {
		return fmt.Errorf("%w: size %v exceeds maximum %v",
			ErrInvalidCustomRecords, size, MaxCustomRecordsSize)
	}

	return nil
}

// MarshalJSON encodes the records as a flat object mapping hex encoded keys
// to hex encoded values, with keys in ascending numeric order.
func (c CustomRecords) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}

	var b bytes.Buffer
	b.WriteByte('{')
	for i, key := range c.Keys() {
		if i > 0 {
			b.WriteByte(',')
		}

		fmt.Fprintf(&b, "%q:%q", hexcodec.EncodeU32(key),
			hexcodec.EncodeBytes(c[key]))
	}
	b.WriteByte('}')

	return b.Bytes(), nil
}

// UnmarshalJSON decodes the flat object produced by MarshalJSON. Keys that
// are not valid 32-bit encodings and values that are not valid byte string
// encodings fail with hexcodec.ErrMalformedEncoding.
func (c *CustomRecords) UnmarshalJSON(data []byte) error {
	var raw map[string]hexcodec.Bytes
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw == nil {
		*c = nil
		return nil
	}

	records := make(CustomRecords, len(raw))
	for encodedKey, value := range raw {
		key, err := hexcodec.DecodeU32(encodedKey)
		if err != nil {
			return err
		}

		// Two spellings of the same key, such as "0x1" and "0x01",
		// would silently overwrite each other.
		if _, ok := records[key]; ok {
			return fmt.Errorf("duplicate custom record key %v: %w",
				encodedKey, hexcodec.ErrMalformedEncoding)
		}

		records[key] = []byte(value)
	}

	*c = records

	return nil
}

// EncodeTLV writes the records as a TLV stream, the form in which they travel
// inside payment payloads.
func (c CustomRecords) EncodeTLV(w io.Writer) error {
	tlvMap := make(map[uint64][]byte, len(c))
	for k, v := range c {
		tlvMap[uint64(k)] = v
	}

	stream, err := tlv.NewStream(tlv.MapToRecords(tlvMap)...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// DecodeTLV reads a TLV stream written by EncodeTLV.
func DecodeTLV(r io.Reader) (CustomRecords, error) {
	stream, err := tlv.NewStream()
	if err != nil {
		return nil, err
	}

	parsedTypes, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return nil, err
	}

	return NewCustomRecords(parsedTypes)
}

// NewCustomRecords converts the types parsed from a tlv stream that had no
// known records into custom records. A zero length value is parsed as nil
// and is kept as an empty record. Types that do not fit in 32 bits cannot be
// custom records.
func NewCustomRecords(parsedTypes tlv.TypeMap) (CustomRecords, error) {
	customRecords := make(CustomRecords, len(parsedTypes))
	for t, parseResult := range parsedTypes {
		if uint64(t) > uint64(^uint32(0)) {
			return nil, fmt.Errorf("record type %v exceeds 32 bits",
				t)
		}

		customRecords[uint32(t)] = append([]byte{}, parseResult...)
	}

	return customRecords, nil
}
