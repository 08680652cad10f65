package paymentrpc

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/tlcpay/paygate/hexcodec"
	"github.com/tlcpay/paygate/record"
	"github.com/tlcpay/paygate/routing"
)

const (
	// outPointSize is the encoded size of a channel outpoint: the funding
	// transaction hash followed by the little endian output index.
	outPointSize = chainhash.HashSize + 4
)

var errNotString = errors.New("expected a JSON string")

// Pubkey is a secp256k1 public key. It is encoded as the hex of its 33 byte
// compressed form without prefix, a leading "0x" is accepted when decoding.
type Pubkey struct {
	*btcec.PublicKey
}

// MarshalJSON implements json.Marshaler.
func (p Pubkey) MarshalJSON() ([]byte, error) {
	if p.PublicKey == nil {
		return []byte("null"), nil
	}

	return json.Marshal(hex.EncodeToString(p.SerializeCompressed()))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Pubkey) UnmarshalJSON(data []byte) error {
	s, err := unquote(data, "pubkey")
	if err != nil {
		return err
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(s, hexcodec.Prefix))
	if err != nil {
		return malformed(s, "pubkey", err)
	}

	key, err := btcec.ParsePubKey(raw)
	if err != nil {
		return malformed(s, "pubkey", err)
	}
	p.PublicKey = key

	return nil
}

// Hash256 is a 32 byte hash encoded as "0x" followed by 64 hex digits.
type Hash256 lntypes.Hash

// MarshalJSON implements json.Marshaler.
func (h Hash256) MarshalJSON() ([]byte, error) {
	return json.Marshal(hexcodec.EncodeBytes(h[:]))
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *Hash256) UnmarshalJSON(data []byte) error {
	s, err := unquote(data, "hash")
	if err != nil {
		return err
	}

	raw, err := hexcodec.DecodeFixed(s, len(h))
	if err != nil {
		return err
	}
	copy(h[:], raw)

	return nil
}

// OutPoint identifies a channel by its funding output. It is encoded as
// "0x" followed by the 32 byte transaction hash and the little endian 4 byte
// output index.
type OutPoint wire.OutPoint

// MarshalJSON implements json.Marshaler.
func (o OutPoint) MarshalJSON() ([]byte, error) {
	var raw [outPointSize]byte
	copy(raw[:], o.Hash[:])
	binary.LittleEndian.PutUint32(raw[chainhash.HashSize:], o.Index)

	return json.Marshal(hexcodec.EncodeBytes(raw[:]))
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *OutPoint) UnmarshalJSON(data []byte) error {
	s, err := unquote(data, "outpoint")
	if err != nil {
		return err
	}

	raw, err := hexcodec.DecodeFixed(s, outPointSize)
	if err != nil {
		return err
	}

	copy(o.Hash[:], raw[:chainhash.HashSize])
	o.Index = binary.LittleEndian.Uint32(raw[chainhash.HashSize:])

	return nil
}

// HashType is the wire form of routing.ScriptHashType: one of "data",
// "type", "data1" or "data2".
type HashType routing.ScriptHashType

// MarshalJSON implements json.Marshaler.
func (h HashType) MarshalJSON() ([]byte, error) {
	return json.Marshal(routing.ScriptHashType(h).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *HashType) UnmarshalJSON(data []byte) error {
	s, err := unquote(data, "hash_type")
	if err != nil {
		return err
	}

	hashType, err := routing.ParseScriptHashType(s)
	if err != nil {
		return malformed(s, "hash_type", err)
	}
	*h = HashType(hashType)

	return nil
}

// Script describes the asset of a non-native payment.
type Script struct {
	CodeHash Hash256        `json:"code_hash"`
	HashType HashType       `json:"hash_type"`
	Args     hexcodec.Bytes `json:"args"`
}

// HopHint is the wire form of routing.HopHint.
type HopHint struct {
	Pubkey          Pubkey       `json:"pubkey"`
	ChannelOutpoint OutPoint     `json:"channel_outpoint"`
	FeeRate         hexcodec.U64 `json:"fee_rate"`
	TlcExpiryDelta  hexcodec.U64 `json:"tlc_expiry_delta"`
}

// SendPaymentParams are the parameters of send_payment. Every field is
// optional on the wire, absence is kept as a nil pointer.
type SendPaymentParams struct {
	// TargetPubkey is the recipient.
	TargetPubkey *Pubkey `json:"target_pubkey,omitempty"`

	// Amount is the amount to deliver.
	Amount *hexcodec.U128 `json:"amount,omitempty"`

	// PaymentHash identifies the payment.
	PaymentHash *Hash256 `json:"payment_hash,omitempty"`

	// FinalTlcExpiryDelta is the last hop's locking timeout in
	// milliseconds.
	FinalTlcExpiryDelta *hexcodec.U64 `json:"final_tlc_expiry_delta,omitempty"`

	// TlcExpiryLimit bounds the route's locking timeout in milliseconds.
	TlcExpiryLimit *hexcodec.U64 `json:"tlc_expiry_limit,omitempty"`

	// Invoice is an encoded payment request.
	Invoice *string `json:"invoice,omitempty"`

	// Timeout is the payment timeout in seconds.
	Timeout *hexcodec.U64 `json:"timeout,omitempty"`

	// MaxFeeAmount caps the fee.
	MaxFeeAmount *hexcodec.U128 `json:"max_fee_amount,omitempty"`

	// MaxParts caps the number of partial payments.
	MaxParts *hexcodec.U64 `json:"max_parts,omitempty"`

	// Keysend requests a spontaneous payment.
	Keysend *bool `json:"keysend,omitempty"`

	// UdtTypeScript selects a non-native asset.
	UdtTypeScript *Script `json:"udt_type_script,omitempty"`

	// AllowSelfPayment permits paying the local node, false if absent.
	AllowSelfPayment *bool `json:"allow_self_payment,omitempty"`

	// CustomRecords are delivered to the recipient. Absence and an empty
	// object are distinct.
	CustomRecords *record.CustomRecords `json:"custom_records,omitempty"`

	// HopHints are advisory routing edges.
	HopHints []HopHint `json:"hop_hints,omitempty"`

	// DryRun requests a quote instead of a payment, false if absent.
	DryRun *bool `json:"dry_run,omitempty"`
}

// GetPaymentParams are the parameters of get_payment.
type GetPaymentParams struct {
	PaymentHash *Hash256 `json:"payment_hash,omitempty"`
}

// RouteNode is one node of a SessionRoute.
type RouteNode struct {
	Pubkey          Pubkey        `json:"pubkey"`
	Amount          hexcodec.U128 `json:"amount"`
	ChannelOutpoint *OutPoint     `json:"channel_outpoint"`
}

// SessionRoute is the diagnostic view of the path chosen for a payment.
type SessionRoute struct {
	Nodes []RouteNode `json:"nodes"`
}

// PaymentResult is the reply of send_payment and get_payment.
type PaymentResult struct {
	PaymentHash   Hash256              `json:"payment_hash"`
	Status        string               `json:"status"`
	CreatedAt     hexcodec.U64         `json:"created_at"`
	LastUpdatedAt hexcodec.U64         `json:"last_updated_at"`
	FailedError   *string              `json:"failed_error"`
	Fee           hexcodec.U128        `json:"fee"`
	CustomRecords record.CustomRecords `json:"custom_records"`
	Router        *SessionRoute        `json:"router,omitempty"`
}

// unquote extracts the JSON string a value must be carried in.
func unquote(data []byte, kind string) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", malformed(string(data), kind, errNotString)
	}

	return s, nil
}

func malformed(input, kind string, reason error) error {
	return &hexcodec.MalformedEncodingError{
		Input:  input,
		Kind:   kind,
		Reason: reason,
	}
}
