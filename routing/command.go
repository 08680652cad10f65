package routing

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/tlcpay/paygate/fn"
	"github.com/tlcpay/paygate/record"
	"lukechampine.com/uint128"
)

// SendPaymentRequest is the canonical form of a payment request, produced by
// the gateway after decoding and validation. Optional fields keep their
// absence so that the processor can tell "not given" from a zero value, in
// particular when filling them from an invoice.
type SendPaymentRequest struct {
	// TargetPubkey is the recipient, nil if it must come from the
	// invoice.
	TargetPubkey *btcec.PublicKey

	// Amount is the amount to deliver in the smallest unit.
	Amount fn.Option[uint128.Uint128]

	// PaymentHash identifies the payment. It may be absent for invoice
	// and keysend payments.
	PaymentHash fn.Option[lntypes.Hash]

	// FinalTlcExpiryDelta is the locking timeout of the last hop in
	// milliseconds.
	FinalTlcExpiryDelta fn.Option[uint64]

	// TlcExpiryLimit bounds the locking timeout across the whole route in
	// milliseconds.
	TlcExpiryLimit fn.Option[uint64]

	// Invoice is the encoded payment request, resolved by the processor.
	Invoice fn.Option[string]

	// Timeout is the number of seconds after which the payment is
	// abandoned.
	Timeout fn.Option[uint64]

	// MaxFeeAmount caps the fee the sender is willing to pay.
	MaxFeeAmount fn.Option[uint128.Uint128]

	// MaxParts caps the number of concurrent partial payments.
	MaxParts fn.Option[uint64]

	// Keysend selects a payment without invoice where the processor
	// generates the preimage.
	Keysend fn.Option[bool]

	// UdtTypeScript selects the asset for non-native payments.
	UdtTypeScript fn.Option[AssetScript]

	// AllowSelfPayment permits the target to be the local node.
	AllowSelfPayment bool

	// CustomRecords are transported to the recipient untouched. None and
	// an empty set are distinct.
	CustomRecords fn.Option[record.CustomRecords]

	// HopHints are advisory routing edges, nil when none were given.
	HopHints []HopHint
}

// IsKeysend reports whether the request is a keysend payment.
func (r *SendPaymentRequest) IsKeysend() bool {
	return r.Keysend.UnwrapOr(false)
}

// Command is a message accepted by a payment command processor. The set of
// commands is closed: SendPaymentCommand, QuotePaymentCommand and
// GetPaymentCommand.
type Command interface {
	// ReadOnly returns true if executing the command can not change the
	// processor's state or emit anything to the network.
	ReadOnly() bool

	isCommand()
}

// SessionReply is the single-use reply slot of a command. The processor
// writes exactly one value to it.
type SessionReply = chan<- fn.Result[*PaymentSession]

// SendPaymentCommand asks the processor to create a payment session for the
// request and start paying it.
type SendPaymentCommand struct {
	// Request is the payment to make.
	Request *SendPaymentRequest

	// Reply receives the session snapshot after the payment was accepted,
	// or the error that prevented a session from being created.
	Reply SessionReply
}

// ReadOnly is false, sending a payment creates a session.
func (c *SendPaymentCommand) ReadOnly() bool {
	return false
}

func (c *SendPaymentCommand) isCommand() {}

// QuotePaymentCommand asks the processor to resolve, route and cost a
// payment without creating a session, reserving funds or emitting anything to
// the network. This is the entry point for dry runs.
type QuotePaymentCommand struct {
	// Request is the payment to cost.
	Request *SendPaymentRequest

	// Reply receives an unstored session snapshot in StatusCreated with
	// the estimated fee and route.
	Reply SessionReply
}

// ReadOnly is true, quotes never touch processor state.
func (c *QuotePaymentCommand) ReadOnly() bool {
	return true
}

func (c *QuotePaymentCommand) isCommand() {}

// GetPaymentCommand asks the processor for the latest snapshot of a session.
type GetPaymentCommand struct {
	// PaymentHash identifies the session.
	PaymentHash lntypes.Hash

	// Reply receives the snapshot or ErrPaymentNotFound.
	Reply SessionReply
}

// ReadOnly is true, lookups have no side effects.
func (c *GetPaymentCommand) ReadOnly() bool {
	return true
}

func (c *GetPaymentCommand) isCommand() {}

// A compile time check to ensure the commands implement the Command
// interface.
var (
	_ Command = (*SendPaymentCommand)(nil)
	_ Command = (*QuotePaymentCommand)(nil)
	_ Command = (*GetPaymentCommand)(nil)
)
