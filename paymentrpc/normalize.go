package paymentrpc

import (
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/tlcpay/paygate/fn"
	"github.com/tlcpay/paygate/hexcodec"
	"github.com/tlcpay/paygate/record"
	"github.com/tlcpay/paygate/routing"
	"lukechampine.com/uint128"
)

const (
	// MinTlcExpiryDelta is the smallest accepted final_tlc_expiry_delta
	// and tlc_expiry_limit, in milliseconds.
	MinTlcExpiryDelta = uint64(15 * time.Minute / time.Millisecond)

	// MaxTlcExpiryDelta is the largest accepted final_tlc_expiry_delta
	// and tlc_expiry_limit, in milliseconds.
	MaxTlcExpiryDelta = uint64(14 * 24 * time.Hour / time.Millisecond)
)

// PaymentCommand is a normalized send_payment call.
type PaymentCommand struct {
	// Request is the canonical payment request.
	Request *routing.SendPaymentRequest

	// DryRun selects the processor's read-only quote entry point.
	DryRun bool
}

// Build returns the processor command for the call with reply as its reply
// slot. Dry runs become quotes, so the mutating command never carries a dry
// run flag.
func (p *PaymentCommand) Build(reply routing.SessionReply) routing.Command {
	if p.DryRun {
		return &routing.QuotePaymentCommand{
			Request: p.Request,
			Reply:   reply,
		}
	}

	return &routing.SendPaymentCommand{
		Request: p.Request,
		Reply:   reply,
	}
}

var (
	optU64 = fn.MapOption(func(v hexcodec.U64) uint64 {
		return uint64(v)
	})

	optU128 = fn.MapOption(func(v hexcodec.U128) uint128.Uint128 {
		return v.Uint128
	})

	optHash = fn.MapOption(func(h Hash256) lntypes.Hash {
		return lntypes.Hash(h)
	})

	optScript = fn.MapOption(func(s Script) routing.AssetScript {
		return routing.AssetScript{
			CodeHash: s.CodeHash,
			HashType: routing.ScriptHashType(s.HashType),
			Args:     append([]byte(nil), s.Args...),
		}
	})
)

// Normalize validates the decoded send_payment parameters and converts them
// into the canonical request. It does not resolve invoices or compute
// routes, and never blocks. Every error it returns is a *FieldError.
func Normalize(params *SendPaymentParams) (*PaymentCommand, error) {
	if params == nil {
		params = &SendPaymentParams{}
	}

	keysend := fn.OptionFromPtr(params.Keysend).UnwrapOr(false)
	hasInvoice := params.Invoice != nil && *params.Invoice != ""

	// Keysend payments derive their hash from a preimage chosen by the
	// processor, every other payment must be identified up front.
	if !keysend && params.PaymentHash == nil && !hasInvoice {
		return nil, ErrMissingIdentifier()
	}

	if keysend && params.PaymentHash != nil {
		return nil, ErrKeysendWithHash()
	}

	if params.Invoice != nil && !hasInvoice {
		return nil, ErrEmptyInvoice()
	}

	if err := checkLimits(params); err != nil {
		return nil, err
	}

	hopHints, err := normalizeHopHints(params.HopHints)
	if err != nil {
		return nil, err
	}

	req := &routing.SendPaymentRequest{
		Amount:      optU128(fn.OptionFromPtr(params.Amount)),
		PaymentHash: optHash(fn.OptionFromPtr(params.PaymentHash)),
		FinalTlcExpiryDelta: optU64(
			fn.OptionFromPtr(params.FinalTlcExpiryDelta),
		),
		TlcExpiryLimit: optU64(fn.OptionFromPtr(params.TlcExpiryLimit)),
		Invoice:        fn.OptionFromPtr(params.Invoice),
		Timeout:        optU64(fn.OptionFromPtr(params.Timeout)),
		MaxFeeAmount:   optU128(fn.OptionFromPtr(params.MaxFeeAmount)),
		MaxParts:       optU64(fn.OptionFromPtr(params.MaxParts)),
		Keysend:        fn.OptionFromPtr(params.Keysend),
		UdtTypeScript: optScript(
			fn.OptionFromPtr(params.UdtTypeScript),
		),
		AllowSelfPayment: fn.OptionFromPtr(
			params.AllowSelfPayment,
		).UnwrapOr(false),
		CustomRecords: normalizeRecords(params.CustomRecords),
		HopHints:      hopHints,
	}
	if params.TargetPubkey != nil {
		req.TargetPubkey = params.TargetPubkey.PublicKey
	}

	return &PaymentCommand{
		Request: req,
		DryRun:  fn.OptionFromPtr(params.DryRun).UnwrapOr(false),
	}, nil
}

// checkLimits validates the numeric parameters.
func checkLimits(params *SendPaymentParams) error {
	if params.Amount != nil && params.Amount.IsZero() {
		return ErrZeroValue("amount", 1)
	}

	if params.Timeout != nil && *params.Timeout == 0 {
		return ErrZeroValue("timeout", 1)
	}

	if params.MaxParts != nil && *params.MaxParts == 0 {
		return ErrZeroValue("max_parts", 1)
	}

	expiries := []struct {
		field string
		value *hexcodec.U64
	}{
		{"final_tlc_expiry_delta", params.FinalTlcExpiryDelta},
		{"tlc_expiry_limit", params.TlcExpiryLimit},
	}
	for _, expiry := range expiries {
		if expiry.value == nil {
			continue
		}

		v := uint64(*expiry.value)
		if v < MinTlcExpiryDelta || v > MaxTlcExpiryDelta {
			return ErrExpiryOutOfRange(
				expiry.field, v, MinTlcExpiryDelta,
				MaxTlcExpiryDelta,
			)
		}
	}

	if params.FinalTlcExpiryDelta != nil && params.TlcExpiryLimit != nil &&
		*params.FinalTlcExpiryDelta > *params.TlcExpiryLimit {

		return ErrExpiryAboveLimit(
			uint64(*params.FinalTlcExpiryDelta),
			uint64(*params.TlcExpiryLimit),
		)
	}

	return nil
}

// normalizeHopHints converts hints elementwise, keeping their order. An
// absent or empty list yields nil.
func normalizeHopHints(hints []HopHint) ([]routing.HopHint, error) {
	if len(hints) == 0 {
		return nil, nil
	}

	converted := make([]routing.HopHint, 0, len(hints))
	for i, hint := range hints {
		if hint.Pubkey.PublicKey == nil {
			return nil, ErrMissingHintField(i, "pubkey")
		}

		converted = append(converted, routing.HopHint{
			Pubkey:          hint.Pubkey.PublicKey,
			ChannelOutpoint: wire.OutPoint(hint.ChannelOutpoint),
			FeeRate:         uint64(hint.FeeRate),
			TlcExpiryDelta:  uint64(hint.TlcExpiryDelta),
		})
	}

	return converted, nil
}

// normalizeRecords keeps absent records absent and present records present,
// even when empty.
func normalizeRecords(
	records *record.CustomRecords) fn.Option[record.CustomRecords] {

	if records == nil {
		return fn.None[record.CustomRecords]()
	}

	cp := records.Copy()
	if cp == nil {
		cp = make(record.CustomRecords)
	}

	return fn.Some(cp)
}
