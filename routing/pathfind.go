package routing

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/tlcpay/paygate/fn"
	"lukechampine.com/uint128"
)

const (
	// feeRateDenominator is the unit of HopHint.FeeRate: fees are charged
	// in parts per million of the forwarded amount.
	feeRateDenominator = 1_000_000
)

var (
	// ErrNoPathFound is returned when no route to the target exists.
	ErrNoPathFound = errors.New("no path found")

	// ErrAmountOverflow is returned when the amount plus fees along a
	// route does not fit in 128 bits.
	ErrAmountOverflow = errors.New("route amount overflows 128 bits")

	// ErrExpiryOverflow is returned when the sum of expiry deltas along a
	// route does not fit in 64 bits.
	ErrExpiryOverflow = errors.New("route expiry overflows 64 bits")
)

// PaymentParams is a resolved payment as handed to path finding: every value
// that could come from an invoice has been filled in.
type PaymentParams struct {
	// Source is the local node.
	Source *btcec.PublicKey

	// Target is the recipient.
	Target *btcec.PublicKey

	// Amount is the amount the recipient must receive.
	Amount uint128.Uint128

	// FinalTlcExpiryDelta is the locking timeout of the last hop.
	FinalTlcExpiryDelta uint64

	// HopHints are the payer's advisory edges.
	HopHints []HopHint
}

// PathFinder chooses a route for a payment. Implementations belong to the
// routing subsystem; the gateway never calls them directly.
type PathFinder interface {
	// FindRoute returns a route delivering params.Amount to
	// params.Target.
	FindRoute(params *PaymentParams) (*Route, error)
}

// HintPathFinder is a PathFinder that knows no graph: it chains the payer's
// hop hints in order and appends the target. Without hints it assumes a
// direct channel to the target. It is meant for simnet and tests.
type HintPathFinder struct{}

// A compile time check to ensure HintPathFinder implements the PathFinder
// interface.
var _ PathFinder = (*HintPathFinder)(nil)

// FindRoute chains the usable hints of params into a route.
func (h *HintPathFinder) FindRoute(params *PaymentParams) (*Route, error) {
	hints := usableHints(params)

	// Paying ourselves needs at least one hint to leave and re-enter the
	// local node.
	if params.Target.IsEqual(params.Source) && len(hints) == 0 {
		return nil, fmt.Errorf("%w: self payment requires hop hints",
			ErrNoPathFound)
	}

	nodes := make([]RouteNode, len(hints)+1)
	nodes[len(hints)] = RouteNode{
		Pubkey: params.Target,
		Amount: params.Amount,
	}

	totalExpiry := params.FinalTlcExpiryDelta
	amount := params.Amount.Big()

	// Walk backwards from the target, each forwarding node receiving
	// what it forwards plus its fee.
	for i := len(hints) - 1; i >= 0; i-- {
		hint := hints[i]

		amount.Add(amount, forwardFee(amount, hint.FeeRate))
		received, err := toUint128(amount)
		if err != nil {
			return nil, err
		}

		if totalExpiry > math.MaxUint64-hint.TlcExpiryDelta {
			return nil, ErrExpiryOverflow
		}
		totalExpiry += hint.TlcExpiryDelta

		nodes[i] = RouteNode{
			Pubkey:          hint.Pubkey,
			Amount:          received,
			ChannelOutpoint: fn.Some(hint.ChannelOutpoint),
		}
	}

	route := &Route{
		Nodes:          nodes,
		Fee:            nodes[0].Amount.Sub(params.Amount),
		TotalTlcExpiry: totalExpiry,
	}

	return route, route.Validate()
}

// usableHints drops hints that can not be part of a route to the target.
func usableHints(params *PaymentParams) []HopHint {
	hints := make([]HopHint, 0, len(params.HopHints))
	for _, hint := range params.HopHints {
		switch {
		case hint.Pubkey == nil:
			log.Debugf("Skipping %v: no node key", hint)

		// The recipient does not forward, and the local node is the
		// implicit start of every route.
		case hint.Pubkey.IsEqual(params.Target) &&
			!params.Target.IsEqual(params.Source):

			log.Debugf("Skipping %v: hint at payment target", hint)

		case hint.Pubkey.IsEqual(params.Source):
			log.Debugf("Skipping %v: hint at source node", hint)

		default:
			hints = append(hints, hint)
		}
	}

	return hints
}

// forwardFee returns the fee charged for forwarding amount at feeRate parts
// per million, rounded up.
func forwardFee(amount *big.Int, feeRate uint64) *big.Int {
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(feeRate))
	denominator := big.NewInt(feeRateDenominator)

	quo, rem := new(big.Int).QuoRem(fee, denominator, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}

	return quo
}

func toUint128(v *big.Int) (uint128.Uint128, error) {
	if v.Sign() < 0 || v.BitLen() > 128 {
		return uint128.Zero, ErrAmountOverflow
	}

	return uint128.FromBig(v), nil
}
