package routing

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

// HopHint is an advisory forwarding edge supplied by the payer: the node
// identified by Pubkey can forward towards the next hop of the payment over
// the channel identified by ChannelOutpoint. Hints are best effort, a hint
// that does not fit the payment is skipped rather than failing it.
type HopHint struct {
	// Pubkey is the forwarding node.
	Pubkey *btcec.PublicKey

	// ChannelOutpoint identifies the channel by its funding transaction
	// and output index.
	ChannelOutpoint wire.OutPoint

	// FeeRate is the proportional fee charged by the forwarding node, in
	// parts per million of the forwarded amount.
	FeeRate uint64

	// TlcExpiryDelta is the expiry delta, in milliseconds, that the
	// forwarding node adds to the payment's locking timeout.
	TlcExpiryDelta uint64
}

// String returns a short description of the hint for logging.
func (h HopHint) String() string {
	var node string
	if h.Pubkey != nil {
		node = fmt.Sprintf("%x", h.Pubkey.SerializeCompressed())
	}

	return fmt.Sprintf("hint(node=%v, chan=%x:%d, fee_rate=%v, delta=%v)",
		node, h.ChannelOutpoint.Hash[:], h.ChannelOutpoint.Index,
		h.FeeRate, h.TlcExpiryDelta)
}
