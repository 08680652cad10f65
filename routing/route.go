package routing

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/tlcpay/paygate/fn"
	"lukechampine.com/uint128"
)

var (
	// ErrEmptyRoute is returned when a route has no nodes.
	ErrEmptyRoute = errors.New("route has no nodes")

	// ErrMissingNodeKey is returned when a route node has no public key.
	ErrMissingNodeKey = errors.New("route node without public key")

	// ErrAmountIncreases is returned when a node is asked to forward more
	// than it received.
	ErrAmountIncreases = errors.New("route amount increases along path")
)

// RouteNode is one node of a chosen payment path.
type RouteNode struct {
	// Pubkey identifies the node.
	Pubkey *btcec.PublicKey

	// Amount is the amount the node receives, including the fees of the
	// nodes after it.
	Amount uint128.Uint128

	// ChannelOutpoint is the channel over which the node forwards to the
	// next node. It is None for the final node and for edges that were not
	// named by a hint.
	ChannelOutpoint fn.Option[wire.OutPoint]
}

// Route is the hop-by-hop path chosen for a payment, from the first hop to
// the recipient.
type Route struct {
	// Nodes lists the nodes in payment order, the last one being the
	// recipient.
	Nodes []RouteNode

	// Fee is the total fee paid to forwarding nodes.
	Fee uint128.Uint128

	// TotalTlcExpiry is the locking timeout of the first hop in
	// milliseconds: the final delta plus the delta of every forwarding
	// node.
	TotalTlcExpiry uint64
}

// Copy returns a deep copy of the route. Public keys are immutable and are
// shared.
func (r *Route) Copy() *Route {
	cp := *r
	cp.Nodes = append([]RouteNode(nil), r.Nodes...)

	return &cp
}

// HopCount returns the number of nodes on the route.
func (r *Route) HopCount() int {
	return len(r.Nodes)
}

// Validate performs sanity checks on a route produced by a path finder.
func (r *Route) Validate() error {
	if len(r.Nodes) == 0 {
		return ErrEmptyRoute
	}

	for i, node := range r.Nodes {
		if node.Pubkey == nil {
			return fmt.Errorf("%w at position %v", ErrMissingNodeKey,
				i)
		}

		if i > 0 && node.Amount.Cmp(r.Nodes[i-1].Amount) > 0 {
			return fmt.Errorf("%w at position %v", ErrAmountIncreases,
				i)
		}
	}

	return nil
}
