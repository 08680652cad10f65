package paymentrpc

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/tlcpay/paygate/hexcodec"
	"github.com/tlcpay/paygate/record"
	"github.com/tlcpay/paygate/routing"
)

// errNoSession is returned when a processor replies without a session.
var errNoSession = errors.New("processor returned no payment session")

// errInvalidSession is returned when a processor replies with a session that
// breaks the session invariants.
var errInvalidSession = errors.New("processor returned invalid payment " +
	"session")

// checkSession verifies that failed_error is present iff the session failed
// and that it was not updated before it was created.
func checkSession(session *routing.PaymentSession) error {
	failed := session.Status == routing.StatusFailed
	if failed != session.FailedError.IsSome() {
		return fmt.Errorf("%w: status %v with failed_error present=%v",
			errInvalidSession, session.Status,
			session.FailedError.IsSome())
	}

	if session.LastUpdatedAt < session.CreatedAt {
		return fmt.Errorf("%w: last_updated_at %v before created_at %v",
			errInvalidSession, session.LastUpdatedAt,
			session.CreatedAt)
	}

	return nil
}

// Project converts a session snapshot into its wire form. The route is only
// included if includeRoute is set. The result shares no memory with the
// snapshot. Snapshots that break the session invariants are rejected.
func Project(session *routing.PaymentSession,
	includeRoute bool) (*PaymentResult, error) {

	if session == nil {
		return nil, errNoSession
	}

	if err := checkSession(session); err != nil {
		return nil, err
	}

	result := &PaymentResult{
		PaymentHash:   Hash256(session.PaymentHash),
		Status:        session.Status.String(),
		CreatedAt:     hexcodec.U64(session.CreatedAt),
		LastUpdatedAt: hexcodec.U64(session.LastUpdatedAt),
		FailedError:   session.FailedError.UnwrapToPtr(),
		Fee:           hexcodec.NewU128(session.Fee),
	}

	// Present but empty records stay an empty object.
	session.CustomRecords.WhenSome(func(records record.CustomRecords) {
		result.CustomRecords = records.Copy()
		if result.CustomRecords == nil {
			result.CustomRecords = make(record.CustomRecords)
		}
	})

	if includeRoute && session.Route != nil {
		result.Router = projectRoute(session.Route)
	}

	return result, nil
}

func projectRoute(route *routing.Route) *SessionRoute {
	nodes := make([]RouteNode, 0, len(route.Nodes))
	for _, node := range route.Nodes {
		wireNode := RouteNode{
			Pubkey: Pubkey{node.Pubkey},
			Amount: hexcodec.NewU128(node.Amount),
		}
		node.ChannelOutpoint.WhenSome(func(op wire.OutPoint) {
			outPoint := OutPoint(op)
			wireNode.ChannelOutpoint = &outPoint
		})

		nodes = append(nodes, wireNode)
	}

	return &SessionRoute{Nodes: nodes}
}
