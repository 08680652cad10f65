package routing

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tlcpay/paygate/fn"
	"github.com/tlcpay/paygate/record"
)

// TestStatusTransitions walks every pair of states and checks it against the
// Created -> Inflight -> {Success | Failed} lifecycle.
func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	allowed := map[PaymentSessionStatus][]PaymentSessionStatus{
		StatusCreated:  {StatusInflight, StatusFailed},
		StatusInflight: {StatusSuccess, StatusFailed},
	}

	all := []PaymentSessionStatus{
		StatusCreated, StatusInflight, StatusSuccess, StatusFailed,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}

			require.Equal(t, want, from.CanTransitionTo(to),
				"%v -> %v", from, to)
		}
	}

	require.True(t, StatusSuccess.IsTerminal())
	require.True(t, StatusFailed.IsTerminal())
	require.False(t, StatusCreated.IsTerminal())
	require.False(t, StatusInflight.IsTerminal())
}

func TestSessionTransition(t *testing.T) {
	t.Parallel()

	session := &PaymentSession{
		CreatedAt:     100,
		LastUpdatedAt: 100,
	}

	require.NoError(t, session.transition(StatusInflight, 150, ""))
	require.Equal(t, uint64(150), session.LastUpdatedAt)

	// A clock that went backwards must not produce an update before
	// creation.
	require.NoError(t, session.transition(StatusFailed, 50, "no route"))
	require.Equal(t, uint64(100), session.LastUpdatedAt)
	require.Equal(t, "no route", session.FailedError.UnwrapOr(""))

	// Terminal states are immutable.
	err := session.transition(StatusSuccess, 200, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StatusFailed, session.Status)
	require.Equal(t, uint64(100), session.LastUpdatedAt)
}

func TestSessionCopy(t *testing.T) {
	t.Parallel()

	session := &PaymentSession{
		CustomRecords: fn.Some(record.CustomRecords{1: {1}}),
		Route:         &Route{Nodes: []RouteNode{{}}},
	}

	cp := session.Copy()
	cp.CustomRecords.WhenSome(func(r record.CustomRecords) {
		r[1][0] = 2
	})
	cp.Route.Nodes[0].Amount = cp.Route.Nodes[0].Amount.Add64(1)

	session.CustomRecords.WhenSome(func(r record.CustomRecords) {
		require.Equal(t, byte(1), r[1][0])
	})
	require.True(t, session.Route.Nodes[0].Amount.IsZero())
}
