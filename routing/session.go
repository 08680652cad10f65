package routing

import (
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/tlcpay/paygate/fn"
	"github.com/tlcpay/paygate/record"
	"lukechampine.com/uint128"
)

// PaymentSessionStatus is the lifecycle state of a payment session.
type PaymentSessionStatus uint8

const (
	// StatusCreated is the initial state of a session that has been
	// accepted but not yet handed to the network. Quotes are always
	// reported in this state.
	StatusCreated PaymentSessionStatus = iota

	// StatusInflight indicates that at least one attempt for the payment
	// has been dispatched and no outcome is known yet.
	StatusInflight

	// StatusSuccess is the terminal state of a settled payment.
	StatusSuccess

	// StatusFailed is the terminal state of a payment that can no longer
	// succeed.
	StatusFailed
)

// ErrInvalidTransition is returned when a session is asked to move to a state
// that is not reachable from its current state.
var ErrInvalidTransition = errors.New("invalid payment status transition")

// String returns the wire name of the status.
func (s PaymentSessionStatus) String() string {
	switch s {
	case StatusCreated:
		return "Created"

	case StatusInflight:
		return "Inflight"

	case StatusSuccess:
		return "Success"

	case StatusFailed:
		return "Failed"

	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// IsTerminal returns true for states that can never be left.
func (s PaymentSessionStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// CanTransitionTo reports whether next is directly reachable from s. The
// lifecycle is Created -> Inflight -> {Success | Failed}. A session may also
// fail straight from Created when its first dispatch is refused.
func (s PaymentSessionStatus) CanTransitionTo(
	next PaymentSessionStatus) bool {

	switch s {
	case StatusCreated:
		return next == StatusInflight || next == StatusFailed

	case StatusInflight:
		return next == StatusSuccess || next == StatusFailed

	default:
		return false
	}
}

// PaymentSession is a snapshot of a payment as seen by the routing subsystem.
// Replies always carry a fresh snapshot, never the processor's own copy.
type PaymentSession struct {
	// PaymentHash identifies the payment.
	PaymentHash lntypes.Hash

	// Status is the lifecycle state at snapshot time.
	Status PaymentSessionStatus

	// CreatedAt is the creation time in milliseconds since the unix
	// epoch.
	CreatedAt uint64

	// LastUpdatedAt is the time of the last status change in milliseconds
	// since the unix epoch. It is never before CreatedAt.
	LastUpdatedAt uint64

	// FailedError is the failure reason, set iff Status is StatusFailed.
	FailedError fn.Option[string]

	// Fee is the fee paid, or for quotes the estimated fee.
	Fee uint128.Uint128

	// CustomRecords are the records attached to the payment.
	CustomRecords fn.Option[record.CustomRecords]

	// Route is the path chosen for the payment.
	Route *Route
}

// Copy returns a deep copy of the snapshot.
func (p *PaymentSession) Copy() *PaymentSession {
	cp := *p
	cp.CustomRecords = fn.MapOption(record.CustomRecords.Copy)(
		p.CustomRecords,
	)
	if p.Route != nil {
		cp.Route = p.Route.Copy()
	}

	return &cp
}

// transition moves the session to next at time now, recording reason for
// failures. The session is left untouched when the transition is not
// allowed.
func (p *PaymentSession) transition(next PaymentSessionStatus, now uint64,
	reason string) error {

	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %v -> %v for payment %v",
			ErrInvalidTransition, p.Status, next, p.PaymentHash)
	}

	p.Status = next

	// Timestamps come from the processor clock, which may be adjusted.
	// Never report an update before creation.
	if now < p.CreatedAt {
		now = p.CreatedAt
	}
	p.LastUpdatedAt = now

	if next == StatusFailed {
		p.FailedError = fn.Some(reason)
	}

	return nil
}
