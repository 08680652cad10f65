// Package actor bridges synchronous request handlers and long-lived
// message-driven processors. A caller hands a message carrying a single-use
// reply slot to the processor's mailbox and waits for the reply, bounded by a
// timeout.
package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tlcpay/paygate/fn"
)

var (
	// ErrUnreachable is returned when a message could not be delivered to
	// the processor, or the processor went away without replying.
	ErrUnreachable = errors.New("processor unreachable")

	// ErrTimeout is returned when no reply arrived before the call's
	// deadline.
	ErrTimeout = errors.New("processor call timed out")
)

// DomainError wraps an error returned by the processor itself, as opposed to
// a failure to talk to it.
type DomainError struct {
	Err error
}

// Error returns the processor's message verbatim.
func (e *DomainError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the processor's error.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Mailbox is the inbound queue of a processor. Send enqueues a message and
// must return promptly: an error means the message was not accepted and the
// processor will never reply to it.
type Mailbox[M any] interface {
	Send(ctx context.Context, msg M) error
}

// MailboxFunc adapts a function to the Mailbox interface.
type MailboxFunc[M any] func(ctx context.Context, msg M) error

// Send calls f.
func (f MailboxFunc[M]) Send(ctx context.Context, msg M) error {
	return f(ctx, msg)
}

// ChanMailbox is a Mailbox backed by a channel read by the processor. Sends
// fail with ErrUnreachable once quit is closed.
type ChanMailbox[M any] struct {
	msgs chan<- M
	quit <-chan struct{}
}

// NewChanMailbox returns a mailbox delivering into msgs until quit is closed.
func NewChanMailbox[M any](msgs chan<- M,
	quit <-chan struct{}) *ChanMailbox[M] {

	return &ChanMailbox[M]{
		msgs: msgs,
		quit: quit,
	}
}

// Send delivers msg, blocking while the channel is full.
func (c *ChanMailbox[M]) Send(ctx context.Context, msg M) error {
	// Don't race a full channel against an already closed quit.
	select {
	case <-c.quit:
		return ErrUnreachable
	default:
	}

	select {
	case c.msgs <- msg:
		return nil

	case <-c.quit:
		return ErrUnreachable

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call sends the message produced by build to mailbox and waits for the
// processor to write its reply. build receives the reply slot and must embed
// it in the message. Exactly one of the following is returned:
//
//   - the processor's value,
//   - a *DomainError holding the processor's error,
//   - an error wrapping ErrUnreachable if the message was refused or the
//     reply slot was closed without a value,
//   - an error wrapping ErrTimeout if ctx ended or timeout elapsed first.
//
// A timeout of zero waits for as long as ctx allows. The reply slot is
// buffered, so a processor replying after the caller gave up never blocks.
func Call[M, R any](ctx context.Context, mailbox Mailbox[M],
	timeout time.Duration, build func(chan<- fn.Result[R]) M) (R, error) {

	var zero R

	if mailbox == nil {
		return zero, fmt.Errorf("%w: no mailbox", ErrUnreachable)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	reply := make(chan fn.Result[R], 1)
	msg := build(reply)

	if err := mailbox.Send(ctx, msg); err != nil {
		return zero, sendError(ctx, err)
	}

	select {
	case result, ok := <-reply:
		if !ok {
			log.Debugf("Reply slot closed without a value")

			return zero, fmt.Errorf("%w: no reply", ErrUnreachable)
		}

		val, err := result.Unpack()
		switch {
		case err == nil:
			return val, nil

		// A processor shutting down reports itself as unreachable.
		case errors.Is(err, ErrUnreachable):
			return zero, err

		default:
			return zero, &DomainError{Err: err}
		}

	case <-ctx.Done():
		return zero, timeoutError(ctx)
	}
}

// sendError classifies a failed delivery.
func sendError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrUnreachable):
		return err

	case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):

		return timeoutError(ctx)

	default:
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
}

func timeoutError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: call canceled", ErrTimeout)
	}

	return fmt.Errorf("%w: no reply before deadline", ErrTimeout)
}
