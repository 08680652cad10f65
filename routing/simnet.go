package routing

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/tlcpay/paygate/fn"
	"github.com/tlcpay/paygate/record"
)

const (
	// SimFailureRecord is the custom record that makes a simulated
	// payment fail. Its value is used as the failure reason.
	SimFailureRecord uint32 = 0xfff0

	// simResolveTimeout bounds the delivery of a simulated outcome to the
	// router.
	simResolveTimeout = 10 * time.Second
)

// ResolveFunc reports the outcome of a payment, see Router.ResolvePayment.
type ResolveFunc func(ctx context.Context, hash lntypes.Hash,
	failure fn.Option[string]) (*PaymentSession, error)

// SimConfig configures a SimDispatcher.
type SimConfig struct {
	// SettleDelay is the time between dispatch and outcome.
	SettleDelay time.Duration

	// Clock measures SettleDelay.
	Clock clock.Clock

	// Resolve receives the outcomes.
	Resolve ResolveFunc

	// ForceFailure, if set, fails every payment with the given reason.
	ForceFailure fn.Option[string]
}

// ErrDispatcherShuttingDown is returned for attempts dispatched after Stop.
var ErrDispatcherShuttingDown = errors.New("dispatcher shutting down")

// SimDispatcher is a Dispatcher that does not talk to any network: each
// attempt settles after a delay, unless it carries SimFailureRecord.
type SimDispatcher struct {
	cfg *SimConfig

	// mu guards stopping against wg.Add in Dispatch.
	mu       sync.Mutex
	stopping bool

	wg   sync.WaitGroup
	quit chan struct{}
}

// A compile time check to ensure SimDispatcher implements the Dispatcher
// interface.
var _ Dispatcher = (*SimDispatcher)(nil)

// NewSimDispatcher creates a simulated dispatcher.
func NewSimDispatcher(cfg *SimConfig) *SimDispatcher {
	return &SimDispatcher{
		cfg:  cfg,
		quit: make(chan struct{}),
	}
}

// Dispatch schedules the outcome of the attempt.
func (s *SimDispatcher) Dispatch(attempt *Attempt) error {
	failure := s.cfg.ForceFailure

	// The records travel in the final hop's payload, so they must encode
	// as a TLV stream.
	var (
		payload   bytes.Buffer
		encodeErr error
	)
	attempt.CustomRecords.WhenSome(func(records record.CustomRecords) {
		encodeErr = records.EncodeTLV(&payload)

		if reason, ok := records[SimFailureRecord]; ok {
			failure = fn.Some(string(reason))
		}
	})
	if encodeErr != nil {
		return encodeErr
	}

	log.Debugf("Simulating payment %v over %v hops with %v byte payload",
		attempt.PaymentHash, attempt.Route.HopCount(), payload.Len())

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return ErrDispatcherShuttingDown
	}

	settleTime := s.cfg.Clock.TickAfter(s.cfg.SettleDelay)

	s.wg.Add(1)
	go s.settle(attempt.PaymentHash, failure, settleTime)

	return nil
}

// settle reports the outcome of a payment once the delay has passed.
//
// NOTE: This MUST be run as a goroutine.
func (s *SimDispatcher) settle(hash lntypes.Hash, failure fn.Option[string],
	settleTime <-chan time.Time) {

	defer s.wg.Done()

	select {
	case <-settleTime:
	case <-s.quit:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		simResolveTimeout)
	defer cancel()

	if _, err := s.cfg.Resolve(ctx, hash, failure); err != nil {
		log.Warnf("Unable to resolve simulated payment %v: %v", hash,
			err)
	}
}

// Stop abandons all pending outcomes. Later attempts are refused.
func (s *SimDispatcher) Stop() {
	s.mu.Lock()
	if !s.stopping {
		s.stopping = true
		close(s.quit)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
