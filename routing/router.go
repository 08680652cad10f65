package routing

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/tlcpay/paygate/actor"
	"github.com/tlcpay/paygate/fn"
	"github.com/tlcpay/paygate/record"
	"lukechampine.com/uint128"
)

const (
	// DefaultFinalTlcExpiryDelta is the locking timeout of the last hop
	// used when the request gives none.
	DefaultFinalTlcExpiryDelta = uint64(24 * time.Hour / time.Millisecond)

	// DefaultTlcExpiryLimit bounds the locking timeout of a route when
	// the request gives no limit.
	DefaultTlcExpiryLimit = uint64(14 * 24 * time.Hour / time.Millisecond)

	// DefaultMailboxSize is the number of commands that can be queued
	// before Send blocks.
	DefaultMailboxSize = 100

	// DefaultTimeoutInterval is how often inflight payments are checked
	// against their timeout.
	DefaultTimeoutInterval = time.Second
)

var (
	// ErrRouterShuttingDown is returned for commands sent to, or still
	// queued at, a router that is stopping.
	ErrRouterShuttingDown = fmt.Errorf("router shutting down: %w",
		actor.ErrUnreachable)

	// ErrRouterNotStarted is returned for commands sent before Start.
	ErrRouterNotStarted = fmt.Errorf("router not started: %w",
		actor.ErrUnreachable)

	// ErrPaymentNotFound is returned when no session exists for a payment
	// hash.
	ErrPaymentNotFound = errors.New("payment session not found")

	// ErrDuplicatePayment is returned when a session for the payment hash
	// exists and has not failed.
	ErrDuplicatePayment = errors.New("payment session already exists")

	// ErrMissingTarget is returned when neither the request nor its
	// invoice name a recipient.
	ErrMissingTarget = errors.New("target pubkey is missing")

	// ErrMissingAmount is returned when neither the request nor its
	// invoice give an amount.
	ErrMissingAmount = errors.New("amount is missing")

	// ErrMissingPaymentHash is returned when a non-keysend payment has no
	// payment hash.
	ErrMissingPaymentHash = errors.New("payment hash is missing")

	// ErrKeysendWithHash is returned for keysend payments that name a
	// payment hash: keysend hashes are derived from a fresh preimage.
	ErrKeysendWithHash = errors.New("keysend payment must not have a " +
		"payment hash")

	// ErrInvalidInvoice is returned when the invoice can not be decoded.
	ErrInvalidInvoice = errors.New("invalid invoice")

	// ErrInvoiceExpired is returned when paying an expired invoice.
	ErrInvoiceExpired = errors.New("invoice expired")

	// ErrSelfPayment is returned when paying the local node without
	// allow_self_payment.
	ErrSelfPayment = errors.New("allow_self_payment is not enabled, " +
		"can not pay to self")

	// ErrFeeTooHigh is returned when the route fee exceeds the maximum
	// the sender accepts.
	ErrFeeTooHigh = errors.New("route fee exceeds max_fee_amount")

	// ErrExpiryTooLarge is returned when the route's total locking
	// timeout exceeds the limit.
	ErrExpiryTooLarge = errors.New("route expiry exceeds tlc_expiry_limit")
)

// Attempt is a payment handed to the network.
type Attempt struct {
	// PaymentHash identifies the payment.
	PaymentHash lntypes.Hash

	// Preimage is set for keysend payments, where the sender reveals it
	// to the recipient.
	Preimage fn.Option[lntypes.Preimage]

	// Route is the path to pay along.
	Route *Route

	// Asset is the asset paid, None for the native token.
	Asset fn.Option[AssetScript]

	// CustomRecords are delivered to the recipient.
	CustomRecords fn.Option[record.CustomRecords]
}

// Dispatcher hands payment attempts to the network. The outcome is reported
// back through Router.ResolvePayment.
type Dispatcher interface {
	// Dispatch starts the attempt. It must not block on the outcome, and
	// an error means nothing was sent.
	Dispatch(attempt *Attempt) error
}

// Config holds the router's dependencies.
type Config struct {
	// SelfNode is the public key of the local node.
	SelfNode *btcec.PublicKey

	// ChainParams selects the network invoices must be for.
	ChainParams *chaincfg.Params

	// Clock provides session timestamps.
	Clock clock.Clock

	// PathFinder chooses routes.
	PathFinder PathFinder

	// Bandwidth reports the local balance. If nil, every payment is
	// assumed to be fundable.
	Bandwidth BandwidthHints

	// Dispatcher sends payments.
	Dispatcher Dispatcher

	// TimeoutTicker drives the payment timeout sweeper.
	TimeoutTicker ticker.Ticker

	// MailboxSize is the capacity of the command queue.
	MailboxSize int
}

// paymentState is the router's private record of a session.
type paymentState struct {
	session *PaymentSession

	asset fn.Option[AssetScript]

	// amount is what the local node pays: the amount plus fees.
	amount uint128.Uint128

	// deadline is the time in milliseconds after which an unresolved
	// payment fails, zero if it never times out.
	deadline uint64
}

// preparedPayment is a request with every value resolved and a route chosen.
type preparedPayment struct {
	hash     lntypes.Hash
	preimage fn.Option[lntypes.Preimage]
	route    *Route
	asset    fn.Option[AssetScript]
	records  fn.Option[record.CustomRecords]
	timeout  uint64
}

// Router is an in-memory payment command processor. All state is owned by a
// single goroutine that executes commands one at a time in the order they
// were queued.
type Router struct {
	started uint32
	stopped uint32

	cfg *Config

	bandwidth *bandwidthManager
	payments  map[lntypes.Hash]*paymentState

	commands chan Command
	mailbox  *actor.ChanMailbox[Command]

	wg   sync.WaitGroup
	quit chan struct{}
}

// A compile time check to ensure Router implements the actor.Mailbox
// interface.
var _ actor.Mailbox[Command] = (*Router)(nil)

// New creates a router from the config.
func New(cfg *Config) *Router {
	size := cfg.MailboxSize
	if size <= 0 {
		size = DefaultMailboxSize
	}

	commands := make(chan Command, size)
	quit := make(chan struct{})

	return &Router{
		cfg:       cfg,
		bandwidth: newBandwidthManager(cfg.Bandwidth),
		payments:  make(map[lntypes.Hash]*paymentState),
		commands:  commands,
		mailbox:   actor.NewChanMailbox[Command](commands, quit),
		quit:      quit,
	}
}

// Start launches the command loop.
func (r *Router) Start() error {
	if !atomic.CompareAndSwapUint32(&r.started, 0, 1) {
		return nil
	}

	log.Info("Payment router starting")

	r.cfg.TimeoutTicker.Resume()

	r.wg.Add(1)
	go r.commandLoop()

	return nil
}

// Stop shuts the command loop down. Queued commands are answered with
// ErrRouterShuttingDown.
func (r *Router) Stop() error {
	if !atomic.CompareAndSwapUint32(&r.stopped, 0, 1) {
		return nil
	}

	log.Info("Payment router shutting down")

	close(r.quit)
	r.wg.Wait()

	r.cfg.TimeoutTicker.Stop()

	return nil
}

// Send queues a command. The command's reply slot receives exactly one
// value unless an error is returned.
func (r *Router) Send(ctx context.Context, cmd Command) error {
	if atomic.LoadUint32(&r.started) == 0 {
		return ErrRouterNotStarted
	}

	err := r.mailbox.Send(ctx, cmd)
	if errors.Is(err, actor.ErrUnreachable) {
		return ErrRouterShuttingDown
	}

	return err
}

// ResolvePayment records the outcome of a dispatched payment: success if
// failure is None, otherwise a failure with the given reason.
func (r *Router) ResolvePayment(ctx context.Context, hash lntypes.Hash,
	failure fn.Option[string]) (*PaymentSession, error) {

	var mailbox actor.Mailbox[Command] = r

	return actor.Call(ctx, mailbox, 0,
		func(reply chan<- fn.Result[*PaymentSession]) Command {
			return &resolvePaymentCommand{
				paymentHash: hash,
				failure:     failure,
				reply:       reply,
			}
		},
	)
}

// resolvePaymentCommand carries a payment outcome into the command loop.
type resolvePaymentCommand struct {
	paymentHash lntypes.Hash
	failure     fn.Option[string]
	reply       SessionReply
}

func (c *resolvePaymentCommand) ReadOnly() bool {
	return false
}

func (c *resolvePaymentCommand) isCommand() {}

// commandLoop is the router's main goroutine.
//
// NOTE: This MUST be run as a goroutine.
func (r *Router) commandLoop() {
	defer r.wg.Done()

	for {
		select {
		case cmd := <-r.commands:
			r.handleCommand(cmd)

		case <-r.cfg.TimeoutTicker.Ticks():
			r.failTimedOut()

		case <-r.quit:
			r.drainCommands()
			return
		}
	}
}

// drainCommands answers every queued command with ErrRouterShuttingDown.
func (r *Router) drainCommands() {
	for {
		select {
		case cmd := <-r.commands:
			log.Debugf("Rejecting %T: shutting down", cmd)

			// quit is closed, so only write to slots with room.
			reply := replyOf(cmd)
			if reply == nil {
				continue
			}

			select {
			case reply <- fn.Err[*PaymentSession](
				ErrRouterShuttingDown,
			):
			default:
			}

		default:
			return
		}
	}
}

func replyOf(cmd Command) SessionReply {
	switch c := cmd.(type) {
	case *SendPaymentCommand:
		return c.Reply

	case *QuotePaymentCommand:
		return c.Reply

	case *GetPaymentCommand:
		return c.Reply

	case *resolvePaymentCommand:
		return c.reply

	default:
		return nil
	}
}

func (r *Router) handleCommand(cmd Command) {
	switch c := cmd.(type) {
	case *SendPaymentCommand:
		session, err := r.sendPayment(c.Request)
		r.sendReply(c.Reply, session, err)

	case *QuotePaymentCommand:
		session, err := r.quotePayment(c.Request)
		r.sendReply(c.Reply, session, err)

	case *GetPaymentCommand:
		session, err := r.getPayment(c.PaymentHash)
		r.sendReply(c.Reply, session, err)

	case *resolvePaymentCommand:
		session, err := r.resolvePayment(c.paymentHash, c.failure)
		r.sendReply(c.reply, session, err)

	default:
		log.Errorf("Unknown command type: %T", cmd)
	}
}

// sendReply writes the single reply of a command.
func (r *Router) sendReply(reply SessionReply, session *PaymentSession,
	err error) {

	if reply == nil {
		return
	}

	result := fn.NewResult(session, err)

	// Prefer delivery over an observed shutdown when the slot has room.
	select {
	case reply <- result:
		return
	default:
	}

	select {
	case reply <- result:
	case <-r.quit:
	}
}

// now returns the current time in milliseconds since the unix epoch.
func (r *Router) now() uint64 {
	return uint64(r.cfg.Clock.Now().UnixMilli())
}

func (r *Router) getPayment(hash lntypes.Hash) (*PaymentSession, error) {
	state, ok := r.payments[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrPaymentNotFound, hash)
	}

	return state.session.Copy(), nil
}

// quotePayment resolves and routes the request without touching any state.
func (r *Router) quotePayment(req *SendPaymentRequest) (*PaymentSession,
	error) {

	payment, err := r.preparePayment(req)
	if err != nil {
		return nil, err
	}

	now := r.now()
	log.Debugf("Quoted payment %v: fee=%v, hops=%v", payment.hash,
		payment.route.Fee, payment.route.HopCount())

	return &PaymentSession{
		PaymentHash:   payment.hash,
		Status:        StatusCreated,
		CreatedAt:     now,
		LastUpdatedAt: now,
		Fee:           payment.route.Fee,
		CustomRecords: payment.records,
		Route:         payment.route,
	}, nil
}

// sendPayment creates a session for the request and dispatches it.
func (r *Router) sendPayment(req *SendPaymentRequest) (*PaymentSession,
	error) {

	payment, err := r.preparePayment(req)
	if err != nil {
		return nil, err
	}

	if existing, ok := r.payments[payment.hash]; ok &&
		existing.session.Status != StatusFailed {

		return nil, fmt.Errorf("%w: %v is %v", ErrDuplicatePayment,
			payment.hash, existing.session.Status)
	}

	now := r.now()
	state := &paymentState{
		session: &PaymentSession{
			PaymentHash:   payment.hash,
			Status:        StatusCreated,
			CreatedAt:     now,
			LastUpdatedAt: now,
			Fee:           payment.route.Fee,
			CustomRecords: payment.records,
			Route:         payment.route,
		},
		asset:  payment.asset,
		amount: payment.route.Nodes[0].Amount,
	}
	state.deadline = paymentDeadline(now, payment.timeout)

	r.payments[payment.hash] = state
	r.bandwidth.commit(state.asset, state.amount)

	log.Infof("Sending payment %v: amount=%v, fee=%v, hops=%v",
		payment.hash, state.amount, payment.route.Fee,
		payment.route.HopCount())

	err = r.cfg.Dispatcher.Dispatch(&Attempt{
		PaymentHash:   payment.hash,
		Preimage:      payment.preimage,
		Route:         payment.route.Copy(),
		Asset:         payment.asset,
		CustomRecords: payment.records,
	})
	if err != nil {
		log.Warnf("Dispatch of payment %v failed: %v", payment.hash,
			err)

		if err := r.failPayment(state, err.Error()); err != nil {
			return nil, err
		}

		return state.session.Copy(), nil
	}

	err = state.session.transition(StatusInflight, r.now(), "")
	if err != nil {
		return nil, err
	}

	return state.session.Copy(), nil
}

func (r *Router) resolvePayment(hash lntypes.Hash,
	failure fn.Option[string]) (*PaymentSession, error) {

	state, ok := r.payments[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrPaymentNotFound, hash)
	}

	if failure.IsSome() {
		reason := failure.UnwrapOr("")
		if err := r.failPayment(state, reason); err != nil {
			return nil, err
		}

		return state.session.Copy(), nil
	}

	err := state.session.transition(StatusSuccess, r.now(), "")
	if err != nil {
		return nil, err
	}

	log.Infof("Payment %v succeeded", hash)

	return state.session.Copy(), nil
}

// failPayment moves the session to failed and releases its funds.
func (r *Router) failPayment(state *paymentState, reason string) error {
	err := state.session.transition(StatusFailed, r.now(), reason)
	if err != nil {
		return err
	}

	r.bandwidth.release(state.asset, state.amount)

	log.Infof("Payment %v failed: %v", state.session.PaymentHash, reason)

	return nil
}

// paymentDeadline returns the time in milliseconds at which a payment started
// at now times out, or zero if it never does. Timeouts too large to represent
// never expire.
func paymentDeadline(now, timeoutSecs uint64) uint64 {
	if timeoutSecs == 0 || timeoutSecs > (math.MaxUint64-now)/1000 {
		return 0
	}

	return now + timeoutSecs*1000
}

// failTimedOut fails every unresolved payment past its deadline.
func (r *Router) failTimedOut() {
	now := r.now()
	for _, state := range r.payments {
		if state.deadline == 0 || now < state.deadline ||
			state.session.Status.IsTerminal() {

			continue
		}

		if err := r.failPayment(state, "payment timed out"); err != nil {
			log.Errorf("Unable to time out payment %v: %v",
				state.session.PaymentHash, err)
		}
	}
}

// preparePayment fills the request from its invoice, checks it and finds a
// route. It has no side effects.
func (r *Router) preparePayment(req *SendPaymentRequest) (*preparedPayment,
	error) {

	if req == nil {
		return nil, errors.New("empty payment request")
	}

	var (
		target = req.TargetPubkey
		amount = req.Amount
		hash   = req.PaymentHash
	)

	if req.Invoice.IsSome() {
		invoice, err := r.decodeInvoice(req.Invoice.UnwrapOr(""))
		if err != nil {
			return nil, err
		}

		target, amount, hash = mergeInvoice(
			invoice, target, amount, hash,
		)
	}

	payment := &preparedPayment{
		asset:   req.UdtTypeScript,
		records: req.CustomRecords,
		timeout: req.Timeout.UnwrapOr(0),
	}

	switch {
	case req.IsKeysend() && hash.IsSome():
		return nil, ErrKeysendWithHash

	case req.IsKeysend():
		var preimage lntypes.Preimage
		if _, err := rand.Read(preimage[:]); err != nil {
			return nil, err
		}

		payment.preimage = fn.Some(preimage)
		payment.hash = preimage.Hash()

	case hash.IsNone():
		return nil, ErrMissingPaymentHash

	default:
		payment.hash = hash.UnwrapOr(lntypes.ZeroHash)
	}

	if target == nil {
		return nil, ErrMissingTarget
	}

	if target.IsEqual(r.cfg.SelfNode) && !req.AllowSelfPayment {
		return nil, ErrSelfPayment
	}

	if amount.IsNone() {
		return nil, ErrMissingAmount
	}
	amt := amount.UnwrapOr(uint128.Zero)
	if amt.IsZero() {
		return nil, fmt.Errorf("%w: amount must be positive",
			ErrMissingAmount)
	}

	var recordsErr error
	payment.records.WhenSome(func(records record.CustomRecords) {
		recordsErr = records.Validate()
	})
	if recordsErr != nil {
		return nil, recordsErr
	}

	finalDelta := req.FinalTlcExpiryDelta.UnwrapOr(
		DefaultFinalTlcExpiryDelta,
	)
	limit := req.TlcExpiryLimit.UnwrapOr(DefaultTlcExpiryLimit)

	if req.MaxParts.UnwrapOr(1) > 1 {
		log.Debugf("Payment %v allows %v parts, routing as a single "+
			"part", payment.hash, req.MaxParts.UnwrapOr(1))
	}

	route, err := r.cfg.PathFinder.FindRoute(&PaymentParams{
		Source:              r.cfg.SelfNode,
		Target:              target,
		Amount:              amt,
		FinalTlcExpiryDelta: finalDelta,
		HopHints:            req.HopHints,
	})
	if err != nil {
		return nil, err
	}

	if route.TotalTlcExpiry > limit {
		return nil, fmt.Errorf("%w: %v > %v", ErrExpiryTooLarge,
			route.TotalTlcExpiry, limit)
	}

	maxFee := req.MaxFeeAmount.UnwrapOr(uint128.Max)
	if route.Fee.Cmp(maxFee) > 0 {
		return nil, fmt.Errorf("%w: %v > %v", ErrFeeTooHigh, route.Fee,
			maxFee)
	}

	err = r.bandwidth.checkBandwidth(payment.asset, route.Nodes[0].Amount)
	if err != nil {
		return nil, err
	}

	payment.route = route

	return payment, nil
}

// decodeInvoice decodes a BOLT 11 payment request for the router's network
// and checks that it has not expired.
func (r *Router) decodeInvoice(payReq string) (*zpay32.Invoice, error) {
	invoice, err := zpay32.Decode(payReq, r.cfg.ChainParams)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvoice, err)
	}

	expiry := invoice.Timestamp.Add(invoice.Expiry())
	if r.cfg.Clock.Now().After(expiry) {
		return nil, fmt.Errorf("%w at %v", ErrInvoiceExpired, expiry)
	}

	return invoice, nil
}

// mergeInvoice fills the values the request left out from the invoice.
// Explicit request values take precedence.
func mergeInvoice(invoice *zpay32.Invoice, target *btcec.PublicKey,
	amount fn.Option[uint128.Uint128], hash fn.Option[lntypes.Hash]) (
	*btcec.PublicKey, fn.Option[uint128.Uint128], fn.Option[lntypes.Hash]) {

	if target == nil {
		target = invoice.Destination
	}

	if invoice.MilliSat != nil && amount.IsNone() {
		amount = fn.Some(uint128.From64(uint64(*invoice.MilliSat)))
	}

	if invoice.PaymentHash != nil && hash.IsNone() {
		hash = fn.Some(lntypes.Hash(*invoice.PaymentHash))
	}

	return target, amount, hash
}
