package routing

import (
	"context"
	"crypto/sha256"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/stretchr/testify/require"
	"github.com/tlcpay/paygate/actor"
	"github.com/tlcpay/paygate/fn"
	"github.com/tlcpay/paygate/record"
	"lukechampine.com/uint128"
)

var (
	testTime = time.Unix(1_700_000_000, 0)

	testHash = lntypes.Hash{1, 2, 3}

	testChainParams = &chaincfg.RegressionNetParams
)

// mockDispatcher records attempts and fails them with err if set.
type mockDispatcher struct {
	mu       sync.Mutex
	attempts []*Attempt
	err      error
}

func (m *mockDispatcher) Dispatch(attempt *Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.attempts = append(m.attempts, attempt)

	return nil
}

func (m *mockDispatcher) numAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.attempts)
}

type routerTestContext struct {
	t          *testing.T
	router     *Router
	clock      *clock.TestClock
	ticker     *ticker.Force
	dispatcher *mockDispatcher
	self       *btcec.PublicKey
}

func newRouterTestContext(t *testing.T,
	bandwidth BandwidthHints) *routerTestContext {

	ctx := &routerTestContext{
		t:          t,
		clock:      clock.NewTestClock(testTime),
		ticker:     ticker.NewForce(time.Hour),
		dispatcher: &mockDispatcher{},
		self:       testKey(1),
	}

	ctx.router = New(&Config{
		SelfNode:      ctx.self,
		ChainParams:   testChainParams,
		Clock:         ctx.clock,
		PathFinder:    &HintPathFinder{},
		Bandwidth:     bandwidth,
		Dispatcher:    ctx.dispatcher,
		TimeoutTicker: ctx.ticker,
	})
	require.NoError(t, ctx.router.Start())
	t.Cleanup(func() {
		require.NoError(t, ctx.router.Stop())
	})

	return ctx
}

func (c *routerTestContext) call(
	build func(SessionReply) Command) (*PaymentSession, error) {

	var mailbox actor.Mailbox[Command] = c.router

	return actor.Call(
		context.Background(), mailbox, time.Second,
		func(reply chan<- fn.Result[*PaymentSession]) Command {
			return build(reply)
		},
	)
}

func (c *routerTestContext) send(req *SendPaymentRequest) (*PaymentSession,
	error) {

	return c.call(func(reply SessionReply) Command {
		return &SendPaymentCommand{Request: req, Reply: reply}
	})
}

func (c *routerTestContext) quote(req *SendPaymentRequest) (*PaymentSession,
	error) {

	return c.call(func(reply SessionReply) Command {
		return &QuotePaymentCommand{Request: req, Reply: reply}
	})
}

func (c *routerTestContext) get(hash lntypes.Hash) (*PaymentSession, error) {
	return c.call(func(reply SessionReply) Command {
		return &GetPaymentCommand{PaymentHash: hash, Reply: reply}
	})
}

// basicRequest returns a valid payment of amt to a peer of the local node.
func basicRequest(amt uint64) *SendPaymentRequest {
	return &SendPaymentRequest{
		TargetPubkey: testKey(2),
		Amount:       fn.Some(uint128.From64(amt)),
		PaymentHash:  fn.Some(testHash),
	}
}

func TestRouterPaymentLifecycle(t *testing.T) {
	t.Parallel()

	ctx := newRouterTestContext(t, nil)

	session, err := ctx.send(basicRequest(1000))
	require.NoError(t, err)
	require.Equal(t, StatusInflight, session.Status)
	require.Equal(t, testHash, session.PaymentHash)
	require.Equal(t, uint64(testTime.UnixMilli()), session.CreatedAt)
	require.True(t, session.FailedError.IsNone())
	require.Equal(t, 1, ctx.dispatcher.numAttempts())

	fetched, err := ctx.get(testHash)
	require.NoError(t, err)
	require.Equal(t, session, fetched)

	// A second payment with the same hash is refused while the first one
	// is pending.
	_, err = ctx.send(basicRequest(1000))
	require.ErrorIs(t, err, ErrDuplicatePayment)

	ctx.clock.SetTime(testTime.Add(time.Minute))
	settled, err := ctx.router.ResolvePayment(
		context.Background(), testHash, fn.None[string](),
	)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, settled.Status)
	require.Equal(
		t, uint64(testTime.Add(time.Minute).UnixMilli()),
		settled.LastUpdatedAt,
	)

	// Terminal states can't be left.
	_, err = ctx.router.ResolvePayment(
		context.Background(), testHash, fn.Some("late failure"),
	)
	require.ErrorIs(t, err, ErrInvalidTransition)

	fetched, err = ctx.get(testHash)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, fetched.Status)

	_, err = ctx.get(lntypes.Hash{9})
	require.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestRouterRetryFailedPayment(t *testing.T) {
	t.Parallel()

	ctx := newRouterTestContext(t, nil)

	_, err := ctx.send(basicRequest(1000))
	require.NoError(t, err)

	failed, err := ctx.router.ResolvePayment(
		context.Background(), testHash, fn.Some("no route"),
	)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, failed.Status)
	require.Equal(t, "no route", failed.FailedError.UnwrapOr(""))

	retry, err := ctx.send(basicRequest(1000))
	require.NoError(t, err)
	require.Equal(t, StatusInflight, retry.Status)
	require.True(t, retry.FailedError.IsNone())
}

// TestRouterQuote asserts that quotes cost a payment without creating a
// session or dispatching anything.
func TestRouterQuote(t *testing.T) {
	t.Parallel()

	ctx := newRouterTestContext(t, nil)

	req := basicRequest(1_000_000)
	req.HopHints = []HopHint{testHint(testKey(3), 0, 5, 10)}

	quote, err := ctx.quote(req)
	require.NoError(t, err)
	require.Equal(t, StatusCreated, quote.Status)
	require.Equal(t, uint128.From64(5), quote.Fee)
	require.Equal(t, 2, quote.Route.HopCount())

	_, err = ctx.get(testHash)
	require.ErrorIs(t, err, ErrPaymentNotFound)
	require.Zero(t, ctx.dispatcher.numAttempts())

	// Quoting again, or paying afterwards, is unaffected.
	_, err = ctx.quote(req)
	require.NoError(t, err)

	session, err := ctx.send(req)
	require.NoError(t, err)
	require.Equal(t, quote.Fee, session.Fee)
}

func TestRouterRejections(t *testing.T) {
	t.Parallel()

	asset := AssetScript{HashType: HashTypeType, Args: []byte{7}}

	tests := []struct {
		name   string
		mutate func(*SendPaymentRequest)
		err    error
	}{
		{
			name: "missing target",
			mutate: func(r *SendPaymentRequest) {
				r.TargetPubkey = nil
			},
			err: ErrMissingTarget,
		},
		{
			name: "missing amount",
			mutate: func(r *SendPaymentRequest) {
				r.Amount = fn.None[uint128.Uint128]()
			},
			err: ErrMissingAmount,
		},
		{
			name: "zero amount",
			mutate: func(r *SendPaymentRequest) {
				r.Amount = fn.Some(uint128.Zero)
			},
			err: ErrMissingAmount,
		},
		{
			name: "missing hash",
			mutate: func(r *SendPaymentRequest) {
				r.PaymentHash = fn.None[lntypes.Hash]()
			},
			err: ErrMissingPaymentHash,
		},
		{
			name: "keysend with hash",
			mutate: func(r *SendPaymentRequest) {
				r.Keysend = fn.Some(true)
			},
			err: ErrKeysendWithHash,
		},
		{
			name: "self payment",
			mutate: func(r *SendPaymentRequest) {
				r.TargetPubkey = testKey(1)
			},
			err: ErrSelfPayment,
		},
		{
			name: "reserved record key",
			mutate: func(r *SendPaymentRequest) {
				r.CustomRecords = fn.Some(record.CustomRecords{
					record.UserRecordsMaxKey + 1: {1},
				})
			},
			err: record.ErrInvalidCustomRecords,
		},
		{
			name: "fee too high",
			mutate: func(r *SendPaymentRequest) {
				r.HopHints = []HopHint{
					testHint(testKey(3), 0, 1000, 10),
				}
				r.MaxFeeAmount = fn.Some(uint128.From64(0))
			},
			err: ErrFeeTooHigh,
		},
		{
			name: "expiry too large",
			mutate: func(r *SendPaymentRequest) {
				r.HopHints = []HopHint{
					testHint(testKey(3), 0, 0, 10),
				}
				r.FinalTlcExpiryDelta = fn.Some(uint64(100))
				r.TlcExpiryLimit = fn.Some(uint64(109))
			},
			err: ErrExpiryTooLarge,
		},
		{
			name: "insufficient balance",
			mutate: func(r *SendPaymentRequest) {
				r.Amount = fn.Some(uint128.From64(1001))
			},
			err: ErrInsufficientBalance,
		},
		{
			name: "unknown asset",
			mutate: func(r *SendPaymentRequest) {
				r.UdtTypeScript = fn.Some(asset)
			},
			err: ErrInsufficientBalance,
		},
		{
			name: "invalid invoice",
			mutate: func(r *SendPaymentRequest) {
				r.Invoice = fn.Some("lnbcrt1garbage")
			},
			err: ErrInvalidInvoice,
		},
	}

	for _, testCase := range tests {
		testCase := testCase

		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			ctx := newRouterTestContext(t, &StaticBandwidth{
				Native: uint128.From64(1000),
			})

			req := basicRequest(1000)
			testCase.mutate(req)

			_, err := ctx.quote(req)
			require.ErrorIs(t, err, testCase.err)

			_, err = ctx.send(req)
			require.ErrorIs(t, err, testCase.err)

			var domainErr *actor.DomainError
			require.True(t, errors.As(err, &domainErr))

			require.Zero(t, ctx.dispatcher.numAttempts())
		})
	}
}

func TestRouterBalanceCommitted(t *testing.T) {
	t.Parallel()

	ctx := newRouterTestContext(t, &StaticBandwidth{
		Native: uint128.From64(1500),
	})

	_, err := ctx.send(basicRequest(1000))
	require.NoError(t, err)

	second := basicRequest(1000)
	second.PaymentHash = fn.Some(lntypes.Hash{2})
	_, err = ctx.send(second)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// Once the first payment failed its funds can be used again.
	_, err = ctx.router.ResolvePayment(
		context.Background(), testHash, fn.Some("failed"),
	)
	require.NoError(t, err)

	_, err = ctx.send(second)
	require.NoError(t, err)
}

func TestRouterKeysend(t *testing.T) {
	t.Parallel()

	ctx := newRouterTestContext(t, nil)

	req := basicRequest(1000)
	req.PaymentHash = fn.None[lntypes.Hash]()
	req.Keysend = fn.Some(true)

	session, err := ctx.send(req)
	require.NoError(t, err)

	require.Equal(t, 1, ctx.dispatcher.numAttempts())
	attempt := ctx.dispatcher.attempts[0]
	require.True(t, attempt.Preimage.IsSome())

	preimage := attempt.Preimage.UnwrapOr(lntypes.Preimage{})
	require.Equal(
		t, lntypes.Hash(sha256.Sum256(preimage[:])),
		session.PaymentHash,
	)
}

func TestRouterDispatchFailure(t *testing.T) {
	t.Parallel()

	ctx := newRouterTestContext(t, nil)
	ctx.dispatcher.err = errors.New("peer offline")

	// Dispatch failures end the session, they are not request errors.
	session, err := ctx.send(basicRequest(1000))
	require.NoError(t, err)
	require.Equal(t, StatusFailed, session.Status)
	require.Equal(t, "peer offline", session.FailedError.UnwrapOr(""))
}

func TestRouterPaymentTimeout(t *testing.T) {
	t.Parallel()

	ctx := newRouterTestContext(t, nil)

	req := basicRequest(1000)
	req.Timeout = fn.Some(uint64(10))

	_, err := ctx.send(req)
	require.NoError(t, err)

	// Before the deadline the sweeper leaves the payment alone.
	ctx.clock.SetTime(testTime.Add(9 * time.Second))
	ctx.ticker.Force <- testTime

	session, err := ctx.get(testHash)
	require.NoError(t, err)
	require.Equal(t, StatusInflight, session.Status)

	ctx.clock.SetTime(testTime.Add(10 * time.Second))
	ctx.ticker.Force <- testTime

	session, err = ctx.get(testHash)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, session.Status)
	require.Equal(t, "payment timed out", session.FailedError.UnwrapOr(""))
}

// TestRouterPaymentTimeoutUnbounded checks that timeouts too large to add to
// the current time never expire.
func TestRouterPaymentTimeoutUnbounded(t *testing.T) {
	t.Parallel()

	ctx := newRouterTestContext(t, nil)

	req := basicRequest(1000)
	req.Timeout = fn.Some(uint64(1 << 62))

	_, err := ctx.send(req)
	require.NoError(t, err)

	ctx.clock.SetTime(testTime.Add(24 * time.Hour))
	ctx.ticker.Force <- testTime

	session, err := ctx.get(testHash)
	require.NoError(t, err)
	require.Equal(t, StatusInflight, session.Status)
	require.True(t, session.FailedError.IsNone())
}

func TestPaymentDeadline(t *testing.T) {
	t.Parallel()

	now := uint64(testTime.UnixMilli())

	tests := []struct {
		name     string
		timeout  uint64
		expected uint64
	}{
		{
			name:     "no timeout",
			timeout:  0,
			expected: 0,
		},
		{
			name:     "ten seconds",
			timeout:  10,
			expected: now + 10_000,
		},
		{
			name:     "largest representable",
			timeout:  (math.MaxUint64 - now) / 1000,
			expected: now + (math.MaxUint64-now)/1000*1000,
		},
		{
			name:     "overflows milliseconds",
			timeout:  (math.MaxUint64-now)/1000 + 1,
			expected: 0,
		},
		{
			name:     "max",
			timeout:  math.MaxUint64,
			expected: 0,
		},
	}

	for _, testCase := range tests {
		testCase := testCase

		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(
				t, testCase.expected,
				paymentDeadline(now, testCase.timeout),
			)
		})
	}
}

func TestRouterShutdown(t *testing.T) {
	t.Parallel()

	router := New(&Config{
		SelfNode:      testKey(1),
		Clock:         clock.NewTestClock(testTime),
		PathFinder:    &HintPathFinder{},
		Dispatcher:    &mockDispatcher{},
		TimeoutTicker: ticker.NewForce(time.Hour),
	})

	err := router.Send(context.Background(), &GetPaymentCommand{})
	require.ErrorIs(t, err, ErrRouterNotStarted)
	require.ErrorIs(t, err, actor.ErrUnreachable)

	require.NoError(t, router.Start())
	require.NoError(t, router.Stop())

	err = router.Send(context.Background(), &GetPaymentCommand{})
	require.ErrorIs(t, err, ErrRouterShuttingDown)
	require.ErrorIs(t, err, actor.ErrUnreachable)
}

// TestRouterDrainOnStop asserts that commands queued when the router stops
// are answered rather than dropped.
func TestRouterDrainOnStop(t *testing.T) {
	t.Parallel()

	router := New(&Config{
		SelfNode:      testKey(1),
		Clock:         clock.NewTestClock(testTime),
		PathFinder:    &HintPathFinder{},
		Dispatcher:    &mockDispatcher{},
		TimeoutTicker: ticker.NewForce(time.Hour),
	})

	// Queue a command without a running loop, then start and stop the
	// router in one go. The command is either served or drained.
	reply := make(chan fn.Result[*PaymentSession], 1)
	router.commands <- &GetPaymentCommand{Reply: reply}

	require.NoError(t, router.Start())
	require.NoError(t, router.Stop())

	select {
	case res := <-reply:
		_, err := res.Unpack()
		require.True(
			t, errors.Is(err, ErrPaymentNotFound) ||
				errors.Is(err, ErrRouterShuttingDown),
		)

	default:
		t.Fatalf("queued command was not answered")
	}
}

// newTestInvoice returns an encoded invoice for amt signed by the key with
// the given seed.
func newTestInvoice(t *testing.T, seed byte, hash lntypes.Hash,
	amt lnwire.MilliSatoshi, timestamp time.Time) string {

	t.Helper()

	var keyBytes [32]byte
	keyBytes[31] = seed
	privKey, _ := btcec.PrivKeyFromBytes(keyBytes[:])

	invoice, err := zpay32.NewInvoice(
		testChainParams, hash, timestamp, zpay32.Amount(amt),
		zpay32.Description("test"),
	)
	require.NoError(t, err)

	payReq, err := invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			digest := chainhash.HashB(msg)
			return ecdsa.SignCompact(privKey, digest, true)
		},
	})
	require.NoError(t, err)

	return payReq
}

func TestRouterInvoice(t *testing.T) {
	t.Parallel()

	ctx := newRouterTestContext(t, nil)
	payReq := newTestInvoice(t, 2, testHash, 5000, testTime)

	// Everything can come from the invoice.
	quote, err := ctx.quote(&SendPaymentRequest{
		Invoice: fn.Some(payReq),
	})
	require.NoError(t, err)
	require.Equal(t, testHash, quote.PaymentHash)

	target := quote.Route.Nodes[quote.Route.HopCount()-1]
	require.True(t, target.Pubkey.IsEqual(testKey(2)))
	require.Equal(t, uint128.From64(5000), target.Amount)

	// Explicit values override the invoice.
	quote, err = ctx.quote(&SendPaymentRequest{
		Invoice: fn.Some(payReq),
		Amount:  fn.Some(uint128.From64(4000)),
	})
	require.NoError(t, err)
	target = quote.Route.Nodes[quote.Route.HopCount()-1]
	require.Equal(t, uint128.From64(4000), target.Amount)
	require.True(t, target.Pubkey.IsEqual(testKey(2)))

	otherHash := lntypes.Hash{0x01, 0x02}
	quote, err = ctx.quote(&SendPaymentRequest{
		Invoice:      fn.Some(payReq),
		TargetPubkey: testKey(3),
		PaymentHash:  fn.Some(otherHash),
	})
	require.NoError(t, err)
	require.Equal(t, otherHash, quote.PaymentHash)
	target = quote.Route.Nodes[quote.Route.HopCount()-1]
	require.True(t, target.Pubkey.IsEqual(testKey(3)))
	require.Equal(t, uint128.From64(5000), target.Amount)

	// The default invoice expiry is one hour.
	ctx.clock.SetTime(testTime.Add(2 * time.Hour))
	_, err = ctx.quote(&SendPaymentRequest{
		Invoice: fn.Some(payReq),
	})
	require.ErrorIs(t, err, ErrInvoiceExpired)
}
