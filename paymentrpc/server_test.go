package paymentrpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/tlcpay/paygate/actor"
	"github.com/tlcpay/paygate/fn"
	"github.com/tlcpay/paygate/hexcodec"
	"github.com/tlcpay/paygate/routing"
	"github.com/tlcpay/paygate/rpcserver"
	"lukechampine.com/uint128"
)

// mockProcessor is a payment processor that records every command and
// answers with the result of its handler. Commands the handler returns
// nil for are never answered.
type mockProcessor struct {
	sync.Mutex

	commands []routing.Command
	sendErr  error
	handler  func(routing.Command) *fn.Result[*routing.PaymentSession]
}

func (m *mockProcessor) Send(_ context.Context, cmd routing.Command) error {
	m.Lock()
	defer m.Unlock()

	if m.sendErr != nil {
		return m.sendErr
	}

	m.commands = append(m.commands, cmd)

	if m.handler == nil {
		return nil
	}

	result := m.handler(cmd)
	if result == nil {
		return nil
	}

	var reply routing.SessionReply
	switch c := cmd.(type) {
	case *routing.SendPaymentCommand:
		reply = c.Reply
	case *routing.QuotePaymentCommand:
		reply = c.Reply
	case *routing.GetPaymentCommand:
		reply = c.Reply
	}
	reply <- *result

	return nil
}

func (m *mockProcessor) received() []routing.Command {
	m.Lock()
	defer m.Unlock()

	return append([]routing.Command(nil), m.commands...)
}

func replyWith(session *routing.PaymentSession,
	err error) func(routing.Command) *fn.Result[*routing.PaymentSession] {

	return func(routing.Command) *fn.Result[*routing.PaymentSession] {
		result := fn.NewResult(session, err)
		return &result
	}
}

func newTestServer(t *testing.T, processor *mockProcessor,
	timeout time.Duration) *Server {

	t.Helper()

	return New(&Config{
		Processor:   processor,
		CallTimeout: timeout,
		Registerer:  prometheus.NewRegistry(),
	})
}

// rpcError returns the JSON-RPC error err is reported as.
func rpcError(t *testing.T, err error) (int, string) {
	t.Helper()

	var coded *CodedError
	require.True(t, errors.As(err, &coded), "unclassified error %v", err)

	rpcErr := coded.RPCError()

	return int(rpcErr.Code), rpcErr.Message
}

// TestSendPaymentSuccess sends a payment identified by hash to a processor
// that settles it at once.
func TestSendPaymentSuccess(t *testing.T) {
	t.Parallel()

	hash := lntypes.Hash{0x42}
	processor := &mockProcessor{
		handler: replyWith(&routing.PaymentSession{
			PaymentHash:   hash,
			Status:        routing.StatusSuccess,
			CreatedAt:     1,
			LastUpdatedAt: 2,
			Fee:           uint128.From64(5),
		}, nil),
	}
	server := newTestServer(t, processor, time.Second)

	raw := `[{
		"target_pubkey": "` + hexPubkey(testPubkey(2)) + `",
		"amount": "0x64",
		"payment_hash": "` + hashHex(hash) + `",
		"allow_self_payment": null,
		"dry_run": null
	}]`

	result, err := server.handleSendPayment(
		context.Background(), json.RawMessage(raw),
	)
	require.NoError(t, err)

	encoded, err := json.Marshal(result)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(encoded, &fields))
	require.JSONEq(
		t, `"`+hashHex(hash)+`"`,
		string(fields["payment_hash"]),
	)
	require.JSONEq(t, `"Success"`, string(fields["status"]))
	require.JSONEq(t, `"0x5"`, string(fields["fee"]))
	require.JSONEq(t, `null`, string(fields["failed_error"]))

	// Exactly one mutating command reaches the processor, with absent
	// booleans defaulted to false.
	commands := processor.received()
	require.Len(t, commands, 1)

	send, ok := commands[0].(*routing.SendPaymentCommand)
	require.True(t, ok)
	require.False(t, send.Request.AllowSelfPayment)
	require.Equal(
		t, uint128.From64(100),
		send.Request.Amount.UnwrapOr(uint128.Zero),
	)
	require.Equal(t, hash, send.Request.PaymentHash.UnwrapOr(
		lntypes.Hash{},
	))

	require.Equal(t, 1.0, testutil.ToFloat64(
		server.metrics.sessions.WithLabelValues(
			MethodSendPayment, "Success",
		),
	))
}

// TestSendPaymentMissingIdentifier checks that a request without hash or
// invoice is refused before the processor is contacted.
func TestSendPaymentMissingIdentifier(t *testing.T) {
	t.Parallel()

	processor := &mockProcessor{}
	server := newTestServer(t, processor, time.Second)

	raw := `[{
		"target_pubkey": "` + hexPubkey(testPubkey(2)) + `",
		"amount": "0x64"
	}]`

	_, err := server.handleSendPayment(
		context.Background(), json.RawMessage(raw),
	)
	code, msg := rpcError(t, err)
	require.Equal(t, -32602, code)
	require.Equal(t, "ValidationError: missing payment identifier", msg)

	require.Empty(t, processor.received())
	require.Equal(t, 1.0, testutil.ToFloat64(
		server.metrics.errors.WithLabelValues(
			MethodSendPayment, "ValidationError",
		),
	))
}

func TestSendPaymentMalformed(t *testing.T) {
	t.Parallel()

	processor := &mockProcessor{}
	server := newTestServer(t, processor, time.Second)

	raws := []string{
		`[{"amount": "100", "payment_hash": "0x` +
			repeatHex("00", 32) + `"}]`,
		`[{"payment_hash": 12}]`,
		`{"keysend": "yes"}`,
		`[1, 2]`,
	}
	for _, raw := range raws {
		_, err := server.handleSendPayment(
			context.Background(), json.RawMessage(raw),
		)
		code, msg := rpcError(t, err)
		require.Equal(t, -32602, code, raw)
		require.Contains(t, msg, "MalformedEncoding: ", raw)
	}

	require.Empty(t, processor.received())
}

// TestSendPaymentDryRun checks that a dry run only ever issues the read-only
// quote command.
func TestSendPaymentDryRun(t *testing.T) {
	t.Parallel()

	hash := lntypes.Hash{0x42}
	processor := &mockProcessor{
		handler: replyWith(&routing.PaymentSession{
			PaymentHash: hash,
			Status:      routing.StatusCreated,
			Fee:         uint128.From64(3),
		}, nil),
	}
	server := newTestServer(t, processor, time.Second)

	hash256 := Hash256(hash)
	result, err := server.SendPayment(context.Background(),
		&SendPaymentParams{
			TargetPubkey: &Pubkey{testPubkey(2)},
			PaymentHash:  &hash256,
			DryRun:       boolPtr(true),
		},
	)
	require.NoError(t, err)
	require.Equal(t, "Created", result.Status)

	commands := processor.received()
	require.Len(t, commands, 1)

	quote, ok := commands[0].(*routing.QuotePaymentCommand)
	require.True(t, ok)
	require.True(t, quote.ReadOnly())
}

func TestSendPaymentDomainFailure(t *testing.T) {
	t.Parallel()

	processor := &mockProcessor{
		handler: replyWith(nil, routing.ErrDuplicatePayment),
	}
	server := newTestServer(t, processor, time.Second)

	hash := Hash256{1}
	_, err := server.SendPayment(context.Background(), &SendPaymentParams{
		PaymentHash: &hash,
	})
	code, msg := rpcError(t, err)
	require.Equal(t, -32000, code)
	require.Equal(
		t, "DomainFailure: "+routing.ErrDuplicatePayment.Error(), msg,
	)
}

func TestSendPaymentUnreachable(t *testing.T) {
	t.Parallel()

	processor := &mockProcessor{
		sendErr: routing.ErrRouterShuttingDown,
	}
	server := newTestServer(t, processor, time.Second)

	hash := Hash256{1}
	_, err := server.SendPayment(context.Background(), &SendPaymentParams{
		PaymentHash: &hash,
	})
	code, msg := rpcError(t, err)
	require.Equal(t, -32000, code)
	require.Contains(t, msg, "Unreachable: ")
}

// TestCallTimeoutIsolation checks that a processor which never answers one
// call fails only that call, with a timeout.
func TestCallTimeoutIsolation(t *testing.T) {
	t.Parallel()

	silent := lntypes.Hash{0x01}
	answered := lntypes.Hash{0x02}

	processor := &mockProcessor{
		handler: func(
			cmd routing.Command) *fn.Result[*routing.PaymentSession] {

			get := cmd.(*routing.GetPaymentCommand)
			if get.PaymentHash == silent {
				return nil
			}

			result := fn.Ok(&routing.PaymentSession{
				PaymentHash: get.PaymentHash,
				Status:      routing.StatusInflight,
			})

			return &result
		},
	}
	server := newTestServer(t, processor, 100*time.Millisecond)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, hash := range []lntypes.Hash{silent, answered} {
		i, hash := i, Hash256(hash)

		wg.Add(1)
		go func() {
			defer wg.Done()

			_, errs[i] = server.GetPayment(
				context.Background(), &GetPaymentParams{
					PaymentHash: &hash,
				},
			)
		}()
	}
	wg.Wait()

	code, msg := rpcError(t, errs[0])
	require.Equal(t, -32000, code)
	require.Contains(t, msg, "Timeout: ")
	require.NoError(t, errs[1])
}

func TestCallCanceled(t *testing.T) {
	t.Parallel()

	processor := &mockProcessor{}
	server := newTestServer(t, processor, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hash := Hash256{1}
	_, err := server.GetPayment(ctx, &GetPaymentParams{PaymentHash: &hash})
	code, _ := rpcError(t, err)
	require.Equal(t, -32000, code)
	require.True(t, errors.Is(err, actor.ErrTimeout))
}

// TestGetPaymentIdempotent checks that repeated reads of an unchanged
// session produce identical bytes.
func TestGetPaymentIdempotent(t *testing.T) {
	t.Parallel()

	processor := &mockProcessor{
		handler: replyWith(testSession(), nil),
	}
	server := newTestServer(t, processor, time.Second)

	raw := json.RawMessage(
		`[{"payment_hash": "` + hashHex(lntypes.Hash{0xab}) + `"}]`,
	)

	first, err := server.handleGetPayment(context.Background(), raw)
	require.NoError(t, err)
	second, err := server.handleGetPayment(context.Background(), raw)
	require.NoError(t, err)

	firstBytes, err := json.Marshal(first)
	require.NoError(t, err)
	secondBytes, err := json.Marshal(second)
	require.NoError(t, err)
	require.Equal(t, firstBytes, secondBytes)

	for _, cmd := range processor.received() {
		require.True(t, cmd.ReadOnly())
	}
}

func TestGetPaymentMissingHash(t *testing.T) {
	t.Parallel()

	processor := &mockProcessor{}
	server := newTestServer(t, processor, time.Second)

	_, err := server.handleGetPayment(
		context.Background(), json.RawMessage(`[{}]`),
	)
	code, msg := rpcError(t, err)
	require.Equal(t, -32602, code)
	require.Equal(t, "ValidationError: missing payment identifier", msg)
	require.Empty(t, processor.received())
}

func TestIncludeRouteToggle(t *testing.T) {
	t.Parallel()

	processor := &mockProcessor{
		handler: replyWith(testSession(), nil),
	}
	server := newTestServer(t, processor, time.Second)

	hash := Hash256{0xab}
	params := &GetPaymentParams{PaymentHash: &hash}

	result, err := server.GetPayment(context.Background(), params)
	require.NoError(t, err)
	require.Nil(t, result.Router)

	server.SetIncludeRoute(true)
	result, err = server.GetPayment(context.Background(), params)
	require.NoError(t, err)
	require.NotNil(t, result.Router)
	require.Len(t, result.Router.Nodes, 2)
}

type mapRegistrar map[string]rpcserver.HandlerFunc

func (m mapRegistrar) RegisterMethod(method string,
	handler rpcserver.HandlerFunc) error {

	if _, ok := m[method]; ok {
		return errors.New("duplicate method")
	}
	m[method] = handler

	return nil
}

func TestRegisterWithRPCServer(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &mockProcessor{}, time.Second)

	registrar := make(mapRegistrar)
	require.NoError(t, server.RegisterWithRPCServer(registrar))
	require.Contains(t, registrar, MethodSendPayment)
	require.Contains(t, registrar, MethodGetPayment)

	require.Error(t, server.RegisterWithRPCServer(registrar))
}

func hashHex(h lntypes.Hash) string {
	return hexcodec.EncodeBytes(h[:])
}
