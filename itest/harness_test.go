package itest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lntest/wait"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
	"github.com/tlcpay/paygate"
	"github.com/tlcpay/paygate/hexcodec"
	"github.com/tlcpay/paygate/paymentrpc"
)

const (
	// settleDelay is the time simulated payments take to settle.
	settleDelay = 200 * time.Millisecond

	// defaultTimeout bounds every wait for a payment outcome.
	defaultTimeout = 10 * time.Second
)

// harnessTest runs a gateway daemon on a local port and talks to it over
// JSON-RPC.
type harnessTest struct {
	*testing.T

	server *paygate.Server
	client *paymentrpc.Client
	addr   string
}

// newHarnessTest starts a daemon with the default configuration, modified by
// modify if it is non-nil. The daemon is stopped when the test ends.
func newHarnessTest(t *testing.T,
	modify func(cfg *paygate.Config)) *harnessTest {

	t.Helper()

	cfg := paygate.DefaultConfig()
	cfg.ActiveNetParams = &chaincfg.RegressionNetParams
	cfg.RPC.NoTLS = true
	cfg.Simnet.SettleDelay = settleDelay
	cfg.HealthChecks.Processor.Attempts = 0

	if modify != nil {
		modify(&cfg)
	}

	server, err := paygate.NewServer(&cfg, func(format string,
		params ...interface{}) {

		t.Logf("shutdown requested: "+format, params...)
	})
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	require.NoError(t, server.Start(lis))
	t.Cleanup(func() {
		require.NoError(t, server.Stop())
	})

	addr := lis.Addr().String()

	return &harnessTest{
		T:      t,
		server: server,
		client: paymentrpc.NewClient("http://"+addr, nil),
		addr:   addr,
	}
}

// ctx returns a context bounded by the default timeout.
func (h *harnessTest) ctx() context.Context {
	ctx, cancel := context.WithTimeout(
		context.Background(), defaultTimeout,
	)
	h.Cleanup(cancel)

	return ctx
}

// send calls send_payment and requires it to succeed.
func (h *harnessTest) send(
	params *paymentrpc.SendPaymentParams) *paymentrpc.PaymentResult {

	h.Helper()

	result, err := h.client.SendPayment(h.ctx(), params)
	require.NoError(h, err)

	return result
}

// sendErr calls send_payment and requires it to fail with the given code.
// The error message is returned.
func (h *harnessTest) sendErr(params *paymentrpc.SendPaymentParams,
	code btcjson.RPCErrorCode) string {

	h.Helper()

	_, err := h.client.SendPayment(h.ctx(), params)

	return h.requireRPCError(err, code)
}

func (h *harnessTest) requireRPCError(err error,
	code btcjson.RPCErrorCode) string {

	h.Helper()

	require.Error(h, err)

	rpcErr, ok := err.(*btcjson.RPCError)
	require.True(h, ok, "expected RPC error, got %v", err)
	require.Equal(h, code, rpcErr.Code, rpcErr.Message)

	return rpcErr.Message
}

// assertStatus waits until get_payment reports the payment in the given
// status and returns the last result.
func (h *harnessTest) assertStatus(hash lntypes.Hash,
	status string) *paymentrpc.PaymentResult {

	h.Helper()

	var result *paymentrpc.PaymentResult
	err := wait.NoError(func() error {
		var err error
		result, err = h.client.GetPayment(h.ctx(), hash)
		if err != nil {
			return err
		}

		if result.Status != status {
			return fmt.Errorf("payment %v is %v, want %v", hash,
				result.Status, status)
		}

		return nil
	}, defaultTimeout)
	require.NoError(h, err)

	return result
}

// post sends a raw JSON-RPC body and returns the raw response body.
func (h *harnessTest) post(body string) (int, []byte) {
	h.Helper()

	req, err := http.NewRequestWithContext(
		h.ctx(), http.MethodPost, "http://"+h.addr,
		bytes.NewReader([]byte(body)),
	)
	require.NoError(h, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(h, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(h, err)

	return resp.StatusCode, respBody
}

// get fetches one of the daemon's plain HTTP endpoints.
func (h *harnessTest) get(path string) (int, string) {
	h.Helper()

	req, err := http.NewRequestWithContext(
		h.ctx(), http.MethodGet, "http://"+h.addr+path, nil,
	)
	require.NoError(h, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(h, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(h, err)

	return resp.StatusCode, string(body)
}

// newNode returns the public key of a fresh node.
func newNode(t *testing.T) *paymentrpc.Pubkey {
	t.Helper()

	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return &paymentrpc.Pubkey{PublicKey: privKey.PubKey()}
}

// newHash returns a payment hash unique to the seed.
func newHash(seed byte) lntypes.Hash {
	preimage := lntypes.Preimage{seed}
	return preimage.Hash()
}

func hashParam(hash lntypes.Hash) *paymentrpc.Hash256 {
	paymentHash := paymentrpc.Hash256(hash)
	return &paymentHash
}

func amountParam(amt uint64) *hexcodec.U128 {
	amount := hexcodec.U128From64(amt)
	return &amount
}

func boolParam(b bool) *bool {
	return &b
}

// rpcResponse is a single JSON-RPC response as seen on the wire.
type rpcResponse struct {
	Jsonrpc string            `json:"jsonrpc"`
	Result  json.RawMessage   `json:"result"`
	Error   *btcjson.RPCError `json:"error"`
	ID      *json.RawMessage  `json:"id"`
}
