package paymentrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/lightningnetwork/lnd/lntypes"
)

// maxResponseSize bounds the replies the client reads.
const maxResponseSize = 1 << 20

// Client calls a payment gateway over JSON-RPC 2.0 on HTTP.
type Client struct {
	nextID uint64 // To be used atomically.

	url        string
	httpClient *http.Client
}

// NewClient creates a client for the gateway at url. A nil httpClient selects
// http.DefaultClient.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		url:        url,
		httpClient: httpClient,
	}
}

// SendPayment calls send_payment. Gateway errors are returned as
// *btcjson.RPCError.
func (c *Client) SendPayment(ctx context.Context,
	params *SendPaymentParams) (*PaymentResult, error) {

	var result PaymentResult
	if err := c.call(ctx, MethodSendPayment, params, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// GetPayment calls get_payment.
func (c *Client) GetPayment(ctx context.Context,
	hash lntypes.Hash) (*PaymentResult, error) {

	paymentHash := Hash256(hash)
	params := &GetPaymentParams{PaymentHash: &paymentHash}

	var result PaymentResult
	if err := c.call(ctx, MethodGetPayment, params, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// call makes a single request with params as the only positional parameter
// and decodes the result into result.
func (c *Client) call(ctx context.Context, method string, params,
	result interface{}) error {

	id := atomic.AddUint64(&c.nextID, 1)
	req, err := btcjson.NewRequest(
		btcjson.RpcVersion2, id, method, []interface{}{params},
	)
	if err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.url, bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %v",
			httpResp.Status)
	}

	respBody, err := io.ReadAll(io.LimitReader(
		httpResp.Body, maxResponseSize,
	))
	if err != nil {
		return err
	}

	var resp btcjson.Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}

	if resp.Error != nil {
		return resp.Error
	}

	return json.Unmarshal(resp.Result, result)
}
