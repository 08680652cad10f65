package rpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
)

var (
	// errParamsCount is returned when positional parameters do not hold
	// exactly one object.
	errParamsCount = errors.New("params must be a single object or an " +
		"array holding one object")

	nullJSON = []byte("null")
)

// HandlerFunc executes one JSON-RPC method. params holds the raw "params"
// member of the request, which may be empty. Errors that implement
// RPCErrorer are reported as is, any other error is reported as an internal
// error.
type HandlerFunc func(ctx context.Context,
	params json.RawMessage) (interface{}, error)

// Registrar is implemented by servers that methods can be attached to.
type Registrar interface {
	// RegisterMethod attaches handler to method. Registering a method
	// twice is an error.
	RegisterMethod(method string, handler HandlerFunc) error
}

// RPCErrorer is an error that knows its JSON-RPC representation.
type RPCErrorer interface {
	error

	// RPCError returns the error object sent to the caller.
	RPCError() *btcjson.RPCError
}

// ParseParams decodes the params of a request into v. Both positional form,
// an array holding a single object, and named form, the object itself, are
// accepted. Empty or null params leave v untouched.
func ParseParams(raw json.RawMessage, v interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, nullJSON) {
		return nil
	}

	if trimmed[0] == '[' {
		var positional []json.RawMessage
		if err := json.Unmarshal(trimmed, &positional); err != nil {
			return err
		}

		switch len(positional) {
		case 0:
			return nil

		case 1:
			trimmed = positional[0]

		default:
			return fmt.Errorf("%w: got %d elements", errParamsCount,
				len(positional))
		}
	}

	return json.Unmarshal(trimmed, v)
}

// request is a JSON-RPC 2.0 request object.
type request struct {
	Jsonrpc btcjson.RPCVersion `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  json.RawMessage    `json:"params"`

	// ID is kept raw so that an absent id, which marks a notification,
	// can be told apart from a null one.
	ID json.RawMessage `json:"id"`
}

// isNotification reports whether the caller expects no response.
func (r *request) isNotification() bool {
	return len(r.ID) == 0
}

// id decodes the request id. Ids that are neither numbers, strings nor
// null are reported as invalid.
func (r *request) id() (interface{}, bool) {
	if r.isNotification() {
		return nil, true
	}

	var id interface{}
	if err := json.Unmarshal(r.ID, &id); err != nil {
		return nil, false
	}

	return id, btcjson.IsValidIDType(id)
}

// marshalResponse builds a JSON-RPC 2.0 response.
func marshalResponse(id interface{}, result interface{},
	rpcErr *btcjson.RPCError) []byte {

	resp, err := btcjson.MarshalResponse(
		btcjson.RpcVersion2, id, result, rpcErr,
	)
	if err == nil {
		return resp
	}

	// The result could not be encoded, report that instead.
	log.Errorf("Unable to marshal response for id %v: %v", id, err)

	resp, err = btcjson.MarshalResponse(
		btcjson.RpcVersion2, id, nil, internalError(err),
	)
	if err != nil {
		log.Errorf("Unable to marshal error response: %v", err)
		return nil
	}

	return resp
}

// toRPCError converts a handler error into the object sent to the caller.
func toRPCError(err error) *btcjson.RPCError {
	var rpcErrorer RPCErrorer
	if errors.As(err, &rpcErrorer) {
		return rpcErrorer.RPCError()
	}

	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	return internalError(err)
}

func internalError(err error) *btcjson.RPCError {
	return btcjson.NewRPCError(btcjson.ErrRPCInternal.Code, err.Error())
}
