package paymentrpc

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/tlcpay/paygate/actor"
	"github.com/tlcpay/paygate/hexcodec"
)

// ErrRPCCallFailed is the JSON-RPC code of errors raised while executing an
// otherwise well formed call.
const ErrRPCCallFailed btcjson.RPCErrorCode = -32000

// ErrorCode is an enum that defines the kinds of error a payment call can
// end with. Every error returned to a caller carries exactly one code.
type ErrorCode uint16

const (
	// CodeMalformedEncoding indicates that a parameter could not be
	// decoded from its wire form.
	CodeMalformedEncoding ErrorCode = 1

	// CodeValidationError indicates that the parameters decoded but do not
	// describe a valid request.
	CodeValidationError ErrorCode = 2

	// CodeUnreachable indicates that the payment processor could not be
	// reached or went away before replying. The call may be retried.
	CodeUnreachable ErrorCode = 3

	// CodeTimeout indicates that the payment processor did not reply in
	// time. The call may be retried.
	CodeTimeout ErrorCode = 4

	// CodeDomainFailure indicates that the payment processor refused the
	// command.
	CodeDomainFailure ErrorCode = 5
)

// String returns the name of the code, used as the prefix of error messages
// on the wire.
func (c ErrorCode) String() string {
	switch c {
	case CodeMalformedEncoding:
		return "MalformedEncoding"

	case CodeValidationError:
		return "ValidationError"

	case CodeUnreachable:
		return "Unreachable"

	case CodeTimeout:
		return "Timeout"

	case CodeDomainFailure:
		return "DomainFailure"

	default:
		return fmt.Sprintf("Unknown(%d)", uint16(c))
	}
}

// RPCCode returns the JSON-RPC error code the kind is reported with.
func (c ErrorCode) RPCCode() btcjson.RPCErrorCode {
	switch c {
	case CodeMalformedEncoding, CodeValidationError:
		return btcjson.ErrRPCInvalidParams.Code

	default:
		return ErrRPCCallFailed
	}
}

// Retryable returns true for kinds where the same call may succeed later.
func (c ErrorCode) Retryable() bool {
	return c == CodeUnreachable || c == CodeTimeout
}

// Compile time assertion that CodedError implements the error interface.
var _ error = (*CodedError)(nil)

// CodedError is an error that has been classified with an error code.
type CodedError struct {
	// ErrorCode is the kind of error.
	ErrorCode

	// Err is the underlying error.
	Err error
}

// NewCodedError creates an error with the code provided.
func NewCodedError(code ErrorCode, err error) *CodedError {
	return &CodedError{
		ErrorCode: code,
		Err:       err,
	}
}

// Error returns the kind followed by the underlying message.
func (e *CodedError) Error() string {
	return fmt.Sprintf("%v: %v", e.ErrorCode, e.Err)
}

// Unwrap returns the underlying error.
func (e *CodedError) Unwrap() error {
	return e.Err
}

// RPCError converts the error into a JSON-RPC error object.
func (e *CodedError) RPCError() *btcjson.RPCError {
	return btcjson.NewRPCError(e.RPCCode(), e.Error())
}

// ClassifyError assigns an error code to err. Processor errors are checked
// first so that a processor message that happens to wrap a bridge error is
// still reported as a domain failure.
func ClassifyError(err error) *CodedError {
	var (
		coded     *CodedError
		domainErr *actor.DomainError
		fieldErr  *FieldError
	)

	switch {
	case errors.As(err, &coded):
		return coded

	case errors.As(err, &domainErr):
		return NewCodedError(CodeDomainFailure, domainErr.Err)

	case errors.Is(err, hexcodec.ErrMalformedEncoding):
		return NewCodedError(CodeMalformedEncoding, err)

	case errors.As(err, &fieldErr):
		return NewCodedError(CodeValidationError, err)

	case errors.Is(err, actor.ErrUnreachable):
		return NewCodedError(CodeUnreachable, err)

	case errors.Is(err, actor.ErrTimeout):
		return NewCodedError(CodeTimeout, err)

	default:
		return NewCodedError(CodeDomainFailure, err)
	}
}

// ErrorToRPC classifies err and converts it into a JSON-RPC error object.
func ErrorToRPC(err error) *btcjson.RPCError {
	return ClassifyError(err).RPCError()
}
