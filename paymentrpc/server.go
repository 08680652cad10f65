// Package paymentrpc implements the send_payment and get_payment calls of the
// payment gateway: it decodes and normalizes untrusted parameters, relays the
// resulting command to the payment processor and projects the reply back
// into its wire form.
package paymentrpc

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tlcpay/paygate/actor"
	"github.com/tlcpay/paygate/rpcserver"
	"github.com/tlcpay/paygate/routing"
)

const (
	// MethodSendPayment is the name of the send_payment call.
	MethodSendPayment = "send_payment"

	// MethodGetPayment is the name of the get_payment call.
	MethodGetPayment = "get_payment"

	// DefaultCallTimeout bounds the wait for a processor reply.
	DefaultCallTimeout = 30 * time.Second
)

// Config holds the dependencies of the payment gateway.
type Config struct {
	// Processor is the mailbox of the payment command processor.
	Processor actor.Mailbox[routing.Command]

	// CallTimeout bounds the wait for each processor reply. Zero selects
	// DefaultCallTimeout.
	CallTimeout time.Duration

	// IncludeRoute adds the chosen route to every result. It can be
	// changed at runtime with SetIncludeRoute.
	IncludeRoute bool

	// Registerer receives the gateway metrics, nil disables registration.
	Registerer prometheus.Registerer
}

// Server is the payment gateway. It holds no per-call state and is safe for
// concurrent use.
type Server struct {
	cfg *Config

	includeRoute atomic.Bool

	metrics *metrics
}

// New creates a payment gateway.
func New(cfg *Config) *Server {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}

	s := &Server{
		cfg:     cfg,
		metrics: newMetrics(cfg.Registerer),
	}
	s.includeRoute.Store(cfg.IncludeRoute)

	return s
}

// SetIncludeRoute toggles the diagnostic route in results.
func (s *Server) SetIncludeRoute(include bool) {
	s.includeRoute.Store(include)
}

// RegisterWithRPCServer registers the payment calls.
func (s *Server) RegisterWithRPCServer(r rpcserver.Registrar) error {
	err := r.RegisterMethod(MethodSendPayment, s.handleSendPayment)
	if err != nil {
		return err
	}

	return r.RegisterMethod(MethodGetPayment, s.handleGetPayment)
}

// SendPayment normalizes the parameters and asks the processor to make the
// payment, or to quote it for dry runs. Errors are *CodedError.
func (s *Server) SendPayment(ctx context.Context,
	params *SendPaymentParams) (*PaymentResult, error) {

	cmd, err := Normalize(params)
	if err != nil {
		return nil, s.fail(MethodSendPayment, err)
	}

	log.Tracef("send_payment dry_run=%v, keysend=%v", cmd.DryRun,
		cmd.Request.IsKeysend())

	session, err := actor.Call(
		ctx, s.cfg.Processor, s.cfg.CallTimeout, cmd.Build,
	)
	if err != nil {
		return nil, s.fail(MethodSendPayment, err)
	}

	return s.project(MethodSendPayment, session)
}

// GetPayment returns the latest snapshot of a payment. Errors are
// *CodedError.
func (s *Server) GetPayment(ctx context.Context,
	params *GetPaymentParams) (*PaymentResult, error) {

	if params == nil || params.PaymentHash == nil {
		return nil, s.fail(MethodGetPayment, ErrMissingIdentifier())
	}
	hash := lntypes.Hash(*params.PaymentHash)

	session, err := actor.Call(
		ctx, s.cfg.Processor, s.cfg.CallTimeout,
		func(reply routing.SessionReply) routing.Command {
			return &routing.GetPaymentCommand{
				PaymentHash: hash,
				Reply:       reply,
			}
		},
	)
	if err != nil {
		return nil, s.fail(MethodGetPayment, err)
	}

	return s.project(MethodGetPayment, session)
}

func (s *Server) project(method string,
	session *routing.PaymentSession) (*PaymentResult, error) {

	result, err := Project(session, s.includeRoute.Load())
	if err != nil {
		return nil, s.fail(method, err)
	}

	s.metrics.sessions.WithLabelValues(method, result.Status).Inc()

	return result, nil
}

// fail classifies err, logs and counts it.
func (s *Server) fail(method string, err error) *CodedError {
	coded := ClassifyError(err)
	s.metrics.errors.WithLabelValues(method, coded.ErrorCode.String()).Inc()

	if coded.Retryable() {
		log.Warnf("%v failed: %v", method, coded)
	} else {
		log.Debugf("%v failed: %v", method, coded)
	}

	return coded
}

func (s *Server) handleSendPayment(ctx context.Context,
	raw json.RawMessage) (interface{}, error) {

	var params SendPaymentParams
	if err := rpcserver.ParseParams(raw, &params); err != nil {
		return nil, s.fail(MethodSendPayment, decodeError(err))
	}

	result, err := s.SendPayment(ctx, &params)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Server) handleGetPayment(ctx context.Context,
	raw json.RawMessage) (interface{}, error) {

	var params GetPaymentParams
	if err := rpcserver.ParseParams(raw, &params); err != nil {
		return nil, s.fail(MethodGetPayment, decodeError(err))
	}

	result, err := s.GetPayment(ctx, &params)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// decodeError reports every failure to decode parameters as a malformed
// encoding, including JSON syntax and type errors.
func decodeError(err error) error {
	return NewCodedError(CodeMalformedEncoding, err)
}
