package paygate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/healthcheck"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tlcpay/paygate/actor"
	"github.com/tlcpay/paygate/fn"
	"github.com/tlcpay/paygate/paymentrpc"
	"github.com/tlcpay/paygate/routing"
	"github.com/tlcpay/paygate/rpcserver"
	"golang.org/x/time/rate"
	"lukechampine.com/uint128"
)

// ShutdownFunc requests a graceful shutdown of the daemon.
type ShutdownFunc func(format string, params ...interface{})

// Server is the assembled payment gateway: the RPC transport, the gateway
// itself and the payment processor behind it.
type Server struct {
	started int32 // To be used atomically.
	stopped int32 // To be used atomically.

	cfg *Config

	selfNode *btcec.PublicKey

	router     *routing.Router
	dispatcher *routing.SimDispatcher
	gateway    *paymentrpc.Server
	rpcServer  *rpcserver.Server
	monitor    *healthcheck.Monitor
}

// NewServer assembles a gateway from cfg. requestShutdown is called if a
// health check fails for good.
func NewServer(cfg *Config, requestShutdown ShutdownFunc) (*Server,
	error) {

	nodeKey, err := cfg.Simnet.PrivateKey()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		selfNode: nodeKey.PubKey(),
	}

	var bandwidth routing.BandwidthHints
	if cfg.Simnet.Balance > 0 {
		bandwidth = &routing.StaticBandwidth{
			Native: uint128.From64(cfg.Simnet.Balance),
		}
	}

	clk := clock.NewDefaultClock()
	s.dispatcher = routing.NewSimDispatcher(&routing.SimConfig{
		SettleDelay: cfg.Simnet.SettleDelay,
		Clock:       clk,
		Resolve: func(ctx context.Context, hash lntypes.Hash,
			failure fn.Option[string]) (*routing.PaymentSession,
			error) {

			return s.router.ResolvePayment(ctx, hash, failure)
		},
		ForceFailure: cfg.Dev.ForceFailure(),
	})

	s.router = routing.New(&routing.Config{
		SelfNode:      s.selfNode,
		ChainParams:   cfg.ActiveNetParams,
		Clock:         clk,
		PathFinder:    &routing.HintPathFinder{},
		Bandwidth:     bandwidth,
		Dispatcher:    s.dispatcher,
		TimeoutTicker: ticker.New(routing.DefaultTimeoutInterval),
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)

	s.gateway = paymentrpc.New(&paymentrpc.Config{
		Processor:    s.router,
		CallTimeout:  cfg.RPC.CallTimeout,
		IncludeRoute: cfg.Debug.IncludeRoute,
		Registerer:   registry,
	})

	s.rpcServer = rpcserver.New(&rpcserver.Config{
		RequestLimit:   rate.Limit(cfg.RPC.RequestLimit),
		RequestBurst:   cfg.RPC.RequestBurst,
		MaxConnections: cfg.RPC.MaxConnections,
		MaxRequestSize: cfg.RPC.MaxRequestSize,
		HealthCheck:    s.probeProcessor,
		Registerer:     registry,
		Gatherer:       registry,
	})

	if err := s.gateway.RegisterWithRPCServer(s.rpcServer); err != nil {
		return nil, err
	}

	s.monitor = healthcheck.NewMonitor(&healthcheck.Config{
		Checks:   s.healthChecks(),
		Shutdown: func(format string, params ...interface{}) {
			requestShutdown(format, params...)
		},
	})

	return s, nil
}

// healthChecks returns the enabled health checks.
func (s *Server) healthChecks() []*healthcheck.Observation {
	check := s.cfg.HealthChecks.Processor
	if check.Attempts == 0 {
		return nil
	}

	processorCheck := healthcheck.NewObservation(
		"payment processor",
		func() error {
			ctx, cancel := context.WithTimeout(
				context.Background(), check.Timeout,
			)
			defer cancel()

			return s.probeProcessor(ctx)
		},
		check.Interval, check.Timeout, check.Backoff,
		check.Attempts,
	)

	return []*healthcheck.Observation{processorCheck}
}

// probeProcessor checks that the processor answers commands. Looking up the
// zero hash is expected to fail with ErrPaymentNotFound.
func (s *Server) probeProcessor(ctx context.Context) error {
	var mailbox actor.Mailbox[routing.Command] = s.router

	_, err := actor.Call(ctx, mailbox, 0,
		func(reply routing.SessionReply) routing.Command {
			return &routing.GetPaymentCommand{
				PaymentHash: lntypes.Hash{},
				Reply:       reply,
			}
		},
	)
	if err == nil || errors.Is(err, routing.ErrPaymentNotFound) {
		return nil
	}

	return fmt.Errorf("payment processor unavailable: %w", err)
}

// Start starts the processor and the health monitor and serves RPC requests
// on lis.
func (s *Server) Start(lis net.Listener) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return fmt.Errorf("server already started")
	}

	paygLog.Infof("Starting payment gateway, node key %x",
		s.selfNode.SerializeCompressed())

	if err := s.router.Start(); err != nil {
		return err
	}

	if err := s.monitor.Start(); err != nil {
		return err
	}

	return s.rpcServer.Start(lis)
}

// Stop shuts every component down, the transport first.
func (s *Server) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.stopped, 0, 1) {
		return nil
	}

	paygLog.Info("Stopping payment gateway")

	var errs []error
	if err := s.rpcServer.Stop(); err != nil {
		errs = append(errs, err)
	}

	if atomic.LoadInt32(&s.started) == 1 {
		if err := s.monitor.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	// The router dispatches attempts, so it stops first.
	if err := s.router.Stop(); err != nil {
		errs = append(errs, err)
	}

	s.dispatcher.Stop()

	if len(errs) > 0 {
		return fmt.Errorf("unable to stop cleanly: %v", errs)
	}

	return nil
}

// SelfNode returns the public key of the local node.
func (s *Server) SelfNode() *btcec.PublicKey {
	return s.selfNode
}

// SetIncludeRoute toggles the diagnostic route in payment results.
func (s *Server) SetIncludeRoute(include bool) {
	s.gateway.SetIncludeRoute(include)
}
