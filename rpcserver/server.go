// Package rpcserver exposes registered methods over JSON-RPC 2.0, on plain
// HTTP POST requests and on WebSocket connections.
package rpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/go-errors/errors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxRequestSize is the largest request body accepted.
	DefaultMaxRequestSize = 1 << 20

	// DefaultShutdownTimeout bounds the wait for in-flight requests on
	// Stop.
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultMaxBatchSize is the largest number of requests in a batch.
	DefaultMaxBatchSize = 100

	// wsPongWait is how long a WebSocket connection may stay silent
	// before it is closed. Pings are sent at wsPingInterval.
	wsPongWait     = 60 * time.Second
	wsPingInterval = wsPongWait * 9 / 10
	wsWriteWait    = 10 * time.Second
)

// Config holds the options of the RPC server.
type Config struct {
	// RequestLimit is the sustained number of requests per second the
	// server accepts. Zero disables rate limiting.
	RequestLimit rate.Limit

	// RequestBurst is the number of requests accepted above RequestLimit
	// in a burst.
	RequestBurst int

	// MaxConnections caps the number of simultaneously open connections.
	// Zero means unlimited.
	MaxConnections int

	// MaxRequestSize caps the size of a request body or WebSocket
	// message. Zero selects DefaultMaxRequestSize.
	MaxRequestSize int64

	// MaxBatchSize caps the number of requests in a batch. Zero selects
	// DefaultMaxBatchSize.
	MaxBatchSize int

	// HealthCheck is run on every /healthz request, nil always reports
	// healthy.
	HealthCheck func(ctx context.Context) error

	// Registerer receives the request metrics, nil disables registration.
	Registerer prometheus.Registerer

	// Gatherer is served on /metrics, nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// Server dispatches JSON-RPC requests to registered methods.
type Server struct {
	started  int32 // To be used atomically.
	shutdown int32 // To be used atomically.

	cfg *Config

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	limiter  *rate.Limiter
	metrics  *metrics
	upgrader websocket.Upgrader

	httpServer *http.Server

	wg   sync.WaitGroup
	quit chan struct{}
}

// A compile time check to ensure Server implements the Registrar interface.
var _ Registrar = (*Server)(nil)

// New creates an RPC server. Methods must be registered before Start.
func New(cfg *Config) *Server {
	if cfg.MaxRequestSize == 0 {
		cfg.MaxRequestSize = DefaultMaxRequestSize
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}

	limit := rate.Inf
	if cfg.RequestLimit > 0 {
		limit = cfg.RequestLimit
	}

	s := &Server{
		cfg:      cfg,
		handlers: make(map[string]HandlerFunc),
		limiter:  rate.NewLimiter(limit, cfg.RequestBurst),
		metrics:  newMetrics(cfg.Registerer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,

			// Callers authenticate at the TLS layer, not by
			// origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		quit: make(chan struct{}),
	}

	return s
}

// RegisterMethod attaches handler to method.
func (s *Server) RegisterMethod(method string, handler HandlerFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handlers[method]; ok {
		return fmt.Errorf("method %v already registered", method)
	}
	s.handlers[method] = handler

	log.Debugf("Registered method %v", method)

	return nil
}

// Handler returns the HTTP handler of the server. It serves JSON-RPC on "/",
// JSON-RPC over WebSocket on "/ws", the health check on "/healthz" and, if a
// gatherer is configured, metrics on "/metrics".
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHTTP)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)

	if s.cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(
			s.cfg.Gatherer, promhttp.HandlerOpts{},
		))
	}

	return mux
}

// Start serves requests on lis until Stop is called.
func (s *Server) Start(lis net.Listener) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return fmt.Errorf("rpc server already started")
	}

	if s.cfg.MaxConnections > 0 {
		lis = netutil.LimitListener(lis, s.cfg.MaxConnections)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Infof("RPC server listening on %v", lis.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := s.httpServer.Serve(lis)
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("RPC server stopped: %v", err)
		}
	}()

	return nil
}

// Stop closes the listener and all WebSocket connections and waits for
// in-flight HTTP requests to complete.
func (s *Server) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.shutdown, 0, 1) {
		return nil
	}

	log.Info("RPC server shutting down...")
	defer log.Debug("RPC server shutdown complete")

	close(s.quit)

	var err error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), DefaultShutdownTimeout,
		)
		defer cancel()

		err = s.httpServer.Shutdown(ctx)
	}

	s.wg.Wait()

	return err
}

func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.limiter.Allow() {
		s.metrics.throttled.Inc()
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(
		http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestSize),
	)
	if err != nil {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}

	resp := s.ProcessMessage(r.Context(), body)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(resp); err != nil {
		log.Debugf("Unable to write response to %v: %v", r.RemoteAddr,
			err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.cfg.HealthCheck != nil {
		if err := s.cfg.HealthCheck(r.Context()); err != nil {
			log.Warnf("Health check failed: %v", err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}

	_, _ = w.Write([]byte("ok"))
}

// ProcessMessage executes a single request or a batch of requests and
// returns the encoded response. Nil is returned when no response is due,
// that is when the message held only notifications.
func (s *Server) ProcessMessage(ctx context.Context, msg []byte) []byte {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return s.processBatch(ctx, trimmed)
	}

	var req request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return marshalResponse(nil, nil, parseError(err))
	}

	return s.processRequest(ctx, &req)
}

// processBatch executes the requests of a batch concurrently. Responses are
// returned in request order, notifications leave no entry.
func (s *Server) processBatch(ctx context.Context, msg []byte) []byte {
	var rawReqs []json.RawMessage
	if err := json.Unmarshal(msg, &rawReqs); err != nil {
		return marshalResponse(nil, nil, parseError(err))
	}

	if len(rawReqs) == 0 {
		return marshalResponse(nil, nil, invalidRequest("empty batch"))
	}

	if len(rawReqs) > s.cfg.MaxBatchSize {
		return marshalResponse(nil, nil, invalidRequest(fmt.Sprintf(
			"batch of %d requests exceeds limit of %d",
			len(rawReqs), s.cfg.MaxBatchSize,
		)))
	}

	responses := make([][]byte, len(rawReqs))

	var eg errgroup.Group
	for i, rawReq := range rawReqs {
		i, rawReq := i, rawReq

		eg.Go(func() error {
			var req request
			if err := json.Unmarshal(rawReq, &req); err != nil {
				responses[i] = marshalResponse(
					nil, nil, invalidRequest(err.Error()),
				)
				return nil
			}

			responses[i] = s.processRequest(ctx, &req)

			return nil
		})
	}
	_ = eg.Wait()

	var buf bytes.Buffer
	buf.WriteByte('[')
	for _, resp := range responses {
		if resp == nil {
			continue
		}

		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		buf.Write(resp)
	}
	buf.WriteByte(']')

	// A batch of notifications gets no response at all.
	if buf.Len() == 2 {
		return nil
	}

	return buf.Bytes()
}

// processRequest executes a single request.
func (s *Server) processRequest(ctx context.Context, req *request) []byte {
	id, validID := req.id()
	if !validID {
		return marshalResponse(nil, nil, invalidRequest("invalid id"))
	}

	if req.Jsonrpc != btcjson.RpcVersion2 {
		if req.isNotification() {
			return nil
		}

		return marshalResponse(id, nil, invalidRequest(
			"jsonrpc must be \"2.0\"",
		))
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		s.metrics.requests.WithLabelValues(
			"unknown", outcomeError,
		).Inc()

		if req.isNotification() {
			return nil
		}

		return marshalResponse(id, nil, btcjson.NewRPCError(
			btcjson.ErrRPCMethodNotFound.Code,
			fmt.Sprintf("method not found: %v", req.Method),
		))
	}

	start := time.Now()
	result, err := s.callHandler(ctx, req.Method, handler, req.Params)
	s.metrics.observe(req.Method, time.Since(start), err)

	if req.isNotification() {
		return nil
	}

	if err != nil {
		return marshalResponse(id, nil, toRPCError(err))
	}

	return marshalResponse(id, result, nil)
}

// callHandler runs a handler, converting a panic into an internal error so
// that a single bad request cannot bring the server down.
func (s *Server) callHandler(ctx context.Context, method string,
	handler HandlerFunc, params json.RawMessage) (result interface{},
	err error) {

	defer func() {
		if r := recover(); r != nil {
			panicErr := errors.Wrap(r, 2)
			log.Errorf("Panic in %v handler: %v\n%s", method,
				panicErr, panicErr.ErrorStack())

			result = nil
			err = fmt.Errorf("internal error in %v", method)
		}
	}()

	log.Tracef("Handling %v", method)

	return handler(ctx, params)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("WebSocket upgrade from %v failed: %v", r.RemoteAddr,
			err)
		return
	}

	log.Debugf("WebSocket client %v connected", r.RemoteAddr)

	c := newWSClient(s, conn)
	c.serve()

	log.Debugf("WebSocket client %v disconnected", r.RemoteAddr)
}

func parseError(err error) *btcjson.RPCError {
	return btcjson.NewRPCError(
		btcjson.ErrRPCParse.Code, fmt.Sprintf("parse error: %v", err),
	)
}

func invalidRequest(reason string) *btcjson.RPCError {
	return btcjson.NewRPCError(
		btcjson.ErrRPCInvalidRequest.Code,
		fmt.Sprintf("invalid request: %v", reason),
	)
}
