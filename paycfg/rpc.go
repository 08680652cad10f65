package paycfg

import (
	"fmt"
	"net"
	"time"
)

const (
	// DefaultRPCPort is the port the RPC server listens on by default.
	DefaultRPCPort = 8227

	// DefaultCallTimeout bounds the wait for a processor reply.
	DefaultCallTimeout = 30 * time.Second

	// DefaultMaxConnections caps the open RPC connections.
	DefaultMaxConnections = 256

	// DefaultRequestLimit is the sustained number of RPC requests per
	// second.
	DefaultRequestLimit = 100

	// DefaultRequestBurst is the number of requests accepted above the
	// sustained rate in a burst.
	DefaultRequestBurst = 200

	// DefaultMaxRequestSize caps the size of a request body.
	DefaultMaxRequestSize = 1 << 20
)

// RPC holds the configuration of the JSON-RPC listener.
//
//nolint:lll
type RPC struct {
	Listen string `long:"listen" description:"Interface and port the JSON-RPC server listens on"`

	CallTimeout time.Duration `long:"calltimeout" description:"How long a call waits for the payment processor to reply"`

	MaxConnections int `long:"maxconnections" description:"Maximum number of simultaneously open RPC connections, 0 for no limit"`

	RequestLimit float64 `long:"requestlimit" description:"Sustained number of RPC requests accepted per second, 0 for no limit"`

	RequestBurst int `long:"requestburst" description:"Number of RPC requests accepted above requestlimit in a burst"`

	MaxRequestSize int64 `long:"maxrequestsize" description:"Maximum size in bytes of a request body or WebSocket message"`

	NoTLS bool `long:"notls" description:"Serve plain HTTP instead of HTTPS, only for local testing"`
}

// DefaultRPC returns the default RPC configuration.
func DefaultRPC() *RPC {
	return &RPC{
		Listen:         fmt.Sprintf("localhost:%d", DefaultRPCPort),
		CallTimeout:    DefaultCallTimeout,
		MaxConnections: DefaultMaxConnections,
		RequestLimit:   DefaultRequestLimit,
		RequestBurst:   DefaultRequestBurst,
		MaxRequestSize: DefaultMaxRequestSize,
	}
}

// Validate checks the RPC configuration.
func (r *RPC) Validate() error {
	if _, _, err := net.SplitHostPort(r.Listen); err != nil {
		return fmt.Errorf("invalid rpc.listen %v: %w", r.Listen, err)
	}

	if r.CallTimeout <= 0 {
		return fmt.Errorf("rpc.calltimeout must be positive, got %v",
			r.CallTimeout)
	}

	if r.MaxConnections < 0 {
		return fmt.Errorf("rpc.maxconnections must not be negative")
	}

	if r.RequestLimit < 0 {
		return fmt.Errorf("rpc.requestlimit must not be negative")
	}

	if r.RequestLimit > 0 && r.RequestBurst < 1 {
		return fmt.Errorf("rpc.requestburst must be at least 1 when " +
			"rpc.requestlimit is set")
	}

	if r.MaxRequestSize <= 0 {
		return fmt.Errorf("rpc.maxrequestsize must be positive")
	}

	return nil
}
