package paygate

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/coreos/go-systemd/daemon"
	"github.com/lightningnetwork/lnd/signal"
)

// Main is the true entry point of the daemon. It is required since defers
// created in the top-level scope of a main method aren't executed if os.Exit()
// is called.
func Main(cfg *Config, interceptor signal.Interceptor) error {
	defer closeLogRotator()

	paygLog.Infof("Version: %s, network: %v", Version, cfg.Network)

	lis, err := listen(cfg)
	if err != nil {
		return err
	}

	requestShutdown := func(format string, params ...interface{}) {
		paygLog.Criticalf(format, params...)
		interceptor.RequestShutdown()
	}

	server, err := NewServer(cfg, requestShutdown)
	if err != nil {
		_ = lis.Close()

		return fmt.Errorf("unable to create server: %w", err)
	}

	if err := server.Start(lis); err != nil {
		_ = server.Stop()

		return fmt.Errorf("unable to start server: %w", err)
	}
	defer func() {
		if err := server.Stop(); err != nil {
			paygLog.Errorf("Error stopping server: %v", err)
		}
	}()

	paygLog.Infof("Payment gateway listening on %v", lis.Addr())

	// Tell systemd we're ready, if it is watching.
	notified, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	paygLog.Debugf("Systemd was notified: %v, error: %v", notified, err)

	<-interceptor.ShutdownChannel()

	return nil
}

// listen opens the RPC listener, wrapped in TLS unless disabled.
func listen(cfg *Config) (net.Listener, error) {
	if cfg.RPC.NoTLS {
		paygLog.Warn("TLS is disabled for the RPC listener")

		return net.Listen("tcp", cfg.RPC.Listen)
	}

	tlsConf, err := getTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("unable to load TLS credentials: %w", err)
	}

	return tls.Listen("tcp", cfg.RPC.Listen, tlsConf)
}
