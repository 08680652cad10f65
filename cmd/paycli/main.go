package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/tlcpay/paygate"
	"github.com/tlcpay/paygate/paycfg"
	"github.com/tlcpay/paygate/paymentrpc"
	"github.com/urfave/cli"
)

const (
	defaultRPCServer = "localhost:8227"
)

var (
	defaultPayDir      = btcutil.AppDataDir("paygate", false)
	defaultTLSCertPath = filepath.Join(
		defaultPayDir, paycfg.DefaultTLSCertFilename,
	)
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[paycli] %v\n", err)
	os.Exit(1)
}

// getContext returns a context that is canceled on interrupt.
func getContext() context.Context {
	shutdownInterceptor, err := signal.Intercept()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctxc, cancel := context.WithCancel(context.Background())
	go func() {
		<-shutdownInterceptor.ShutdownChannel()
		cancel()
	}()

	return ctxc
}

// getClient returns a gateway client for the configured server.
func getClient(ctx *cli.Context) *paymentrpc.Client {
	if ctx.GlobalBool("notls") {
		url := "http://" + ctx.GlobalString("rpcserver")
		return paymentrpc.NewClient(url, nil)
	}

	certPath := paygate.CleanAndExpandPath(ctx.GlobalString("tlscertpath"))
	certBytes, err := os.ReadFile(certPath)
	if err != nil {
		fatal(fmt.Errorf("unable to read TLS cert: %w", err))
	}

	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(certBytes) {
		fatal(fmt.Errorf("no certificate found in %v", certPath))
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:    certPool,
				MinVersion: tls.VersionTLS12,
			},
		},
	}

	url := "https://" + ctx.GlobalString("rpcserver")

	return paymentrpc.NewClient(url, httpClient)
}

// actionDecorator is used to add additional information and error handling
// to command actions.
func actionDecorator(f func(*cli.Context) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		err := f(c)

		// Gateway errors carry the failure kind in their message, print
		// them without the JSON-RPC framing.
		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) {
			return fmt.Errorf("%s (code %d)", rpcErr.Message,
				rpcErr.Code)
		}

		return err
	}
}

func main() {
	app := cli.NewApp()
	app.Name = "paycli"
	app.Version = paygate.Version
	app.Usage = "control plane for your payment gateway (paygated)"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: defaultRPCServer,
			Usage: "The host:port of the payment gateway.",
		},
		cli.StringFlag{
			Name:      "tlscertpath",
			Value:     defaultTLSCertPath,
			Usage:     "The path to paygated's TLS certificate.",
			TakesFile: true,
		},
		cli.BoolFlag{
			Name:  "notls",
			Usage: "Connect without TLS.",
		},
		cli.BoolFlag{
			Name:  "json",
			Usage: "Print results as raw JSON.",
		},
	}
	app.Commands = []cli.Command{
		sendPaymentCommand,
		getPaymentCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
