package paygate

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"github.com/lightningnetwork/lnd/cert"
	"github.com/tlcpay/paygate/paycfg"
)

const (
	// certificateOrganization is the organization name written into
	// generated certificates.
	certificateOrganization = "paygate autogenerated cert"
)

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}

	return true
}

// getTLSConfig returns the TLS configuration of the RPC server. A self signed
// certificate pair is generated if none exists yet, and regenerated if the
// existing one expired or no longer covers the configured addresses.
func getTLSConfig(cfg *paycfg.TLS) (*tls.Config, error) {
	if !fileExists(cfg.CertPath) && !fileExists(cfg.KeyPath) {
		if err := genCertPair(cfg); err != nil {
			return nil, err
		}
	}

	certData, parsedCert, err := cert.LoadCert(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, err
	}

	// If the certificate expired or is outdated, delete it and the key
	// and generate a new pair.
	outdated, err := cert.IsOutdated(
		parsedCert, cfg.ExtraIPs, cfg.ExtraDomains, cfg.DisableAutofill,
	)
	if err != nil {
		return nil, err
	}

	if time.Now().After(parsedCert.NotAfter) || outdated {
		paygLog.Info("TLS certificate is expired or outdated, " +
			"generating a new one")

		if err := os.Remove(cfg.CertPath); err != nil {
			return nil, err
		}
		if err := os.Remove(cfg.KeyPath); err != nil {
			return nil, err
		}

		if err := genCertPair(cfg); err != nil {
			return nil, err
		}

		certData, _, err = cert.LoadCert(cfg.CertPath, cfg.KeyPath)
		if err != nil {
			return nil, err
		}
	}

	return cert.TLSConfFromCert(certData), nil
}

// genCertPair generates a self signed certificate pair and writes it to the
// configured paths.
func genCertPair(cfg *paycfg.TLS) error {
	paygLog.Infof("Generating TLS certificates...")

	certBytes, keyBytes, err := cert.GenCertPair(
		certificateOrganization, cfg.ExtraIPs, cfg.ExtraDomains,
		cfg.DisableAutofill, cfg.CertValidity,
	)
	if err != nil {
		return fmt.Errorf("unable to generate TLS certificate: %w", err)
	}

	err = cert.WriteCertPair(cfg.CertPath, cfg.KeyPath, certBytes, keyBytes)
	if err != nil {
		return err
	}

	paygLog.Infof("Done generating TLS certificates")

	return nil
}
