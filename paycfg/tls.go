package paycfg

import (
	"fmt"
	"time"
)

const (
	// DefaultTLSCertFilename is the file name of the RPC certificate.
	DefaultTLSCertFilename = "tls.cert"

	// DefaultTLSKeyFilename is the file name of the RPC certificate key.
	DefaultTLSKeyFilename = "tls.key"

	// DefaultCertValidity is the validity of generated certificates.
	DefaultCertValidity = 14 * 30 * 24 * time.Hour
)

// TLS holds the options of the certificate the RPC server presents. A self
// signed certificate is generated if none exists.
//
//nolint:lll
type TLS struct {
	CertPath string `long:"tlscertpath" description:"Path to write the TLS certificate for the RPC server"`

	KeyPath string `long:"tlskeypath" description:"Path to write the TLS private key for the RPC server"`

	ExtraIPs []string `long:"tlsextraip" description:"Adds an extra ip to the generated certificate"`

	ExtraDomains []string `long:"tlsextradomain" description:"Adds an extra domain to the generated certificate"`

	DisableAutofill bool `long:"tlsdisableautofill" description:"Do not include the interface IPs or the system hostname in the generated certificate"`

	CertValidity time.Duration `long:"tlscertduration" description:"The duration for which the auto-generated TLS certificate will be valid for"`
}

// DefaultTLS returns the default TLS options. Paths are filled in relative to
// the data directory when the configuration is validated.
func DefaultTLS() *TLS {
	return &TLS{
		CertValidity: DefaultCertValidity,
	}
}

// Validate checks the TLS options.
func (t *TLS) Validate() error {
	if t.CertPath == "" || t.KeyPath == "" {
		return fmt.Errorf("tls certificate and key paths must be set")
	}

	if t.CertValidity < time.Hour {
		return fmt.Errorf("tlscertduration must be at least 1h, got %v",
			t.CertValidity)
	}

	return nil
}
