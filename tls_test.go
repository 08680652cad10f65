package paygate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/cert"
	"github.com/stretchr/testify/require"
	"github.com/tlcpay/paygate/paycfg"
)

// TestGetTLSConfig checks that a certificate pair is generated on first use
// and reused afterwards.
func TestGetTLSConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := &paycfg.TLS{
		CertPath:        filepath.Join(dir, paycfg.DefaultTLSCertFilename),
		KeyPath:         filepath.Join(dir, paycfg.DefaultTLSKeyFilename),
		DisableAutofill: true,
		ExtraDomains:    []string{"paygate.test"},
		CertValidity:    paycfg.DefaultCertValidity,
	}

	tlsConf, err := getTLSConfig(cfg)
	require.NoError(t, err)
	require.Len(t, tlsConf.Certificates, 1)
	require.FileExists(t, cfg.CertPath)
	require.FileExists(t, cfg.KeyPath)

	_, first, err := cert.LoadCert(cfg.CertPath, cfg.KeyPath)
	require.NoError(t, err)
	require.Contains(t, first.DNSNames, "paygate.test")
	require.True(t, first.NotAfter.After(time.Now().Add(24*time.Hour)))

	// A second call loads the existing pair.
	_, err = getTLSConfig(cfg)
	require.NoError(t, err)

	_, second, err := cert.LoadCert(cfg.CertPath, cfg.KeyPath)
	require.NoError(t, err)
	require.Equal(t, first.SerialNumber, second.SerialNumber)

	// A new domain makes the pair outdated.
	cfg.ExtraDomains = append(cfg.ExtraDomains, "other.test")
	_, err = getTLSConfig(cfg)
	require.NoError(t, err)

	_, third, err := cert.LoadCert(cfg.CertPath, cfg.KeyPath)
	require.NoError(t, err)
	require.Contains(t, third.DNSNames, "other.test")
}
