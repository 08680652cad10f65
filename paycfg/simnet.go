package paycfg

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
)

const (
	// DefaultSettleDelay is the time a simulated payment takes to settle.
	DefaultSettleDelay = 2 * time.Second

	// MaxSettleDelay caps the simulated settle delay.
	MaxSettleDelay = time.Hour
)

// Simnet configures the in-memory payment processor the daemon runs with.
// Payments are never sent to a network, they settle after a delay.
//
//nolint:lll
type Simnet struct {
	SettleDelay time.Duration `long:"settledelay" description:"Time between dispatching a simulated payment and its outcome"`

	Balance uint64 `long:"balance" description:"Local balance available for native payments, 0 for unlimited"`

	NodeKey string `long:"nodekey" description:"Hex encoded private key of the local node, a random key is used if unset"`
}

// DefaultSimnet returns the default processor configuration.
func DefaultSimnet() *Simnet {
	return &Simnet{
		SettleDelay: DefaultSettleDelay,
	}
}

// Validate checks the processor configuration.
func (s *Simnet) Validate() error {
	if s.SettleDelay < 0 || s.SettleDelay > MaxSettleDelay {
		return fmt.Errorf("simnet.settledelay must be within [0, %v], "+
			"got %v", MaxSettleDelay, s.SettleDelay)
	}

	if s.NodeKey != "" {
		if _, err := s.PrivateKey(); err != nil {
			return err
		}
	}

	return nil
}

// PrivateKey returns the configured node key, or a fresh random key if none
// is configured.
func (s *Simnet) PrivateKey() (*btcec.PrivateKey, error) {
	if s.NodeKey == "" {
		return btcec.NewPrivateKey()
	}

	keyBytes, err := hex.DecodeString(s.NodeKey)
	if err != nil {
		return nil, fmt.Errorf("invalid simnet.nodekey: %w", err)
	}

	if len(keyBytes) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("simnet.nodekey must be %d bytes, got "+
			"%d", btcec.PrivKeyBytesLen, len(keyBytes))
	}

	privKey, _ := btcec.PrivKeyFromBytes(keyBytes)

	return privKey, nil
}
