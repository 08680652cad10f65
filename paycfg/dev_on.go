//go:build dev
// +build dev

package paycfg

import "github.com/tlcpay/paygate/fn"

// DevOverrides is a sub-config that houses options only available in builds
// with the dev tag.
//
//nolint:lll
type DevOverrides struct {
	FailAll string `long:"failall" description:"Fail every simulated payment with the reason provided"`
}

// ForceFailure returns the reason every simulated payment fails with, if one
// is configured.
func (d *DevOverrides) ForceFailure() fn.Option[string] {
	if d.FailAll == "" {
		return fn.None[string]()
	}

	return fn.Some(d.FailAll)
}
