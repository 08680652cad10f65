//go:build !dev
// +build !dev

package paycfg

import "github.com/tlcpay/paygate/fn"

// DevOverrides is a sub-config that houses options only available in builds
// with the dev tag.
type DevOverrides struct {
}

// ForceFailure returns the reason every simulated payment fails with. It is
// never set outside of dev builds.
func (d *DevOverrides) ForceFailure() fn.Option[string] {
	return fn.None[string]()
}
