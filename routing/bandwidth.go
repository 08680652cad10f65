package routing

import (
	"errors"
	"fmt"

	"github.com/tlcpay/paygate/fn"
	"lukechampine.com/uint128"
)

// ErrInsufficientBalance is returned when the local node can not fund a
// payment.
var ErrInsufficientBalance = errors.New("insufficient balance")

// BandwidthHints provides hints about the balance currently available to the
// local node for sending.
type BandwidthHints interface {
	// AvailableBalance returns the total spendable balance for the asset,
	// or the native token if asset is None, and a bool indicating whether
	// a hint for the asset was found.
	AvailableBalance(asset fn.Option[AssetScript]) (uint128.Uint128, bool)
}

// StaticBandwidth is a BandwidthHints implementation backed by fixed
// balances, used in simnet mode and in tests.
type StaticBandwidth struct {
	// Native is the spendable balance of the native token.
	Native uint128.Uint128

	// Assets maps AssetScript.Key to the spendable balance of that
	// asset.
	Assets map[string]uint128.Uint128
}

// A compile time check to ensure StaticBandwidth implements the
// BandwidthHints interface.
var _ BandwidthHints = (*StaticBandwidth)(nil)

// AvailableBalance returns the configured balance for the asset.
func (s *StaticBandwidth) AvailableBalance(
	asset fn.Option[AssetScript]) (uint128.Uint128, bool) {

	if asset.IsNone() {
		return s.Native, true
	}

	balance, ok := s.Assets[assetKey(asset)]

	return balance, ok
}

// bandwidthManager tracks the amounts committed to payments that have not
// failed on top of the hints of the lower layer. A nil hint source means
// every payment is assumed to be fundable.
type bandwidthManager struct {
	hints     BandwidthHints
	committed map[string]uint128.Uint128
}

// newBandwidthManager creates a bandwidth manager querying hints for the
// balance available before any payment of this process was made.
func newBandwidthManager(hints BandwidthHints) *bandwidthManager {
	return &bandwidthManager{
		hints:     hints,
		committed: make(map[string]uint128.Uint128),
	}
}

// availableBandwidth returns the balance left for new payments in the asset
// and a bool indicating whether the asset is known at all.
func (b *bandwidthManager) availableBandwidth(
	asset fn.Option[AssetScript]) (uint128.Uint128, bool) {

	if b.hints == nil {
		return uint128.Max, true
	}

	balance, ok := b.hints.AvailableBalance(asset)
	if !ok {
		return uint128.Zero, false
	}

	committed := b.committed[assetKey(asset)]
	if balance.Cmp(committed) <= 0 {
		return uint128.Zero, true
	}

	return balance.Sub(committed), true
}

// checkBandwidth returns ErrInsufficientBalance if amt can not be sent in the
// asset.
func (b *bandwidthManager) checkBandwidth(asset fn.Option[AssetScript],
	amt uint128.Uint128) error {

	available, ok := b.availableBandwidth(asset)
	if !ok {
		return fmt.Errorf("%w: no channel for asset %v",
			ErrInsufficientBalance, assetKey(asset))
	}

	if available.Cmp(amt) < 0 {
		return fmt.Errorf("%w: need %v, have %v",
			ErrInsufficientBalance, amt, available)
	}

	return nil
}

// commit marks amt as spent by a payment. It must only be called after a
// successful checkBandwidth for the same amount.
func (b *bandwidthManager) commit(asset fn.Option[AssetScript],
	amt uint128.Uint128) {

	if b.hints == nil {
		return
	}

	key := assetKey(asset)
	b.committed[key] = b.committed[key].Add(amt)
}

// release returns amt committed to a payment that failed.
func (b *bandwidthManager) release(asset fn.Option[AssetScript],
	amt uint128.Uint128) {

	if b.hints == nil {
		return
	}

	key := assetKey(asset)
	committed := b.committed[key]
	if committed.Cmp(amt) <= 0 {
		delete(b.committed, key)
		return
	}

	b.committed[key] = committed.Sub(amt)
}

// assetKey returns the map key of an asset, the empty string denoting the
// native token.
func assetKey(asset fn.Option[AssetScript]) string {
	return fn.MapOption(AssetScript.Key)(asset).UnwrapOr("")
}
