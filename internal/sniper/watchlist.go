package sniper

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Watchlist — the set of monitored feed identities
// ---------------------------------------------------------------------------

// WatchedIdentity is one monitored feed identity. Keyed by FID; inserting
// the same FID twice overwrites.
type WatchedIdentity struct {
	FID          uint64           `json:"fid"`
	Username     string           `json:"username"`
	BuyAmountEth decimal.Decimal  `json:"buy_amount_eth"`
	SlippagePct  *decimal.Decimal `json:"slippage_pct,omitempty"` // nil = engine default
	Enabled      bool             `json:"enabled"`
}

// Watchlist is a concurrent map of watched identities. The two independent
// scan timers and the control plane all touch it.
type Watchlist struct {
	mu      sync.RWMutex
	entries map[uint64]WatchedIdentity
}

// NewWatchlist creates an empty watchlist.
func NewWatchlist() *Watchlist {
	return &Watchlist{entries: make(map[uint64]WatchedIdentity)}
}

// Put inserts or overwrites an identity.
func (w *Watchlist) Put(identity WatchedIdentity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[identity.FID] = identity
}

// Remove deletes an identity. Idempotent; reports whether an entry existed.
func (w *Watchlist) Remove(fid uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, existed := w.entries[fid]
	delete(w.entries, fid)
	return existed
}

// Get returns an identity by FID.
func (w *Watchlist) Get(fid uint64) (WatchedIdentity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	identity, ok := w.entries[fid]
	return identity, ok
}

// UpdateBuyAmount changes the buy amount for an identity. Returns false
// when no such entry exists.
func (w *Watchlist) UpdateBuyAmount(fid uint64, amount decimal.Decimal) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	identity, ok := w.entries[fid]
	if !ok {
		return false
	}
	identity.BuyAmountEth = amount
	w.entries[fid] = identity
	return true
}

// SetEnabled toggles an identity. Returns false when no such entry exists.
func (w *Watchlist) SetEnabled(fid uint64, enabled bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	identity, ok := w.entries[fid]
	if !ok {
		return false
	}
	identity.Enabled = enabled
	w.entries[fid] = identity
	return true
}

// List returns all identities in stable FID order.
func (w *Watchlist) List() []WatchedIdentity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]WatchedIdentity, 0, len(w.entries))
	for _, identity := range w.entries {
		out = append(out, identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FID < out[j].FID })
	return out
}

// Size returns the number of watched identities.
func (w *Watchlist) Size() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}
