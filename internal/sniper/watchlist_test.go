package sniper

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchlistPutOverwrites(t *testing.T) {
	w := NewWatchlist()
	w.Put(WatchedIdentity{FID: 42, Username: "alice", BuyAmountEth: decimal.NewFromFloat(0.01), Enabled: true})
	w.Put(WatchedIdentity{FID: 42, Username: "alice", BuyAmountEth: decimal.NewFromFloat(0.05), Enabled: true})

	assert.Equal(t, 1, w.Size())
	identity, ok := w.Get(42)
	require.True(t, ok)
	assert.True(t, identity.BuyAmountEth.Equal(decimal.NewFromFloat(0.05)))
}

func TestWatchlistRemoveIdempotent(t *testing.T) {
	w := NewWatchlist()
	w.Put(WatchedIdentity{FID: 42, Username: "alice"})

	assert.True(t, w.Remove(42))
	assert.False(t, w.Remove(42))
	assert.Equal(t, 0, w.Size())
}

func TestWatchlistUpdateBuyAmount(t *testing.T) {
	w := NewWatchlist()
	w.Put(WatchedIdentity{FID: 42, BuyAmountEth: decimal.NewFromFloat(0.01)})

	assert.True(t, w.UpdateBuyAmount(42, decimal.NewFromFloat(0.2)))
	identity, _ := w.Get(42)
	assert.True(t, identity.BuyAmountEth.Equal(decimal.NewFromFloat(0.2)))

	assert.False(t, w.UpdateBuyAmount(7, decimal.NewFromFloat(0.2)))
}

func TestWatchlistSetEnabled(t *testing.T) {
	w := NewWatchlist()
	w.Put(WatchedIdentity{FID: 42, Enabled: true})

	assert.True(t, w.SetEnabled(42, false))
	identity, _ := w.Get(42)
	assert.False(t, identity.Enabled)

	assert.False(t, w.SetEnabled(7, false))
}

func TestWatchlistListSortedByFID(t *testing.T) {
	w := NewWatchlist()
	w.Put(WatchedIdentity{FID: 30})
	w.Put(WatchedIdentity{FID: 10})
	w.Put(WatchedIdentity{FID: 20})

	list := w.List()
	require.Len(t, list, 3)
	assert.Equal(t, uint64(10), list[0].FID)
	assert.Equal(t, uint64(20), list[1].FID)
	assert.Equal(t, uint64(30), list[2].FID)
}
