package sniper

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/caststrike-trading/caststrike/internal/buyer"
	"github.com/caststrike-trading/caststrike/internal/detector"
	"github.com/caststrike-trading/caststrike/internal/evm"
	"github.com/caststrike-trading/caststrike/internal/feed"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testToken  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testWallet = evm.Address("0x1111111111111111111111111111111111111111")
)

type fixture struct {
	feeds  *feed.StubClient
	chain  *evm.StubClient
	engine *Engine
}

func newFixture() *fixture {
	feeds := feed.NewStubClient()
	chain := evm.NewStubClient()
	buys := buyer.NewEngine(buyer.DefaultConfig(), chain, testWallet)
	engine := NewEngine(Config{CheckIntervalS: 1}, feeds, chain, buys)
	engine.delay = 0
	return &fixture{feeds: feeds, chain: chain, engine: engine}
}

// scriptToken makes addr a valid, quotable, buyable token on the stub chain.
func (f *fixture) scriptToken(addr string) {
	a := evm.Address(addr)
	f.chain.SetToken(a, "Cast Coin", "CAST", 18, big.NewInt(1_000_000))
	f.chain.SetCallResult(a, evm.SelGetBuyQuote, evm.EncodeUint256Result(big.NewInt(1000)))
	f.chain.SetCallResult(a, evm.SelBalanceOf, evm.EncodeUint256Result(big.NewInt(900)))
}

func (f *fixture) watch(t *testing.T, fid uint64, username string) {
	t.Helper()
	f.feeds.AddUser(feed.User{FID: fid, Username: username})
	_, err := f.engine.AddIdentity(context.Background(), username, decimal.NewFromFloat(0.01), nil)
	require.NoError(t, err)
}

func TestAddIdentityResolves(t *testing.T) {
	f := newFixture()
	f.feeds.AddUser(feed.User{FID: 42, Username: "alice"})

	identity, err := f.engine.AddIdentity(context.Background(), "alice", decimal.Zero, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), identity.FID)
	assert.True(t, identity.Enabled)
	assert.True(t, identity.BuyAmountEth.Equal(decimal.NewFromFloat(0.01)),
		"zero amount falls back to the engine default")

	// Numeric FID resolution path.
	_, err = f.engine.AddIdentity(context.Background(), "42", decimal.NewFromFloat(0.02), nil)
	require.NoError(t, err)
	assert.Len(t, f.engine.ListWatched(), 1, "re-adding the same FID overwrites")
}

func TestAddIdentityUnknownSurfacesNotFound(t *testing.T) {
	f := newFixture()
	_, err := f.engine.AddIdentity(context.Background(), "nobody", decimal.Zero, nil)
	assert.ErrorIs(t, err, feed.ErrNotFound)
}

func TestRunCycleBuysDiscoveredToken(t *testing.T) {
	f := newFixture()
	f.watch(t, 42, "alice")
	f.scriptToken(testToken)
	f.feeds.SetCasts(42, []feed.Cast{
		{Hash: "0xc1", Text: "launching " + testToken, Timestamp: time.Now()},
	})

	f.engine.RunCycle(context.Background())

	sent := f.chain.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, evm.Address(testToken), sent[0].To)

	results := f.engine.RecentResults()
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	stats := f.engine.EngineStats()
	assert.Equal(t, int64(1), stats.CandidatesSeen)
	assert.Equal(t, int64(1), stats.PurchasesWon)
	assert.Equal(t, 1, stats.LedgerSize)
}

func TestRunCycleNeverRebuysSameCast(t *testing.T) {
	f := newFixture()
	f.watch(t, 42, "alice")
	f.scriptToken(testToken)
	f.feeds.SetCasts(42, []feed.Cast{
		{Hash: "0xc1", Text: testToken, Timestamp: time.Now()},
	})

	f.engine.RunCycle(context.Background())
	f.engine.RunCycle(context.Background())

	assert.Len(t, f.chain.Sent(), 1, "the same cast must be bought at most once")
}

func TestRunCycleSkipsDisabledIdentity(t *testing.T) {
	f := newFixture()
	f.watch(t, 42, "alice")
	f.scriptToken(testToken)
	f.feeds.SetCasts(42, []feed.Cast{
		{Hash: "0xc1", Text: testToken, Timestamp: time.Now()},
	})

	require.True(t, f.engine.SetEnabled(42, false))
	f.engine.RunCycle(context.Background())
	assert.Empty(t, f.chain.Sent())

	// Re-enabling picks the cast up on the next cycle.
	require.True(t, f.engine.SetEnabled(42, true))
	f.engine.RunCycle(context.Background())
	assert.Len(t, f.chain.Sent(), 1)
}

func TestRunCycleInvalidTokenProcessedOnce(t *testing.T) {
	f := newFixture()
	f.watch(t, 42, "alice")
	// No code at the address: validation fails.
	f.feeds.SetCasts(42, []feed.Cast{
		{Hash: "0xc1", Text: testToken, Timestamp: time.Now()},
	})

	f.engine.RunCycle(context.Background())

	assert.Empty(t, f.chain.Sent())
	stats := f.engine.EngineStats()
	assert.Equal(t, int64(1), stats.InvalidTokens)
	assert.Equal(t, 1, stats.LedgerSize, "failed validation still marks the candidate processed")
}

func TestRunCycleFailedBuyNotRetried(t *testing.T) {
	f := newFixture()
	f.watch(t, 42, "alice")
	f.scriptToken(testToken)
	f.chain.SetSentStatus(0) // every submission reverts

	ts := time.Now()
	f.feeds.SetCasts(42, []feed.Cast{
		{Hash: "0xc1", Text: testToken, Timestamp: ts},
	})
	f.engine.RunCycle(context.Background())

	results := f.engine.RecentResults()
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, buyer.ErrKindTxReverted, results[0].ErrorKind)

	// Even if the address reappears in a later cast under the same hash,
	// the ledger holds.
	f.engine.RunCycle(context.Background())
	assert.Len(t, f.engine.RecentResults(), 1)
}

func TestProcessCandidatesInFeedOrder(t *testing.T) {
	f := newFixture()
	f.watch(t, 42, "alice")
	tokenB := "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	f.scriptToken(testToken)
	f.scriptToken(tokenB)

	now := time.Now()
	f.feeds.SetCasts(42, []feed.Cast{
		{Hash: "0xc2", Text: tokenB, Timestamp: now},
		{Hash: "0xc1", Text: testToken, Timestamp: now.Add(-time.Minute)},
	})
	f.engine.RunCycle(context.Background())

	sent := f.chain.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, evm.Address(tokenB), sent[0].To, "newest cast is processed first")
	assert.Equal(t, evm.Address(testToken), sent[1].To)
}

func TestCycleDelaySpansIdentities(t *testing.T) {
	f := newFixture()
	f.watch(t, 1, "alice")
	f.watch(t, 2, "bob")
	tokenB := "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	f.scriptToken(testToken)
	f.scriptToken(tokenB)
	f.feeds.SetCasts(1, []feed.Cast{{Hash: "0xc1", Text: testToken, Timestamp: time.Now()}})
	f.feeds.SetCasts(2, []feed.Cast{{Hash: "0xc2", Text: tokenB, Timestamp: time.Now()}})

	f.engine.delay = 50 * time.Millisecond
	started := time.Now()
	f.engine.RunCycle(context.Background())

	require.Len(t, f.chain.Sent(), 2)
	assert.GreaterOrEqual(t, time.Since(started), 50*time.Millisecond,
		"successive submissions are spaced across identity boundaries too")
}

func TestRunCycleOverlapGuard(t *testing.T) {
	f := newFixture()
	f.engine.cycleRunning.Store(true)

	f.engine.RunCycle(context.Background())

	stats := f.engine.EngineStats()
	assert.Zero(t, stats.CyclesRun)
	assert.Equal(t, int64(1), stats.CyclesSkipped)
}

func TestHandleWalletCandidate(t *testing.T) {
	f := newFixture()
	f.scriptToken(testToken)
	f.chain.SetBalance(testWallet, new(big.Int).Mul(big.NewInt(1), evm.WeiPerEth))

	wallet := detector.WatchedWallet{
		Address:      "0x2222222222222222222222222222222222222222",
		BuyAmountEth: decimal.NewFromFloat(0.05),
		SlippagePct:  decimal.NewFromInt(10),
	}
	candidate := detector.Candidate{
		ContractAddress: testToken,
		OriginHash:      string(wallet.Address),
		OriginIdentity:  string(wallet.Address),
		Source:          detector.SourceWallet,
	}

	f.engine.HandleWalletCandidate(context.Background(), candidate, wallet)

	require.Len(t, f.chain.Sent(), 1)
	assert.Equal(t, "50000000000000000", f.chain.Sent()[0].Value.String(),
		"wallet candidates spend the wallet's own amount, not the funding default")
	require.Len(t, f.engine.RecentResults(), 1)
	assert.True(t, f.engine.RecentResults()[0].Success)

	// Second sighting of the same deployment is a duplicate.
	f.engine.HandleWalletCandidate(context.Background(), candidate, wallet)
	assert.Len(t, f.chain.Sent(), 1)
	assert.Equal(t, int64(1), f.engine.EngineStats().Duplicates)
}

func TestHandleWalletCandidateFundingSkip(t *testing.T) {
	f := newFixture()
	f.scriptToken(testToken)
	f.chain.SetBalance(testWallet, big.NewInt(0))

	wallet := detector.WatchedWallet{Address: "0x2222222222222222222222222222222222222222"}
	candidate := detector.Candidate{
		ContractAddress: testToken,
		Source:          detector.SourceWallet,
	}
	f.engine.HandleWalletCandidate(context.Background(), candidate, wallet)

	assert.Empty(t, f.chain.Sent())
	assert.Empty(t, f.engine.RecentResults(), "skipped purchases record no result")
	assert.Equal(t, 1, f.engine.EngineStats().LedgerSize, "skipped candidate is still processed")
}

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture()

	f.engine.Start(context.Background())
	assert.True(t, f.engine.Running())

	// Re-entrant start is a warning, not a second loop.
	f.engine.Start(context.Background())
	assert.True(t, f.engine.Running())

	f.engine.Stop()
	assert.False(t, f.engine.Running())

	// Stop is idempotent.
	f.engine.Stop()
	assert.False(t, f.engine.Running())

	// The immediate first cycle ran.
	assert.GreaterOrEqual(t, f.engine.EngineStats().CyclesRun, int64(1))
}

func TestResultHistoryBounded(t *testing.T) {
	f := newFixture()
	for i := 0; i < resultHistory+20; i++ {
		f.engine.record(buyer.Result{AttemptID: "a"})
	}
	assert.Len(t, f.engine.RecentResults(), resultHistory)
}
