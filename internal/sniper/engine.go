package sniper

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caststrike-trading/caststrike/internal/buyer"
	"github.com/caststrike-trading/caststrike/internal/detector"
	"github.com/caststrike-trading/caststrike/internal/evm"
	"github.com/caststrike-trading/caststrike/internal/feed"
	"github.com/caststrike-trading/caststrike/internal/token"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Sniper Engine — scheduler and candidate pipeline
// Owns the watchlist, the dedup ledger, and the validate->buy pipeline fed
// by both detectors.
// ---------------------------------------------------------------------------

// Config configures the scheduler.
type Config struct {
	// Identity scan cadence.
	CheckIntervalS int `yaml:"check_interval_s"`

	// Purchase size for identities without an explicit amount.
	DefaultBuyAmountEth decimal.Decimal `yaml:"default_buy_amount_eth"`

	// Slippage tolerance applied when an identity carries none.
	MaxSlippagePct decimal.Decimal `yaml:"max_slippage_pct"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CheckIntervalS:      30,
		DefaultBuyAmountEth: decimal.NewFromFloat(0.01),
		MaxSlippagePct:      decimal.NewFromInt(15),
	}
}

// interCandidateDelay separates sequential purchases within one cycle so
// the wallet endpoint serializes nonces cleanly.
const interCandidateDelay = 2 * time.Second

// resultHistory bounds the recent-results ring exposed to the control plane.
const resultHistory = 50

// Engine runs the scan cycles and the per-candidate pipeline.
type Engine struct {
	config    Config
	feeds     feed.Client
	watchlist *Watchlist
	ledger    *Ledger
	validator *token.Validator
	buys      *buyer.Engine

	scanner *detector.FeedDetector

	// test hook; production keeps interCandidateDelay
	delay time.Duration

	// Cycle overlap guard.
	cycleRunning atomic.Bool

	// Scheduler handle state.
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	// Recent results ring.
	resultsMu sync.Mutex
	results   []buyer.Result

	// Stats.
	cyclesRun      atomic.Int64
	cyclesSkipped  atomic.Int64
	candidatesSeen atomic.Int64
	duplicates     atomic.Int64
	invalidTokens  atomic.Int64
	purchasesTried atomic.Int64
	purchasesWon   atomic.Int64
}

// NewEngine wires the scheduler. The feed detector is owned internally; the
// creation detector feeds candidates in through HandleWalletCandidate.
func NewEngine(config Config, feeds feed.Client, rpc evm.Client, buys *buyer.Engine) *Engine {
	if config.CheckIntervalS == 0 {
		config.CheckIntervalS = 30
	}
	if config.DefaultBuyAmountEth.IsZero() {
		config.DefaultBuyAmountEth = decimal.NewFromFloat(0.01)
	}
	if config.MaxSlippagePct.IsZero() {
		config.MaxSlippagePct = decimal.NewFromInt(15)
	}
	return &Engine{
		config:    config,
		feeds:     feeds,
		watchlist: NewWatchlist(),
		ledger:    NewLedger(),
		validator: token.NewValidator(rpc),
		buys:      buys,
		scanner:   detector.NewFeedDetector(feeds),
		delay:     interCandidateDelay,
	}
}

// ---------------------------------------------------------------------------
// Watchlist operations
// ---------------------------------------------------------------------------

// AddIdentity resolves a username or numeric FID string and adds it to the
// watchlist, enabled. Re-adding an identity overwrites its parameters.
// feed.ErrNotFound surfaces unchanged.
func (e *Engine) AddIdentity(ctx context.Context, nameOrFID string, buyAmountEth decimal.Decimal, slippagePct *decimal.Decimal) (WatchedIdentity, error) {
	user, err := e.feeds.ResolveUser(ctx, nameOrFID)
	if err != nil {
		return WatchedIdentity{}, fmt.Errorf("resolve %q: %w", nameOrFID, err)
	}
	if buyAmountEth.IsZero() {
		buyAmountEth = e.config.DefaultBuyAmountEth
	}
	identity := WatchedIdentity{
		FID:          user.FID,
		Username:     user.Username,
		BuyAmountEth: buyAmountEth,
		SlippagePct:  slippagePct,
		Enabled:      true,
	}
	e.watchlist.Put(identity)
	log.Info().
		Uint64("fid", user.FID).
		Str("username", user.Username).
		Str("buy_amount_eth", buyAmountEth.String()).
		Msg("sniper: identity added to watchlist")
	return identity, nil
}

// RemoveIdentity removes a watched identity. Idempotent.
func (e *Engine) RemoveIdentity(fid uint64) bool {
	removed := e.watchlist.Remove(fid)
	if removed {
		log.Info().Uint64("fid", fid).Msg("sniper: identity removed from watchlist")
	}
	return removed
}

// UpdateBuyAmount changes the purchase size for a watched identity.
func (e *Engine) UpdateBuyAmount(fid uint64, amount decimal.Decimal) bool {
	return e.watchlist.UpdateBuyAmount(fid, amount)
}

// SetEnabled toggles scanning for a watched identity.
func (e *Engine) SetEnabled(fid uint64, enabled bool) bool {
	return e.watchlist.SetEnabled(fid, enabled)
}

// ListWatched returns the watchlist in stable FID order.
func (e *Engine) ListWatched() []WatchedIdentity {
	return e.watchlist.List()
}

// ---------------------------------------------------------------------------
// Scheduling
// ---------------------------------------------------------------------------

// Start launches the periodic identity scan. The first cycle runs
// immediately. Calling Start while running warns and no-ops.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		log.Warn().Msg("sniper: monitoring already active, start ignored")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	interval := time.Duration(e.config.CheckIntervalS) * time.Second
	log.Info().Dur("interval", interval).Msg("sniper: monitoring started")

	go func() {
		defer close(e.done)
		e.RunCycle(runCtx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				e.RunCycle(runCtx)
			}
		}
	}()
}

// Stop cancels future cycles and waits for the loop to exit. A cycle already
// in flight finishes its current candidate work under the cancelled context.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel, done := e.cancel, e.done
	e.running = false
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	<-done
	log.Info().Msg("sniper: monitoring stopped")
}

// Running reports whether the periodic scan is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// RunCycle scans every enabled identity once and processes discovered
// candidates sequentially, in feed order. If the previous cycle is still
// running the trigger is skipped, never queued.
func (e *Engine) RunCycle(ctx context.Context) {
	if !e.cycleRunning.CompareAndSwap(false, true) {
		e.cyclesSkipped.Add(1)
		log.Warn().Msg("sniper: previous cycle still running, skipping trigger")
		return
	}
	defer e.cycleRunning.Store(false)

	e.cyclesRun.Add(1)
	started := time.Now()

	// The spacing between successive candidates is cycle-wide, not per
	// identity: the last candidate of one identity and the first of the
	// next are still separated by the delay.
	processed := 0
	for _, identity := range e.watchlist.List() {
		if !identity.Enabled {
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		candidates := e.scanner.Scan(ctx, identity.FID)
		for _, candidate := range candidates {
			if ctx.Err() != nil {
				return
			}
			if processed > 0 && e.delay > 0 {
				time.Sleep(e.delay)
			}
			e.processFeedCandidate(ctx, candidate, identity)
			processed++
		}
	}

	log.Debug().
		Dur("elapsed", time.Since(started)).
		Int("watched", e.watchlist.Size()).
		Msg("sniper: cycle complete")
}

// ---------------------------------------------------------------------------
// Candidate pipeline
// ---------------------------------------------------------------------------

// processFeedCandidate runs one feed-sourced candidate through the pipeline.
// Failures are isolated to the candidate; the cycle continues.
func (e *Engine) processFeedCandidate(ctx context.Context, candidate detector.Candidate, identity WatchedIdentity) {
	e.candidatesSeen.Add(1)
	key := candidate.DedupKey()
	if !e.ledger.Begin(key) {
		e.duplicates.Add(1)
		log.Debug().Str("address", candidate.ContractAddress).Msg("sniper: duplicate candidate dropped")
		return
	}
	defer e.ledger.Complete(key)

	info := e.validator.Validate(ctx, candidate.ContractAddress)
	if !info.Valid {
		e.invalidTokens.Add(1)
		log.Info().
			Str("address", candidate.ContractAddress).
			Str("origin", candidate.OriginHash).
			Msg("sniper: candidate failed validation, dropped")
		return
	}

	e.advisoryProbes(ctx, info)

	slippage := e.config.MaxSlippagePct
	if identity.SlippagePct != nil {
		slippage = *identity.SlippagePct
	}

	e.purchasesTried.Add(1)
	result := e.buys.Buy(ctx, info.Address, ethToWei(identity.BuyAmountEth), slippage)
	e.record(result)
	e.logResult(result, info, strconv.FormatUint(identity.FID, 10))
}

// HandleWalletCandidate is the creation detector's sink. Wallet candidates
// use the wallet's purchase parameters and the funding fallback ladder.
func (e *Engine) HandleWalletCandidate(ctx context.Context, candidate detector.Candidate, wallet detector.WatchedWallet) {
	e.candidatesSeen.Add(1)
	key := candidate.DedupKey()
	if !e.ledger.Begin(key) {
		e.duplicates.Add(1)
		return
	}
	defer e.ledger.Complete(key)

	info := e.validator.Validate(ctx, candidate.ContractAddress)
	if !info.Valid {
		e.invalidTokens.Add(1)
		log.Info().
			Str("address", candidate.ContractAddress).
			Str("deployer", string(wallet.Address)).
			Msg("sniper: wallet candidate failed validation, dropped")
		return
	}

	e.advisoryProbes(ctx, info)

	slippage := wallet.SlippagePct
	if slippage.IsZero() {
		slippage = e.config.MaxSlippagePct
	}

	e.purchasesTried.Add(1)
	result, err := e.buys.BuyWithFunding(ctx, info.Address, wallet.BuyAmountEth, slippage)
	if err != nil {
		log.Warn().Err(err).Str("token", string(info.Address)).Msg("sniper: funding check failed")
		return
	}
	if result == nil {
		// Skipped for insufficient funding; candidate stays processed.
		return
	}
	e.record(*result)
	e.logResult(*result, info, string(wallet.Address))
}

// advisoryProbes runs the buy-capability and tax probes. Both are logged
// and never gate the purchase.
func (e *Engine) advisoryProbes(ctx context.Context, info token.Info) {
	if !e.validator.HasBuyCapability(ctx, info.Address) {
		log.Warn().
			Str("token", string(info.Address)).
			Str("symbol", info.Symbol).
			Msg("sniper: no buy capability detected, attempting anyway")
	}
	if report := e.buys.DetectTax(ctx, info.Address); report.HasTax {
		log.Warn().
			Str("token", string(info.Address)).
			Float64("tax_pct", report.TaxPct).
			Msg("sniper: purchase tax detected")
	}
}

func (e *Engine) logResult(result buyer.Result, info token.Info, origin string) {
	if result.Success {
		e.purchasesWon.Add(1)
		log.Info().
			Str("attempt", result.AttemptID).
			Str("token", string(result.Token)).
			Str("symbol", info.Symbol).
			Str("tx", string(result.TxHash)).
			Str("origin", origin).
			Msg("sniper: purchase succeeded")
		return
	}
	log.Warn().
		Str("attempt", result.AttemptID).
		Str("token", string(result.Token)).
		Str("kind", string(result.ErrorKind)).
		Str("error", result.Err).
		Str("origin", origin).
		Msg("sniper: purchase failed, candidate will not be retried")
}

// record appends to the bounded recent-results ring.
func (e *Engine) record(result buyer.Result) {
	e.resultsMu.Lock()
	defer e.resultsMu.Unlock()
	e.results = append(e.results, result)
	if len(e.results) > resultHistory {
		e.results = e.results[len(e.results)-resultHistory:]
	}
}

// RecentResults returns a copy of the recent purchase results, oldest first.
func (e *Engine) RecentResults() []buyer.Result {
	e.resultsMu.Lock()
	defer e.resultsMu.Unlock()
	out := make([]buyer.Result, len(e.results))
	copy(out, e.results)
	return out
}

// ethToWei converts an ETH-unit decimal to wei.
func ethToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(18).BigInt()
}

// Stats is the engine counter snapshot for the control plane.
type Stats struct {
	CyclesRun      int64 `json:"cycles_run"`
	CyclesSkipped  int64 `json:"cycles_skipped"`
	CandidatesSeen int64 `json:"candidates_seen"`
	Duplicates     int64 `json:"duplicates"`
	InvalidTokens  int64 `json:"invalid_tokens"`
	PurchasesTried int64 `json:"purchases_tried"`
	PurchasesWon   int64 `json:"purchases_won"`
	LedgerSize     int   `json:"ledger_size"`
	Watched        int   `json:"watched"`
}

// EngineStats returns a snapshot of engine counters.
func (e *Engine) EngineStats() Stats {
	return Stats{
		CyclesRun:      e.cyclesRun.Load(),
		CyclesSkipped:  e.cyclesSkipped.Load(),
		CandidatesSeen: e.candidatesSeen.Load(),
		Duplicates:     e.duplicates.Load(),
		InvalidTokens:  e.invalidTokens.Load(),
		PurchasesTried: e.purchasesTried.Load(),
		PurchasesWon:   e.purchasesWon.Load(),
		LedgerSize:     e.ledger.Size(),
		Watched:        e.watchlist.Size(),
	}
}
