package detector

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/caststrike-trading/caststrike/internal/evm"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Contract-Creation Detector — watches deployer wallets for new contracts
// Runs on its own timer, independent of the identity scan cycle.
// ---------------------------------------------------------------------------

// WatchedWallet is one monitored contract-creation source. Static
// configuration; immutable after load.
type WatchedWallet struct {
	Address      evm.Address     `yaml:"address" json:"address"`
	BuyAmountEth decimal.Decimal `yaml:"buy_amount_eth" json:"buy_amount_eth"`
	SlippagePct  decimal.Decimal `yaml:"slippage_pct" json:"slippage_pct"`
	Description  string          `yaml:"description" json:"description"`
}

// WalletSink receives wallet-sourced candidates together with the wallet's
// purchase parameters. The sink runs the full dedup -> validate -> buy
// pipeline with funding fallback enabled.
type WalletSink func(ctx context.Context, candidate Candidate, wallet WatchedWallet)

// CreationConfig configures the contract-creation detector.
type CreationConfig struct {
	// Block lookback window scanned each cycle.
	BlockWindow uint64 `yaml:"block_window"`

	// Scan cadence when no head subscription is driving the detector.
	ScanIntervalS int `yaml:"scan_interval_s"`
}

// DefaultCreationConfig returns production defaults.
func DefaultCreationConfig() CreationConfig {
	return CreationConfig{
		BlockWindow:   100,
		ScanIntervalS: 30,
	}
}

// CreationDetector scans recent blocks for contract deployments and
// purchase-call activations originating from watched wallets.
type CreationDetector struct {
	config  CreationConfig
	rpc     evm.Client
	heads   *evm.HeadSource // optional; nil = timer only
	wallets map[evm.Address]WatchedWallet
	sink    WalletSink

	// Overlap guard: a scan still running when the next trigger fires
	// must not start a second concurrent scan against the same wallet.
	inProgress atomic.Bool

	// Stats.
	scansRun        atomic.Int64
	scansSkipped    atomic.Int64
	blocksScanned   atomic.Int64
	candidatesFound atomic.Int64
}

// NewCreationDetector creates a contract-creation detector.
func NewCreationDetector(config CreationConfig, rpc evm.Client, heads *evm.HeadSource, wallets []WatchedWallet, sink WalletSink) *CreationDetector {
	if config.BlockWindow == 0 {
		config.BlockWindow = 100
	}
	if config.ScanIntervalS == 0 {
		config.ScanIntervalS = 30
	}
	byAddr := make(map[evm.Address]WatchedWallet, len(wallets))
	for _, w := range wallets {
		byAddr[evm.Address(strings.ToLower(string(w.Address)))] = w
	}
	return &CreationDetector{
		config:  config,
		rpc:     rpc,
		heads:   heads,
		wallets: byAddr,
		sink:    sink,
	}
}

// Run drives periodic scans until ctx is cancelled. New-head notifications,
// when available, trigger a scan ahead of the timer. Blocks until done.
func (d *CreationDetector) Run(ctx context.Context) {
	if len(d.wallets) == 0 {
		log.Info().Msg("creation: no watched wallets configured, detector idle")
		<-ctx.Done()
		return
	}

	interval := time.Duration(d.config.ScanIntervalS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var headCh <-chan uint64
	if d.heads != nil {
		headCh = d.heads.Start(ctx)
	}

	log.Info().
		Int("wallets", len(d.wallets)).
		Uint64("block_window", d.config.BlockWindow).
		Dur("interval", interval).
		Msg("creation: detector started")

	// First scan immediately.
	d.scanOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("creation: detector stopped")
			return
		case <-ticker.C:
			d.scanOnce(ctx)
		case _, ok := <-headCh:
			if !ok {
				headCh = nil
				continue
			}
			d.scanOnce(ctx)
		}
	}
}

// scanOnce scans the recent block window for watched-wallet activity.
// Per-block and per-transaction failures skip only that item.
func (d *CreationDetector) scanOnce(ctx context.Context) {
	if !d.inProgress.CompareAndSwap(false, true) {
		d.scansSkipped.Add(1)
		log.Debug().Msg("creation: previous scan still running, skipping trigger")
		return
	}
	defer d.inProgress.Store(false)

	latest, err := d.rpc.BlockNumber(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("creation: block number fetch failed")
		return
	}

	from := uint64(0)
	if latest > d.config.BlockWindow {
		from = latest - d.config.BlockWindow
	}

	d.scansRun.Add(1)
	log.Debug().Uint64("from", from).Uint64("to", latest).Msg("creation: scanning block window")

	for number := from; number <= latest; number++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		block, err := d.rpc.GetBlockByNumber(ctx, number, true)
		if err != nil {
			log.Debug().Err(err).Uint64("block", number).Msg("creation: block fetch failed, skipping")
			continue
		}
		d.blocksScanned.Add(1)

		for _, tx := range block.Transactions {
			wallet, watched := d.wallets[tx.From]
			if !watched {
				continue
			}
			d.inspectTransaction(ctx, tx, wallet)
		}
	}
}

// inspectTransaction applies the two detection cases to one transaction
// from a watched wallet.
func (d *CreationDetector) inspectTransaction(ctx context.Context, tx evm.Transaction, wallet WatchedWallet) {
	// Case A: contract creation - no recipient, receipt carries the address.
	if tx.IsContractCreation() {
		receipt, err := d.rpc.GetTransactionReceipt(ctx, tx.Hash)
		if err != nil {
			log.Debug().Err(err).Str("tx", string(tx.Hash)).Msg("creation: receipt fetch failed, skipping")
			return
		}
		if receipt.ContractAddress == "" {
			return
		}
		log.Info().
			Str("contract", string(receipt.ContractAddress)).
			Str("deployer", string(wallet.Address)).
			Str("tx", string(tx.Hash)).
			Msg("creation: new contract deployment detected")
		d.emit(ctx, receipt.ContractAddress, wallet)
		return
	}

	// Case B: activation - a purchase call from the watched wallet marks
	// the recipient contract as live and buyable.
	for _, selector := range evm.PurchaseSelectors {
		if evm.HasSelector(tx.Input, selector) {
			log.Info().
				Str("contract", string(tx.To)).
				Str("activator", string(wallet.Address)).
				Str("tx", string(tx.Hash)).
				Msg("creation: contract activation (purchase call) detected")
			d.emit(ctx, tx.To, wallet)
			return
		}
	}
}

func (d *CreationDetector) emit(ctx context.Context, contract evm.Address, wallet WatchedWallet) {
	d.candidatesFound.Add(1)
	d.sink(ctx, Candidate{
		ContractAddress: string(contract),
		OriginHash:      string(wallet.Address),
		OriginIdentity:  string(wallet.Address),
		Source:          SourceWallet,
		DiscoveredAt:    time.Now(),
	}, wallet)
}

// CreationStats reports detector counters.
type CreationStats struct {
	ScansRun        int64 `json:"scans_run"`
	ScansSkipped    int64 `json:"scans_skipped"`
	BlocksScanned   int64 `json:"blocks_scanned"`
	CandidatesFound int64 `json:"candidates_found"`
}

// Stats returns detector statistics.
func (d *CreationDetector) Stats() CreationStats {
	return CreationStats{
		ScansRun:        d.scansRun.Load(),
		ScansSkipped:    d.scansSkipped.Load(),
		BlocksScanned:   d.blocksScanned.Load(),
		CandidatesFound: d.candidatesFound.Load(),
	}
}
