package buyer

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/caststrike-trading/caststrike/internal/evm"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Buy-Execution Engine — slippage-protected purchase with call cascades
// ---------------------------------------------------------------------------

// ErrorKind classifies a failed purchase attempt.
type ErrorKind string

const (
	ErrKindNone               ErrorKind = ""
	ErrKindNoQuote            ErrorKind = "NO_QUOTE"
	ErrKindNoBuyFunction      ErrorKind = "NO_BUY_FUNCTION"
	ErrKindTxReverted         ErrorKind = "TX_REVERTED"
	ErrKindNoReceipt          ErrorKind = "NO_RECEIPT"
	ErrKindUnsupportedFunding ErrorKind = "UNSUPPORTED_FUNDING"
)

// Result is the terminal record of one purchase attempt. Failed attempts are
// never retried; the pipeline marks the candidate processed either way.
type Result struct {
	AttemptID      string      `json:"attempt_id"`
	Token          evm.Address `json:"token"`
	Success        bool        `json:"success"`
	TxHash         evm.Hash    `json:"tx_hash,omitempty"`
	TokensReceived *big.Int    `json:"tokens_received,omitempty"`
	AssetSpentWei  *big.Int    `json:"asset_spent_wei,omitempty"`
	ErrorKind      ErrorKind   `json:"error_kind,omitempty"`
	Err            string      `json:"error,omitempty"`
	CompletedAt    time.Time   `json:"completed_at"`
}

// Config configures the buy-execution engine.
type Config struct {
	// Gas ceiling attached to every purchase submission.
	GasLimit uint64 `yaml:"gas_limit"`

	// Funding targets for wallet-scoped candidates.
	PrimaryTargetEth    decimal.Decimal `yaml:"primary_target_eth"`
	SecondaryTargetUSDC decimal.Decimal `yaml:"secondary_target_usdc"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		GasLimit:            500_000,
		PrimaryTargetEth:    decimal.NewFromFloat(0.035),
		SecondaryTargetUSDC: decimal.NewFromInt(100),
	}
}

// taxProbeWei is the fixed probe amount for tax detection (0.01 units).
var taxProbeWei = new(big.Int).Div(evm.WeiPerEth, big.NewInt(100))

// taxReportThresholdBps: shortfalls at or below 10 bps (0.1%) are noise.
const taxReportThresholdBps = 10

// Engine executes slippage-protected purchases over the chain capability.
type Engine struct {
	config Config
	rpc    evm.Client
	wallet evm.Address

	// Stats.
	attempts  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	skips     atomic.Int64
}

// NewEngine creates a buy-execution engine for one wallet.
func NewEngine(config Config, rpc evm.Client, wallet evm.Address) *Engine {
	if config.GasLimit == 0 {
		config.GasLimit = 500_000
	}
	return &Engine{config: config, rpc: rpc, wallet: wallet}
}

// MinAcceptableOut computes the slippage-bounded minimum output in integer
// basis-point arithmetic: quote * (10000 - pct*100) / 10000.
func MinAcceptableOut(quoteOut *big.Int, slippagePct decimal.Decimal) *big.Int {
	bps := big.NewInt(10_000 - slippagePct.Mul(decimal.NewFromInt(100)).IntPart())
	out := new(big.Int).Mul(quoteOut, bps)
	return out.Div(out, big.NewInt(10_000))
}

// Buy executes a purchase of token for amountWei of the native asset with
// the given slippage tolerance. Exactly one transaction is submitted when a
// cascade entry accepts the call; nothing is retried within the invocation.
func (e *Engine) Buy(ctx context.Context, tok evm.Address, amountWei *big.Int, slippagePct decimal.Decimal) Result {
	e.attempts.Add(1)
	result := Result{
		AttemptID: uuid.New().String()[:12],
		Token:     tok,
	}

	// 1. Quote resolution.
	quoteOut, err := e.resolveQuote(ctx, tok, amountWei)
	if err != nil {
		log.Warn().Err(err).Str("token", string(tok)).Msg("buyer: no quote available, skipping purchase")
		return e.finish(result, ErrKindNoQuote, err)
	}

	// 2. Slippage bound.
	minOut := MinAcceptableOut(quoteOut, slippagePct)

	log.Info().
		Str("attempt_id", result.AttemptID).
		Str("token", string(tok)).
		Str("amount_wei", amountWei.String()).
		Str("quote_out", quoteOut.String()).
		Str("min_out", minOut.String()).
		Str("slippage_pct", slippagePct.String()).
		Msg("buyer: executing purchase")

	// 3. Purchase cascade.
	txHash, err := e.submitCascade(ctx, tok, amountWei, minOut)
	if err != nil {
		log.Error().Err(err).Str("token", string(tok)).Msg("buyer: every purchase signature rejected")
		return e.finish(result, ErrKindNoBuyFunction, err)
	}
	result.TxHash = txHash

	// 4. Confirmation.
	receipt, err := e.rpc.WaitForReceipt(ctx, txHash)
	if err != nil {
		log.Error().Err(err).Str("tx", string(txHash)).Msg("buyer: receipt not received")
		return e.finish(result, ErrKindNoReceipt, err)
	}
	if !receipt.Succeeded() {
		log.Error().Str("tx", string(txHash)).Msg("buyer: transaction reverted")
		return e.finish(result, ErrKindTxReverted, fmt.Errorf("buyer: transaction %s reverted", txHash))
	}

	result.Success = true
	result.AssetSpentWei = new(big.Int).Set(amountWei)
	result.TokensReceived = e.postBuyBalance(ctx, tok)
	result.CompletedAt = time.Now()
	e.successes.Add(1)

	log.Info().
		Str("attempt_id", result.AttemptID).
		Str("token", string(tok)).
		Str("tx", string(txHash)).
		Str("tokens_received", result.TokensReceived.String()).
		Msg("buyer: purchase confirmed")

	return result
}

// resolveQuote tries the known read-only pricing entry points in priority
// order and returns the first nonzero token-out quote.
func (e *Engine) resolveQuote(ctx context.Context, tok evm.Address, amountWei *big.Int) (*big.Int, error) {
	// Direct quote: getBuyQuote(amount) -> tokensOut.
	if out, err := e.readUint(ctx, tok, evm.EncodeCall(evm.SelGetBuyQuote, evm.WordUint(amountWei))); err == nil && out.Sign() > 0 {
		return out, nil
	}

	// Spot price entries: tokensOut = amount * 1e18 / price.
	for _, selector := range []string{evm.SelPrice, evm.SelGetPrice} {
		price, err := e.readUint(ctx, tok, selector)
		if err != nil || price.Sign() == 0 {
			continue
		}
		out := new(big.Int).Mul(amountWei, evm.WeiPerEth)
		out.Div(out, price)
		if out.Sign() > 0 {
			return out, nil
		}
	}

	// Alternate quote: getBuyPrice(amount) -> tokensOut.
	if out, err := e.readUint(ctx, tok, evm.EncodeCall(evm.SelGetBuyPrice, evm.WordUint(amountWei))); err == nil && out.Sign() > 0 {
		return out, nil
	}

	return nil, fmt.Errorf("buyer: no pricing entry point answered for %s", tok)
}

// submitCascade tries the known purchase signatures in priority order and
// returns the hash of the first accepted submission.
func (e *Engine) submitCascade(ctx context.Context, tok evm.Address, amountWei, minOut *big.Int) (evm.Hash, error) {
	attempts := []struct {
		name  string
		input string
	}{
		{"buy(uint256)", evm.EncodeCall(evm.SelBuyMinOut, evm.WordUint(minOut))},
		{"buy(uint256,address)", evm.EncodeCall(evm.SelBuyMinOutRecipient, evm.WordUint(minOut), evm.WordAddress(e.wallet))},
		{"buy()", evm.SelBuyBare},
		{"buy(uint256,address,bytes)", evm.EncodeCall(evm.SelBuyExtended,
			evm.WordUint(minOut), evm.WordAddress(e.wallet), evm.WordBytesOffset(96), evm.WordBytesEmpty())},
	}

	var lastErr error
	for _, attempt := range attempts {
		hash, err := e.rpc.SendTransaction(ctx, evm.CallMsg{
			From:     e.wallet,
			To:       tok,
			Input:    attempt.input,
			Value:    amountWei,
			GasLimit: e.config.GasLimit,
		})
		if err != nil {
			log.Debug().Err(err).Str("signature", attempt.name).Str("token", string(tok)).
				Msg("buyer: purchase signature rejected, trying next")
			lastErr = err
			continue
		}
		log.Info().Str("signature", attempt.name).Str("tx", string(hash)).Msg("buyer: purchase submitted")
		return hash, nil
	}
	return "", fmt.Errorf("buyer: all purchase signatures rejected: %w", lastErr)
}

// postBuyBalance reads the wallet's token balance after a confirmed buy.
func (e *Engine) postBuyBalance(ctx context.Context, tok evm.Address) *big.Int {
	input := evm.EncodeCall(evm.SelBalanceOf, evm.WordAddress(e.wallet))
	balance, err := e.readUint(ctx, tok, input)
	if err != nil {
		log.Warn().Err(err).Str("token", string(tok)).Msg("buyer: post-buy balance read failed")
		return big.NewInt(0)
	}
	return balance
}

func (e *Engine) readUint(ctx context.Context, tok evm.Address, input string) (*big.Int, error) {
	result, err := e.rpc.Call(ctx, evm.CallMsg{To: tok, Input: input})
	if err != nil {
		return nil, err
	}
	return evm.DecodeUint256(result)
}

func (e *Engine) finish(result Result, kind ErrorKind, err error) Result {
	result.ErrorKind = kind
	if err != nil {
		result.Err = err.Error()
	}
	result.CompletedAt = time.Now()
	e.failures.Add(1)
	return result
}

// Stats reports engine counters.
type Stats struct {
	Attempts  int64 `json:"attempts"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
	Skips     int64 `json:"skips"`
}

// Stats returns purchase statistics.
func (e *Engine) Stats() Stats {
	return Stats{
		Attempts:  e.attempts.Load(),
		Successes: e.successes.Load(),
		Failures:  e.failures.Load(),
		Skips:     e.skips.Load(),
	}
}
