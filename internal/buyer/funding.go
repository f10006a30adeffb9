package buyer

import (
	"context"
	"math/big"

	"github.com/caststrike-trading/caststrike/internal/evm"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Funding fallback — primary / secondary asset balance gate
// Used only for wallet-sourced candidates; feed-sourced buys spend the
// configured amount directly.
// ---------------------------------------------------------------------------

// FundingDecision is the outcome of the pre-purchase balance check.
type FundingDecision struct {
	Proceed   bool     `json:"proceed"`
	AmountWei *big.Int `json:"amount_wei,omitempty"`
	// Degraded marks a purchase running on residual primary balance while
	// the budget is nominally covered by the secondary asset. A failed
	// degraded purchase reports UnsupportedFunding: converting the
	// secondary asset is out of scope.
	Degraded bool `json:"degraded"`
}

// CheckFunding compares wallet balances against the funding targets. The
// primary target is the intended spend; a zero targetEth falls back to the
// configured default.
func (e *Engine) CheckFunding(ctx context.Context, targetEth decimal.Decimal) (FundingDecision, error) {
	ethBalance, err := e.rpc.GetBalance(ctx, e.wallet)
	if err != nil {
		return FundingDecision{}, err
	}

	if targetEth.IsZero() {
		targetEth = e.config.PrimaryTargetEth
	}
	primaryTarget := ethToWei(targetEth)
	if ethBalance.Cmp(primaryTarget) >= 0 {
		return FundingDecision{Proceed: true, AmountWei: primaryTarget}, nil
	}

	usdcBalance, err := e.usdcBalance(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("buyer: secondary asset balance read failed")
		usdcBalance = big.NewInt(0)
	}

	secondaryTarget := usdcToUnits(e.config.SecondaryTargetUSDC)
	if usdcBalance.Cmp(secondaryTarget) >= 0 {
		log.Info().
			Str("eth_balance_wei", ethBalance.String()).
			Str("usdc_balance", usdcBalance.String()).
			Msg("buyer: primary target unmet, secondary covered - proceeding with residual balance")
		return FundingDecision{Proceed: true, AmountWei: ethBalance, Degraded: true}, nil
	}

	log.Warn().
		Str("eth_balance_wei", ethBalance.String()).
		Str("eth_target_wei", primaryTarget.String()).
		Str("usdc_balance", usdcBalance.String()).
		Str("usdc_target", secondaryTarget.String()).
		Msg("buyer: neither funding target met, purchase will be skipped")
	return FundingDecision{Proceed: false}, nil
}

// BuyWithFunding runs the funding gate for the given spend, then Buy. A nil
// result means the purchase was skipped for insufficient funding; the caller
// still marks the candidate processed.
func (e *Engine) BuyWithFunding(ctx context.Context, tok evm.Address, amountEth, slippagePct decimal.Decimal) (*Result, error) {
	decision, err := e.CheckFunding(ctx, amountEth)
	if err != nil {
		return nil, err
	}
	if !decision.Proceed {
		e.skips.Add(1)
		log.Warn().Str("token", string(tok)).Msg("buyer: insufficient funding, purchase skipped")
		return nil, nil
	}

	result := e.Buy(ctx, tok, decision.AmountWei, slippagePct)
	if decision.Degraded && !result.Success {
		result.ErrorKind = ErrKindUnsupportedFunding
	}
	return &result, nil
}

// usdcBalance reads the wallet's USDC balance in 6-decimal units.
func (e *Engine) usdcBalance(ctx context.Context) (*big.Int, error) {
	input := evm.EncodeCall(evm.SelBalanceOf, evm.WordAddress(e.wallet))
	return e.readUint(ctx, evm.USDCAddress, input)
}

func ethToWei(amount decimal.Decimal) *big.Int {
	return amount.Mul(decimal.NewFromBigInt(evm.WeiPerEth, 0)).BigInt()
}

func usdcToUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(evm.USDCDecimals).BigInt()
}
