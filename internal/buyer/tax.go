package buyer

import (
	"context"
	"math/big"

	"github.com/caststrike-trading/caststrike/internal/evm"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Tax detection — read-only quote vs simulated execution shortfall
// Advisory only: the result is logged, never gates a purchase.
// ---------------------------------------------------------------------------

// TaxReport is the result of a purchase-time tax probe.
type TaxReport struct {
	HasTax bool    `json:"has_tax"`
	TaxPct float64 `json:"tax_pct,omitempty"`
}

// DetectTax compares the quoted output for a fixed probe amount against a
// simulated (non-state-changing) execution of the purchase call. A shortfall
// above 0.1% of the quote is reported as an estimated tax percentage.
func (e *Engine) DetectTax(ctx context.Context, tok evm.Address) TaxReport {
	quoteOut, err := e.resolveQuote(ctx, tok, taxProbeWei)
	if err != nil || quoteOut.Sign() == 0 {
		return TaxReport{}
	}

	simulated, ok := e.simulateBuy(ctx, tok, taxProbeWei)
	if !ok {
		// Simulation unavailable; cannot distinguish tax from none.
		return TaxReport{}
	}

	if simulated.Cmp(quoteOut) >= 0 {
		return TaxReport{}
	}

	shortfall := new(big.Int).Sub(quoteOut, simulated)
	bps := new(big.Int).Mul(shortfall, big.NewInt(10_000))
	bps.Div(bps, quoteOut)
	if bps.Int64() <= taxReportThresholdBps {
		return TaxReport{}
	}

	taxPct := float64(bps.Int64()) / 100.0
	log.Warn().
		Str("token", string(tok)).
		Float64("tax_pct", taxPct).
		Str("quoted", quoteOut.String()).
		Str("simulated", simulated.String()).
		Msg("buyer: purchase tax detected, proceeding anyway")

	return TaxReport{HasTax: true, TaxPct: taxPct}
}

// simulateBuy executes the purchase call as an eth_call with minOut=0,
// trying the minOut-only then minOut+recipient signatures.
func (e *Engine) simulateBuy(ctx context.Context, tok evm.Address, amountWei *big.Int) (*big.Int, bool) {
	zero := big.NewInt(0)
	inputs := []string{
		evm.EncodeCall(evm.SelBuyMinOut, evm.WordUint(zero)),
		evm.EncodeCall(evm.SelBuyMinOutRecipient, evm.WordUint(zero), evm.WordAddress(e.wallet)),
	}
	for _, input := range inputs {
		result, err := e.rpc.Call(ctx, evm.CallMsg{
			From:  e.wallet,
			To:    tok,
			Input: input,
			Value: amountWei,
		})
		if err != nil {
			continue
		}
		out, err := evm.DecodeUint256(result)
		if err != nil {
			continue
		}
		return out, true
	}
	return nil, false
}
