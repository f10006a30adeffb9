package buyer

import (
	"context"
	"math/big"
	"testing"

	"github.com/caststrike-trading/caststrike/internal/evm"
	"github.com/stretchr/testify/assert"
)

func TestDetectTaxReportsShortfall(t *testing.T) {
	stub := evm.NewStubClient()
	e := newTestEngine(stub)

	// Quoted 10000, simulation delivers 9000: a 10% tax.
	stub.SetCallResult(testToken, evm.SelGetBuyQuote, evm.EncodeUint256Result(big.NewInt(10_000)))
	stub.SetCallResult(testToken, evm.SelBuyMinOut, evm.EncodeUint256Result(big.NewInt(9_000)))

	report := e.DetectTax(context.Background(), testToken)
	assert.True(t, report.HasTax)
	assert.InDelta(t, 10.0, report.TaxPct, 0.01)
}

func TestDetectTaxCleanToken(t *testing.T) {
	stub := evm.NewStubClient()
	e := newTestEngine(stub)

	stub.SetCallResult(testToken, evm.SelGetBuyQuote, evm.EncodeUint256Result(big.NewInt(10_000)))
	stub.SetCallResult(testToken, evm.SelBuyMinOut, evm.EncodeUint256Result(big.NewInt(10_000)))

	report := e.DetectTax(context.Background(), testToken)
	assert.False(t, report.HasTax)
}

func TestDetectTaxShortfallBelowThreshold(t *testing.T) {
	stub := evm.NewStubClient()
	e := newTestEngine(stub)

	// 5 bps shortfall is rounding noise, not tax.
	stub.SetCallResult(testToken, evm.SelGetBuyQuote, evm.EncodeUint256Result(big.NewInt(10_000)))
	stub.SetCallResult(testToken, evm.SelBuyMinOut, evm.EncodeUint256Result(big.NewInt(9_995)))

	report := e.DetectTax(context.Background(), testToken)
	assert.False(t, report.HasTax)
}

func TestDetectTaxSimulationUnavailable(t *testing.T) {
	stub := evm.NewStubClient()
	e := newTestEngine(stub)

	// Quote only; both simulation signatures revert.
	stub.SetCallResult(testToken, evm.SelGetBuyQuote, evm.EncodeUint256Result(big.NewInt(10_000)))

	report := e.DetectTax(context.Background(), testToken)
	assert.False(t, report.HasTax, "unavailable simulation must not be reported as tax")
}

func TestDetectTaxRecipientSignatureFallback(t *testing.T) {
	stub := evm.NewStubClient()
	e := newTestEngine(stub)

	stub.SetCallResult(testToken, evm.SelGetBuyQuote, evm.EncodeUint256Result(big.NewInt(10_000)))
	stub.SetCallError(testToken, evm.SelBuyMinOut, "function not found")
	stub.SetCallResult(testToken, evm.SelBuyMinOutRecipient, evm.EncodeUint256Result(big.NewInt(8_000)))

	report := e.DetectTax(context.Background(), testToken)
	assert.True(t, report.HasTax)
	assert.InDelta(t, 20.0, report.TaxPct, 0.01)
}

func TestDetectTaxNoQuote(t *testing.T) {
	stub := evm.NewStubClient()
	e := newTestEngine(stub)

	report := e.DetectTax(context.Background(), testToken)
	assert.False(t, report.HasTax)
}
