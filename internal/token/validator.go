package token

import (
	"context"
	"math/big"

	"github.com/caststrike-trading/caststrike/internal/evm"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Token Validator — live ERC20 introspection with fail-closed semantics
// ---------------------------------------------------------------------------

// Info describes an introspected token contract.
type Info struct {
	Address     evm.Address `json:"address"`
	Name        string      `json:"name"`
	Symbol      string      `json:"symbol"`
	Decimals    uint8       `json:"decimals"`
	TotalSupply *big.Int    `json:"total_supply"`
	Valid       bool        `json:"valid"`
}

// Safe defaults substituted when an individual metadata read fails.
const (
	defaultName     = "Unknown"
	defaultSymbol   = "UNKNOWN"
	defaultDecimals = 18
)

// probeAmount is the fixed amount used for the buy-capability quote probe.
var probeAmount = new(big.Int).Div(evm.WeiPerEth, big.NewInt(1000)) // 0.001 units

// Validator introspects candidate contracts over the chain capability.
type Validator struct {
	rpc evm.Client
}

// NewValidator creates a token validator.
func NewValidator(rpc evm.Client) *Validator {
	return &Validator{rpc: rpc}
}

// Validate checks whether addr is a live token contract and reports its
// metadata. Malformed addresses fail closed without any network call.
// Individual metadata reads fall back to safe defaults; only a contract
// with no deployed code is marked invalid.
func (v *Validator) Validate(ctx context.Context, addr string) Info {
	normalized, err := evm.NormalizeAddress(addr)
	if err != nil {
		return Info{
			Address:     evm.Address(addr),
			Decimals:    defaultDecimals,
			TotalSupply: big.NewInt(0),
			Valid:       false,
		}
	}

	code, err := v.rpc.GetCode(ctx, normalized)
	if err != nil || len(code) <= 2 {
		if err != nil {
			log.Warn().Err(err).Str("address", string(normalized)).Msg("validator: code read failed")
		}
		return Info{
			Address:     normalized,
			Decimals:    defaultDecimals,
			TotalSupply: big.NewInt(0),
			Valid:       false,
		}
	}

	info := Info{
		Address:     normalized,
		Name:        defaultName,
		Symbol:      defaultSymbol,
		Decimals:    defaultDecimals,
		TotalSupply: big.NewInt(0),
		Valid:       true,
	}

	if name, err := v.readString(ctx, normalized, evm.SelName); err == nil && name != "" {
		info.Name = name
	}
	if symbol, err := v.readString(ctx, normalized, evm.SelSymbol); err == nil && symbol != "" {
		info.Symbol = symbol
	}
	if decimals, err := v.readUint(ctx, normalized, evm.SelDecimals); err == nil && decimals.IsUint64() && decimals.Uint64() <= 255 {
		info.Decimals = uint8(decimals.Uint64())
	}
	if supply, err := v.readUint(ctx, normalized, evm.SelTotalSupply); err == nil {
		info.TotalSupply = supply
	}

	log.Debug().
		Str("address", string(normalized)).
		Str("name", info.Name).
		Str("symbol", info.Symbol).
		Uint8("decimals", info.Decimals).
		Msg("validator: token introspected")

	return info
}

// HasBuyCapability probes whether the contract exposes a purchase path.
// Attempts a zero-value buy quote; when that fails, falls back to a coarse
// bytecode-presence heuristic. Advisory only - never blocks a purchase.
func (v *Validator) HasBuyCapability(ctx context.Context, addr evm.Address) bool {
	input := evm.EncodeCall(evm.SelGetBuyQuote, evm.WordUint(probeAmount))
	if _, err := v.rpc.Call(ctx, evm.CallMsg{To: addr, Input: input}); err == nil {
		return true
	}

	code, err := v.rpc.GetCode(ctx, addr)
	if err != nil {
		return false
	}
	// Contracts below this size are proxies-of-nothing or selfdestructed.
	return len(code) > 1000
}

func (v *Validator) readString(ctx context.Context, addr evm.Address, selector string) (string, error) {
	result, err := v.rpc.Call(ctx, evm.CallMsg{To: addr, Input: selector})
	if err != nil {
		return "", err
	}
	return evm.DecodeString(result)
}

func (v *Validator) readUint(ctx context.Context, addr evm.Address, selector string) (*big.Int, error) {
	result, err := v.rpc.Call(ctx, evm.CallMsg{To: addr, Input: selector})
	if err != nil {
		return nil, err
	}
	return evm.DecodeUint256(result)
}
