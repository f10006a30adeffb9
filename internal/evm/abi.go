package evm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// ---------------------------------------------------------------------------
// Minimal ABI layer — 4-byte selectors + static argument encoding
// ---------------------------------------------------------------------------

// Function selectors (first 4 bytes of keccak256 of the canonical signature).
const (
	// ERC20 reads.
	SelName        = "0x06fdde03" // name()
	SelSymbol      = "0x95d89b41" // symbol()
	SelDecimals    = "0x313ce567" // decimals()
	SelTotalSupply = "0x18160ddd" // totalSupply()
	SelBalanceOf   = "0x70a08231" // balanceOf(address)

	// Bonding-curve quote entry points, in cascade priority order.
	SelGetBuyQuote = "0xb390452c" // getBuyQuote(uint256)
	SelPrice       = "0xa035b1fe" // price()
	SelGetPrice    = "0x98d5fdca" // getPrice()
	SelGetBuyPrice = "0x08d4db14" // getBuyPrice(uint256)

	// Purchase entry points, in cascade priority order.
	SelBuyMinOut          = "0xd96a094a" // buy(uint256)
	SelBuyMinOutRecipient = "0x7deb6025" // buy(uint256,address)
	SelBuyBare            = "0xa6f2ae3a" // buy()
	SelBuyExtended        = "0xcb36ea38" // buy(uint256,address,bytes)
)

// PurchaseSelectors are the call-data prefixes that identify a purchase
// transaction. The creation detector matches these against observed call
// data; the buy cascade submits them in this order.
var PurchaseSelectors = []string{
	SelBuyMinOut,
	SelBuyMinOutRecipient,
	SelBuyBare,
	SelBuyExtended,
}

// EncodeCall builds 0x-hex call data from a selector and pre-encoded
// 32-byte argument words.
func EncodeCall(selector string, words ...string) string {
	var b strings.Builder
	b.WriteString(selector)
	for _, w := range words {
		b.WriteString(w)
	}
	return b.String()
}

// WordUint encodes an unsigned integer as a 32-byte ABI word.
func WordUint(v *big.Int) string {
	return fmt.Sprintf("%064x", v)
}

// WordAddress encodes an address as a left-padded 32-byte ABI word.
func WordAddress(a Address) string {
	return fmt.Sprintf("%064s", strings.TrimPrefix(string(a), "0x"))
}

// WordBytesOffset encodes the head word of a dynamic bytes argument located
// at the given byte offset in the argument area.
func WordBytesOffset(offset int) string {
	return WordUint(big.NewInt(int64(offset)))
}

// WordBytesEmpty encodes an empty dynamic bytes tail (length word only).
func WordBytesEmpty() string {
	return WordUint(big.NewInt(0))
}

// EncodeUint256Result encodes a uint256 return value as 0x-hex call output.
func EncodeUint256Result(v *big.Int) string {
	return "0x" + WordUint(v)
}

// EncodeStringResult encodes a dynamic string return value as 0x-hex call
// output (offset word, length word, padded data).
func EncodeStringResult(s string) string {
	data := []byte(s)
	padded := make([]byte, (len(data)+31)/32*32)
	copy(padded, data)
	return "0x" + WordUint(big.NewInt(32)) + WordUint(big.NewInt(int64(len(data)))) + hex.EncodeToString(padded)
}

// DecodeUint256 parses a single uint256 return value.
func DecodeUint256(data string) (*big.Int, error) {
	raw, err := decodeHex(data)
	if err != nil {
		return nil, err
	}
	if len(raw) < 32 {
		return nil, fmt.Errorf("abi: short uint256 return (%d bytes)", len(raw))
	}
	return new(big.Int).SetBytes(raw[:32]), nil
}

// DecodeString parses a single dynamic string return value.
func DecodeString(data string) (string, error) {
	raw, err := decodeHex(data)
	if err != nil {
		return "", err
	}
	if len(raw) < 64 {
		return "", fmt.Errorf("abi: short string return (%d bytes)", len(raw))
	}
	// Bounds are checked by subtraction so oversized head words from a
	// hostile contract cannot wrap uint64 arithmetic.
	offsetWord := new(big.Int).SetBytes(raw[:32])
	if !offsetWord.IsUint64() || offsetWord.Uint64() > uint64(len(raw))-32 {
		return "", fmt.Errorf("abi: string offset %s out of range", offsetWord)
	}
	offset := offsetWord.Uint64()
	lengthWord := new(big.Int).SetBytes(raw[offset : offset+32])
	if !lengthWord.IsUint64() || lengthWord.Uint64() > uint64(len(raw))-offset-32 {
		return "", fmt.Errorf("abi: string length %s out of range", lengthWord)
	}
	length := lengthWord.Uint64()
	return string(raw[offset+32 : offset+32+length]), nil
}

// HasSelector reports whether call data begins with the given selector.
func HasSelector(input, selector string) bool {
	return strings.HasPrefix(strings.ToLower(input), strings.ToLower(selector))
}

func decodeHex(data string) ([]byte, error) {
	s := strings.TrimPrefix(data, "0x")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("abi: decode hex: %w", err)
	}
	return raw, nil
}
