package evm

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// Address is a 20-byte EVM address, normalized to lowercase 0x-hex.
type Address string

// Hash is a 32-byte transaction or block hash as 0x-hex.
type Hash string

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidAddress reports whether s is a well-formed 20-byte hex address.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// NormalizeAddress lowercases a well-formed address. Returns an error for
// malformed input so callers fail closed before any network call.
func NormalizeAddress(s string) (Address, error) {
	if !ValidAddress(s) {
		return "", fmt.Errorf("evm: %w: %q", ErrInvalidAddress, s)
	}
	return Address(strings.ToLower(s)), nil
}

// ---------------------------------------------------------------------------
// Chain types
// ---------------------------------------------------------------------------

// Block is a block with its transactions.
type Block struct {
	Number       uint64        `json:"number"`
	Hash         Hash          `json:"hash"`
	Timestamp    uint64        `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
}

// Transaction is a chain transaction. To is empty for contract creations.
type Transaction struct {
	Hash  Hash     `json:"hash"`
	From  Address  `json:"from"`
	To    Address  `json:"to,omitempty"`
	Input string   `json:"input"` // 0x-hex call data
	Value *big.Int `json:"value"`
}

// IsContractCreation reports whether the transaction deploys a contract.
func (t Transaction) IsContractCreation() bool {
	return t.To == ""
}

// Receipt is a transaction receipt.
type Receipt struct {
	TxHash          Hash    `json:"tx_hash"`
	Status          uint64  `json:"status"` // 1 = success, 0 = reverted
	To              Address `json:"to,omitempty"`
	ContractAddress Address `json:"contract_address,omitempty"` // set for creations
	GasUsed         uint64  `json:"gas_used"`
	BlockNumber     uint64  `json:"block_number"`
}

// Succeeded reports whether the transaction finalized successfully.
func (r Receipt) Succeeded() bool {
	return r.Status == 1
}

// CallMsg describes a contract call or transaction submission.
type CallMsg struct {
	From     Address  // sender; required for submissions
	To       Address  // target contract
	Input    string   // 0x-hex encoded call data
	Value    *big.Int // attached native asset, nil = zero
	GasLimit uint64   // 0 = node estimate
}

// Well-known contracts on Base mainnet.
const (
	// USDCAddress is the native USDC contract (6 decimals).
	USDCAddress Address = "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"
)

// USDCDecimals is the decimal precision of USDC.
const USDCDecimals = 6

// WeiPerEth is 10^18, the wei denomination of one native asset unit.
var WeiPerEth = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
