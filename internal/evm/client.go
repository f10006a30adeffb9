package evm

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// ---------------------------------------------------------------------------
// Chain client interface
// ---------------------------------------------------------------------------

// ErrInvalidAddress marks malformed candidate addresses. Callers discard
// these silently without touching the network.
var ErrInvalidAddress = errors.New("invalid address")

// ErrNoReceipt is returned when a submitted transaction cannot be confirmed
// within the receipt wait window.
var ErrNoReceipt = errors.New("no receipt")

// Client is the interface for EVM chain interactions.
// Implementations: LiveClient (real JSON-RPC endpoint), StubClient (testing).
type Client interface {
	// BlockNumber returns the latest block number.
	BlockNumber(ctx context.Context) (uint64, error)

	// GetBlockByNumber fetches a block, with full transactions when fullTx.
	GetBlockByNumber(ctx context.Context, number uint64, fullTx bool) (*Block, error)

	// GetTransactionReceipt fetches the receipt for a mined transaction.
	GetTransactionReceipt(ctx context.Context, hash Hash) (*Receipt, error)

	// GetBalance returns the native-asset balance of an account in wei.
	GetBalance(ctx context.Context, addr Address) (*big.Int, error)

	// GetCode returns the deployed bytecode at an address (0x-hex).
	GetCode(ctx context.Context, addr Address) (string, error)

	// Call executes a read-only contract call and returns the raw result.
	// Value, when non-nil, is attached for payable-call simulation.
	Call(ctx context.Context, msg CallMsg) (string, error)

	// SendTransaction submits a transaction and returns its pending hash.
	// Signing and nonce assignment are the wallet endpoint's responsibility;
	// concurrent submitters rely on the endpoint serializing nonces.
	SendTransaction(ctx context.Context, msg CallMsg) (Hash, error)

	// WaitForReceipt polls until the transaction is mined or the wait
	// window elapses, returning ErrNoReceipt in the latter case.
	WaitForReceipt(ctx context.Context, hash Hash) (*Receipt, error)

	// Health checks endpoint reachability.
	Health(ctx context.Context) error
}

// Config configures the EVM RPC client.
type Config struct {
	Endpoint       string        `yaml:"endpoint"`        // e.g. https://mainnet.base.org
	WSEndpoint     string        `yaml:"ws_endpoint"`     // e.g. wss://mainnet.base.org
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	ReceiptTimeout time.Duration `yaml:"receipt_timeout"` // max wait for confirmation
	ReceiptPoll    time.Duration `yaml:"receipt_poll"`    // receipt poll interval
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:       "https://mainnet.base.org",
		WSEndpoint:     "wss://mainnet.base.org",
		Timeout:        10 * time.Second,
		MaxRetries:     3,
		RateLimitRPS:   10,
		ReceiptTimeout: 90 * time.Second,
		ReceiptPoll:    2 * time.Second,
	}
}
