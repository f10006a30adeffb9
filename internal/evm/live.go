package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Live RPC Client — EVM JSON-RPC with rate limiting, retry & circuit breaker
// ---------------------------------------------------------------------------

// LiveClient connects to a real EVM JSON-RPC endpoint.
type LiveClient struct {
	config     Config
	httpClient *http.Client

	// Rate limiter (token bucket).
	limiter       chan struct{}
	limiterCancel context.CancelFunc

	// Unique request ID generator.
	nextID atomic.Int64

	// Circuit breaker.
	consecutiveErrors atomic.Int64
	circuitOpen       atomic.Bool

	// Stats.
	requestCount atomic.Int64
	errorCount   atomic.Int64
	latencySum   atomic.Int64 // cumulative microseconds
}

const (
	circuitBreakerThreshold = 10 // open after 10 consecutive errors
	circuitBreakerCooldown  = 30 * time.Second
)

// NewLiveClient creates a live EVM RPC client.
func NewLiveClient(config Config) *LiveClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 10
	}
	if config.ReceiptTimeout == 0 {
		config.ReceiptTimeout = 90 * time.Second
	}
	if config.ReceiptPoll == 0 {
		config.ReceiptPoll = 2 * time.Second
	}

	// Token bucket rate limiter.
	bucketSize := int(config.RateLimitRPS)
	if bucketSize < 1 {
		bucketSize = 1
	}
	limiter := make(chan struct{}, bucketSize)
	for i := 0; i < bucketSize; i++ {
		limiter <- struct{}{}
	}

	limiterCtx, limiterCancel := context.WithCancel(context.Background())

	client := &LiveClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:       limiter,
		limiterCancel: limiterCancel,
	}

	// Refill tokens at configured RPS.
	go func() {
		interval := time.Duration(float64(time.Second) / config.RateLimitRPS)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-limiterCtx.Done():
				return
			case <-ticker.C:
				select {
				case client.limiter <- struct{}{}:
				default: // bucket full
				}
			}
		}
	}()

	return client
}

// Close shuts down the RPC client.
func (c *LiveClient) Close() {
	c.limiterCancel()
}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call makes a rate-limited, retried JSON-RPC call.
func (c *LiveClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	// Circuit breaker check.
	if c.circuitOpen.Load() {
		return nil, fmt.Errorf("rpc: circuit breaker open for %s (too many consecutive errors)", method)
	}

	// Acquire rate limit token.
	select {
	case <-c.limiter:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		start := time.Now()

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("rpc: create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("rpc: %s http error: %w", method, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("rpc: %s read response: %w", method, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		c.requestCount.Add(1)
		c.latencySum.Add(time.Since(start).Microseconds())

		if resp.StatusCode == 429 {
			lastErr = fmt.Errorf("rpc: %s rate limited (429)", method)
			c.errorCount.Add(1)
			// Longer backoff on 429 - don't count as circuit-breaker error.
			select {
			case <-time.After(time.Duration(2<<uint(attempt)) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode != 200 {
			lastErr = fmt.Errorf("rpc: %s HTTP %d: %s", method, resp.StatusCode, string(respBody))
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("rpc: %s unmarshal response: %w", method, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		if rpcResp.Error != nil {
			// A structured node error (e.g. execution reverted) is a valid
			// response, not an endpoint failure.
			c.resetErrors()
			return nil, fmt.Errorf("rpc: %s error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
		}

		c.resetErrors()
		return rpcResp.Result, nil
	}

	return nil, fmt.Errorf("rpc: %s failed after %d attempts: %w", method, c.config.MaxRetries+1, lastErr)
}

// recordError increments consecutive errors and opens circuit breaker if needed.
func (c *LiveClient) recordError() {
	count := c.consecutiveErrors.Add(1)
	if count >= circuitBreakerThreshold {
		if c.circuitOpen.CompareAndSwap(false, true) {
			log.Error().Int64("errors", count).Msg("rpc: CIRCUIT BREAKER OPEN - too many consecutive errors")
			go func() {
				time.Sleep(circuitBreakerCooldown)
				c.circuitOpen.Store(false)
				c.consecutiveErrors.Store(0)
				log.Info().Msg("rpc: circuit breaker reset")
			}()
		}
	}
}

func (c *LiveClient) resetErrors() {
	c.consecutiveErrors.Store(0)
}

// ---------------------------------------------------------------------------
// Client interface implementation
// ---------------------------------------------------------------------------

// BlockNumber returns the latest block number.
func (c *LiveClient) BlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}
	return decodeQuantityResult(result, "eth_blockNumber")
}

// GetBlockByNumber fetches a block by number.
func (c *LiveClient) GetBlockByNumber(ctx context.Context, number uint64, fullTx bool) (*Block, error) {
	result, err := c.call(ctx, "eth_getBlockByNumber", []any{hexUint(number), fullTx})
	if err != nil {
		return nil, err
	}

	var raw struct {
		Number       string `json:"number"`
		Hash         string `json:"hash"`
		Timestamp    string `json:"timestamp"`
		Transactions []struct {
			Hash  string `json:"hash"`
			From  string `json:"from"`
			To    string `json:"to"`
			Input string `json:"input"`
			Value string `json:"value"`
		} `json:"transactions"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("rpc: parse block %d: %w", number, err)
	}
	if raw.Hash == "" {
		return nil, fmt.Errorf("rpc: block %d not found", number)
	}

	block := &Block{
		Number:    mustHexUint(raw.Number),
		Hash:      Hash(raw.Hash),
		Timestamp: mustHexUint(raw.Timestamp),
	}
	for _, tx := range raw.Transactions {
		block.Transactions = append(block.Transactions, Transaction{
			Hash:  Hash(tx.Hash),
			From:  Address(strings.ToLower(tx.From)),
			To:    Address(strings.ToLower(tx.To)),
			Input: tx.Input,
			Value: hexToBig(tx.Value),
		})
	}
	return block, nil
}

// GetTransactionReceipt fetches the receipt for a mined transaction.
func (c *LiveClient) GetTransactionReceipt(ctx context.Context, hash Hash) (*Receipt, error) {
	result, err := c.call(ctx, "eth_getTransactionReceipt", []any{string(hash)})
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, fmt.Errorf("rpc: receipt for %s not yet available", hash)
	}

	var raw struct {
		TransactionHash string `json:"transactionHash"`
		Status          string `json:"status"`
		To              string `json:"to"`
		ContractAddress string `json:"contractAddress"`
		GasUsed         string `json:"gasUsed"`
		BlockNumber     string `json:"blockNumber"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("rpc: parse receipt %s: %w", hash, err)
	}

	return &Receipt{
		TxHash:          Hash(raw.TransactionHash),
		Status:          mustHexUint(raw.Status),
		To:              Address(strings.ToLower(raw.To)),
		ContractAddress: Address(strings.ToLower(raw.ContractAddress)),
		GasUsed:         mustHexUint(raw.GasUsed),
		BlockNumber:     mustHexUint(raw.BlockNumber),
	}, nil
}

// GetBalance returns the native-asset balance of an account in wei.
func (c *LiveClient) GetBalance(ctx context.Context, addr Address) (*big.Int, error) {
	result, err := c.call(ctx, "eth_getBalance", []any{string(addr), "latest"})
	if err != nil {
		return nil, err
	}
	var hexVal string
	if err := json.Unmarshal(result, &hexVal); err != nil {
		return nil, fmt.Errorf("rpc: parse balance: %w", err)
	}
	return hexToBig(hexVal), nil
}

// GetCode returns the deployed bytecode at an address.
func (c *LiveClient) GetCode(ctx context.Context, addr Address) (string, error) {
	result, err := c.call(ctx, "eth_getCode", []any{string(addr), "latest"})
	if err != nil {
		return "", err
	}
	var code string
	if err := json.Unmarshal(result, &code); err != nil {
		return "", fmt.Errorf("rpc: parse code: %w", err)
	}
	return code, nil
}

// Call executes a read-only contract call.
func (c *LiveClient) Call(ctx context.Context, msg CallMsg) (string, error) {
	result, err := c.call(ctx, "eth_call", []any{callObject(msg), "latest"})
	if err != nil {
		return "", err
	}
	var data string
	if err := json.Unmarshal(result, &data); err != nil {
		return "", fmt.Errorf("rpc: parse call result: %w", err)
	}
	return data, nil
}

// SendTransaction submits a transaction via the wallet-enabled endpoint.
func (c *LiveClient) SendTransaction(ctx context.Context, msg CallMsg) (Hash, error) {
	result, err := c.call(ctx, "eth_sendTransaction", []any{callObject(msg)})
	if err != nil {
		return "", err
	}
	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		return "", fmt.Errorf("rpc: parse tx hash: %w", err)
	}
	return Hash(hash), nil
}

// WaitForReceipt polls for the receipt until mined or the window elapses.
func (c *LiveClient) WaitForReceipt(ctx context.Context, hash Hash) (*Receipt, error) {
	deadline := time.Now().Add(c.config.ReceiptTimeout)
	ticker := time.NewTicker(c.config.ReceiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := c.GetTransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("rpc: %w for %s after %s", ErrNoReceipt, hash, c.config.ReceiptTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Health checks endpoint reachability.
func (c *LiveClient) Health(ctx context.Context) error {
	_, err := c.BlockNumber(ctx)
	return err
}

// ---------------------------------------------------------------------------
// Hex quantity helpers
// ---------------------------------------------------------------------------

func callObject(msg CallMsg) map[string]any {
	obj := map[string]any{
		"to":   string(msg.To),
		"data": msg.Input,
	}
	if msg.From != "" {
		obj["from"] = string(msg.From)
	}
	if msg.Value != nil && msg.Value.Sign() > 0 {
		obj["value"] = "0x" + msg.Value.Text(16)
	}
	if msg.GasLimit > 0 {
		obj["gas"] = hexUint(msg.GasLimit)
	}
	return obj
}

func hexUint(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}

func mustHexUint(s string) uint64 {
	if s == "" {
		return 0
	}
	v := hexToBig(s)
	if !v.IsUint64() {
		// Quantities beyond the uint64 range saturate rather than wrap.
		return math.MaxUint64
	}
	return v.Uint64()
}

func hexToBig(s string) *big.Int {
	v := new(big.Int)
	if s == "" {
		return v
	}
	v.SetString(strings.TrimPrefix(s, "0x"), 16)
	return v
}

func decodeQuantityResult(result json.RawMessage, method string) (uint64, error) {
	var hexVal string
	if err := json.Unmarshal(result, &hexVal); err != nil {
		return 0, fmt.Errorf("rpc: parse %s: %w", method, err)
	}
	return mustHexUint(hexVal), nil
}
