package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Stub Client (for testing and development)
// ---------------------------------------------------------------------------

// StubClient is a mock chain client for testing.
type StubClient struct {
	mu          sync.RWMutex
	blockNumber uint64
	blocks      map[uint64]*Block
	receipts    map[Hash]*Receipt
	balances    map[Address]*big.Int
	code        map[Address]string
	callResults map[string]string // addr|selector -> raw 0x-hex result
	callErrs    map[string]string // addr|selector -> error message
	sendErrs    map[string]string // selector -> submission error message
	sent        []CallMsg
	sentStatus  uint64 // receipt status for submitted txs
	noReceipt   bool   // submitted txs never confirm
	failNext    bool
	nextTxID    int
}

// NewStubClient creates a stub chain client for testing.
func NewStubClient() *StubClient {
	return &StubClient{
		blocks:      make(map[uint64]*Block),
		receipts:    make(map[Hash]*Receipt),
		balances:    make(map[Address]*big.Int),
		code:        make(map[Address]string),
		callResults: make(map[string]string),
		callErrs:    make(map[string]string),
		sendErrs:    make(map[string]string),
		sentStatus:  1,
	}
}

func callKey(addr Address, selector string) string {
	return strings.ToLower(string(addr)) + "|" + strings.ToLower(selector)
}

// SetBlockNumber sets the latest block number.
func (s *StubClient) SetBlockNumber(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockNumber = n
}

// AddBlock registers a block for the stub to return.
func (s *StubClient) AddBlock(block Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[block.Number] = &block
	if block.Number > s.blockNumber {
		s.blockNumber = block.Number
	}
}

// AddReceipt registers a receipt for a transaction hash.
func (s *StubClient) AddReceipt(receipt Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[receipt.TxHash] = &receipt
}

// SetBalance sets the native-asset balance for an account.
func (s *StubClient) SetBalance(addr Address, wei *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[addr] = new(big.Int).Set(wei)
}

// SetCode sets the deployed bytecode at an address.
func (s *StubClient) SetCode(addr Address, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code[addr] = code
}

// SetCallResult scripts the result of a read call on addr for a selector.
func (s *StubClient) SetCallResult(addr Address, selector, result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callResults[callKey(addr, selector)] = result
}

// SetCallError scripts a revert for a read call on addr for a selector.
func (s *StubClient) SetCallError(addr Address, selector, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callErrs[callKey(addr, selector)] = message
}

// SetToken scripts a full ERC20 read surface plus deployed code for addr.
func (s *StubClient) SetToken(addr Address, name, symbol string, decimals uint8, totalSupply *big.Int) {
	s.SetCode(addr, "0x60806040"+strings.Repeat("ab", 600))
	s.SetCallResult(addr, SelName, EncodeStringResult(name))
	s.SetCallResult(addr, SelSymbol, EncodeStringResult(symbol))
	s.SetCallResult(addr, SelDecimals, EncodeUint256Result(big.NewInt(int64(decimals))))
	s.SetCallResult(addr, SelTotalSupply, EncodeUint256Result(totalSupply))
}

// SetSendError scripts a submission failure for purchase calls using selector.
func (s *StubClient) SetSendError(selector, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErrs[strings.ToLower(selector)] = message
}

// SetSentStatus sets the receipt status submitted transactions finalize with.
func (s *StubClient) SetSentStatus(status uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentStatus = status
}

// SetNoReceipt makes submitted transactions never confirm.
func (s *StubClient) SetNoReceipt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noReceipt = true
}

// SetFailNext makes the next call fail.
func (s *StubClient) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// Sent returns all submitted transactions in order.
func (s *StubClient) Sent() []CallMsg {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CallMsg, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *StubClient) shouldFail() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return true
	}
	return false
}

// --- Client interface implementation ---

func (s *StubClient) BlockNumber(_ context.Context) (uint64, error) {
	if s.shouldFail() {
		return 0, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockNumber, nil
}

func (s *StubClient) GetBlockByNumber(_ context.Context, number uint64, _ bool) (*Block, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if block, ok := s.blocks[number]; ok {
		return block, nil
	}
	return nil, fmt.Errorf("stub: block %d not found", number)
}

func (s *StubClient) GetTransactionReceipt(_ context.Context, hash Hash) (*Receipt, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if receipt, ok := s.receipts[hash]; ok {
		return receipt, nil
	}
	return nil, fmt.Errorf("stub: receipt %s not found", hash)
}

func (s *StubClient) GetBalance(_ context.Context, addr Address) (*big.Int, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if bal, ok := s.balances[addr]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (s *StubClient) GetCode(_ context.Context, addr Address) (string, error) {
	if s.shouldFail() {
		return "", fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if code, ok := s.code[addr]; ok {
		return code, nil
	}
	return "0x", nil
}

func (s *StubClient) Call(_ context.Context, msg CallMsg) (string, error) {
	if s.shouldFail() {
		return "", fmt.Errorf("stub: simulated RPC failure")
	}
	selector := msg.Input
	if len(selector) > 10 {
		selector = selector[:10]
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := callKey(msg.To, selector)
	if message, ok := s.callErrs[key]; ok {
		return "", fmt.Errorf("stub: execution reverted: %s", message)
	}
	if result, ok := s.callResults[key]; ok {
		return result, nil
	}
	return "", fmt.Errorf("stub: execution reverted: no handler for %s on %s", selector, msg.To)
}

func (s *StubClient) SendTransaction(_ context.Context, msg CallMsg) (Hash, error) {
	if s.shouldFail() {
		return "", fmt.Errorf("stub: simulated RPC failure")
	}
	selector := msg.Input
	if len(selector) > 10 {
		selector = selector[:10]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if message, ok := s.sendErrs[strings.ToLower(selector)]; ok {
		return "", fmt.Errorf("stub: submission rejected: %s", message)
	}
	s.nextTxID++
	hash := Hash(fmt.Sprintf("0xstub%060d", s.nextTxID))
	s.sent = append(s.sent, msg)
	if !s.noReceipt {
		s.receipts[hash] = &Receipt{
			TxHash: hash,
			Status: s.sentStatus,
			To:     msg.To,
		}
	}
	return hash, nil
}

func (s *StubClient) WaitForReceipt(ctx context.Context, hash Hash) (*Receipt, error) {
	receipt, err := s.GetTransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("stub: %w for %s", ErrNoReceipt, hash)
	}
	return receipt, nil
}

func (s *StubClient) Health(_ context.Context) error {
	if s.shouldFail() {
		return fmt.Errorf("stub: simulated RPC failure")
	}
	return nil
}
