package evm

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Head Source — new-block notification via eth_subscribe("newHeads")
// Falls back to eth_blockNumber polling when the WS endpoint is unavailable.
// ---------------------------------------------------------------------------

// HeadSourceConfig configures the head source.
type HeadSourceConfig struct {
	WSEndpoint       string `yaml:"ws_endpoint"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
	PollIntervalS    int    `yaml:"poll_interval_s"` // fallback poll cadence
}

// DefaultHeadSourceConfig returns mainnet defaults.
func DefaultHeadSourceConfig() HeadSourceConfig {
	return HeadSourceConfig{
		WSEndpoint:       "wss://mainnet.base.org",
		ReconnectDelayMs: 1000,
		PollIntervalS:    5,
	}
}

// HeadSource emits new block numbers as they are produced.
type HeadSource struct {
	config HeadSourceConfig
	rpc    Client

	headChan chan uint64
	closed   atomic.Bool

	// Stats.
	headsReceived atomic.Int64
	reconnects    atomic.Int64
	connected     atomic.Bool
}

// NewHeadSource creates a head source backed by ws with poll fallback.
func NewHeadSource(config HeadSourceConfig, rpc Client) *HeadSource {
	return &HeadSource{
		config:   config,
		rpc:      rpc,
		headChan: make(chan uint64, 64),
	}
}

// Start begins emitting block numbers. The channel closes when ctx ends.
func (h *HeadSource) Start(ctx context.Context) <-chan uint64 {
	go h.runLoop(ctx)
	return h.headChan
}

// Connected reports whether the ws subscription is currently live.
func (h *HeadSource) Connected() bool {
	return h.connected.Load()
}

func (h *HeadSource) runLoop(ctx context.Context) {
	defer func() {
		if h.closed.CompareAndSwap(false, true) {
			close(h.headChan)
		}
	}()

	reconnectDelay := time.Duration(h.config.ReconnectDelayMs) * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if h.config.WSEndpoint == "" {
			h.pollLoop(ctx)
			return
		}

		if err := h.subscribeOnce(ctx); err != nil {
			log.Warn().Err(err).Str("endpoint", h.config.WSEndpoint).
				Msg("heads: websocket subscription failed, falling back to polling")
			h.pollLoop(ctx)
			return
		}

		// Subscription dropped; reconnect after a delay.
		h.reconnects.Add(1)
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// subscribeOnce dials the ws endpoint, subscribes to newHeads, and pumps
// block numbers until the connection drops. A dial or subscribe error is
// returned; a dropped established subscription returns nil so the caller
// reconnects instead of degrading to polling.
func (h *HeadSource) subscribeOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, h.config.WSEndpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_subscribe",
		Params:  []any{"newHeads"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	// First message is the subscription confirmation.
	var confirm rpcResponse
	if err := conn.ReadJSON(&confirm); err != nil {
		return err
	}
	if confirm.Error != nil {
		return &wsSubscribeError{code: confirm.Error.Code, message: confirm.Error.Message}
	}

	h.connected.Store(true)
	defer h.connected.Store(false)
	log.Info().Str("endpoint", h.config.WSEndpoint).Msg("heads: newHeads subscription active")

	// Unblock ReadMessage on ctx cancellation.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var note struct {
			Method string `json:"method"`
			Params struct {
				Result struct {
					Number string `json:"number"`
				} `json:"result"`
			} `json:"params"`
		}
		if err := conn.ReadJSON(&note); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Msg("heads: websocket read failed, reconnecting")
			return nil
		}
		if note.Method != "eth_subscription" {
			continue
		}
		number := mustHexUint(note.Params.Result.Number)
		if number == 0 {
			continue
		}
		h.headsReceived.Add(1)
		select {
		case h.headChan <- number:
		default: // consumer behind; drop, the next head supersedes it
		}
	}
}

// pollLoop emits the latest block number on a fixed cadence.
func (h *HeadSource) pollLoop(ctx context.Context) {
	interval := time.Duration(h.config.PollIntervalS) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSeen uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			number, err := h.rpc.BlockNumber(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("heads: block number poll failed")
				continue
			}
			if number <= lastSeen {
				continue
			}
			lastSeen = number
			h.headsReceived.Add(1)
			select {
			case h.headChan <- number:
			default:
			}
		}
	}
}

type wsSubscribeError struct {
	code    int
	message string
}

func (e *wsSubscribeError) Error() string {
	return "heads: subscribe error " + e.message
}
