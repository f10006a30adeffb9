package evm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadSourceDefaults(t *testing.T) {
	config := DefaultHeadSourceConfig()
	assert.NotEmpty(t, config.WSEndpoint)
	assert.Equal(t, 1000, config.ReconnectDelayMs)
	assert.Equal(t, 5, config.PollIntervalS)

	h := NewHeadSource(config, NewStubClient())
	assert.NotNil(t, h)
	assert.False(t, h.Connected())
}

func TestHeadSourceWebsocketSubscription(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Read the eth_subscribe request, confirm it.
		var req rpcRequest
		require.NoError(t, conn.ReadJSON(&req))
		assert.Equal(t, "eth_subscribe", req.Method)
		require.NoError(t, conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0", "id": 1, "result": "0xsub1",
		}))

		// Push two heads.
		for _, number := range []string{"0x10", "0x11"} {
			require.NoError(t, conn.WriteJSON(map[string]any{
				"jsonrpc": "2.0",
				"method":  "eth_subscription",
				"params":  map[string]any{"result": map[string]any{"number": number}},
			}))
		}

		// Hold the connection open until the client goes away.
		conn.ReadMessage()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHeadSource(HeadSourceConfig{
		WSEndpoint:       "ws" + strings.TrimPrefix(server.URL, "http"),
		ReconnectDelayMs: 50,
	}, NewStubClient())
	heads := h.Start(ctx)

	var got []uint64
	timeout := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case n := <-heads:
			got = append(got, n)
		case <-timeout:
			t.Fatalf("timed out waiting for heads, got %v", got)
		}
	}
	assert.Equal(t, []uint64{16, 17}, got)
}

func TestHeadSourcePollFallback(t *testing.T) {
	stub := NewStubClient()
	stub.SetBlockNumber(42)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// No ws endpoint configured: polling from the start.
	h := NewHeadSource(HeadSourceConfig{PollIntervalS: 1}, stub)
	heads := h.Start(ctx)

	select {
	case n := <-heads:
		assert.Equal(t, uint64(42), n)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for polled head")
	}

	// The same height is not re-emitted; a new height is.
	stub.SetBlockNumber(43)
	select {
	case n := <-heads:
		assert.Equal(t, uint64(43), n)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for next polled head")
	}
}

func TestHeadSourceChannelClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHeadSource(HeadSourceConfig{PollIntervalS: 1}, NewStubClient())
	heads := h.Start(ctx)

	cancel()
	select {
	case _, ok := <-heads:
		assert.False(t, ok, "channel must close when the context ends")
	case <-time.After(3 * time.Second):
		t.Fatal("channel did not close")
	}
}
