package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFeedServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewHTTPClient("test-key")
	client.SetBaseURL(server.URL)
	return client
}

func TestResolveUserByUsername(t *testing.T) {
	client := newTestFeedServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/search", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "alice", r.URL.Query().Get("q"))
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"users": []map[string]any{
					{"fid": 42, "username": "alice"},
				},
			},
		})
	})

	user, err := client.ResolveUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), user.FID)
	assert.Equal(t, "alice", user.Username)
}

func TestResolveUserByFID(t *testing.T) {
	client := newTestFeedServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/bulk", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("fids"))
		json.NewEncoder(w).Encode(map[string]any{
			"users": []map[string]any{
				{"fid": 42, "username": "alice"},
			},
		})
	})

	user, err := client.ResolveUser(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), user.FID)
}

func TestResolveUserNotFound(t *testing.T) {
	client := newTestFeedServer(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"users": []any{}},
		})
	})

	_, err := client.ResolveUser(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveUser404IsNotFound(t *testing.T) {
	client := newTestFeedServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	_, err := client.ResolveUser(context.Background(), "42")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentCasts(t *testing.T) {
	ts := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	client := newTestFeedServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/feed/user/casts", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("fid"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]any{
			"casts": []map[string]any{
				{"hash": "0xc2", "text": "newest", "timestamp": ts.Add(time.Minute)},
				{"hash": "0xc1", "text": "older", "timestamp": ts},
			},
		})
	})

	casts, err := client.RecentCasts(context.Background(), 42, 50)
	require.NoError(t, err)
	require.Len(t, casts, 2)
	assert.Equal(t, "0xc2", casts[0].Hash)
	assert.Equal(t, "newest", casts[0].Text)
	assert.True(t, casts[0].Timestamp.After(casts[1].Timestamp))
}

func TestRecentCastsRetriesOn429(t *testing.T) {
	calls := 0
	client := newTestFeedServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"casts": []any{}})
	})

	casts, err := client.RecentCasts(context.Background(), 42, 50)
	require.NoError(t, err)
	assert.Empty(t, casts)
	assert.Equal(t, 2, calls)
}

func TestRecentCastsServerError(t *testing.T) {
	client := newTestFeedServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.RecentCasts(context.Background(), 42, 50)
	assert.Error(t, err)
}
