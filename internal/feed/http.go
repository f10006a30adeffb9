package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Farcaster HTTP API Client — Neynar-compatible REST endpoints
// https://docs.neynar.com/reference
// ---------------------------------------------------------------------------

const (
	defaultBaseURL = "https://api.neynar.com/v2/farcaster"

	maxRetries   = 2
	retryBackoff = 500 * time.Millisecond
)

// HTTPClient is the real Farcaster feed API client.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// Stats.
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// NewHTTPClient creates a new feed API client.
func NewHTTPClient(apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetBaseURL overrides the API base URL, for alternate deployments and
// tests. Call before first use.
func (c *HTTPClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// ResolveUser resolves a username or numeric FID string to a User.
func (c *HTTPClient) ResolveUser(ctx context.Context, nameOrFID string) (*User, error) {
	if fid, err := strconv.ParseUint(nameOrFID, 10, 64); err == nil {
		return c.userByFID(ctx, fid)
	}
	return c.searchUser(ctx, nameOrFID)
}

// searchUser resolves a username via the search endpoint.
func (c *HTTPClient) searchUser(ctx context.Context, username string) (*User, error) {
	query := url.Values{}
	query.Set("q", username)
	query.Set("limit", "1")

	var resp struct {
		Result struct {
			Users []struct {
				FID      uint64 `json:"fid"`
				Username string `json:"username"`
			} `json:"users"`
		} `json:"result"`
	}
	if err := c.get(ctx, "/user/search", query, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result.Users) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, username)
	}
	u := resp.Result.Users[0]
	return &User{FID: u.FID, Username: u.Username}, nil
}

// userByFID resolves a numeric FID via the bulk lookup endpoint.
func (c *HTTPClient) userByFID(ctx context.Context, fid uint64) (*User, error) {
	query := url.Values{}
	query.Set("fids", strconv.FormatUint(fid, 10))

	var resp struct {
		Users []struct {
			FID      uint64 `json:"fid"`
			Username string `json:"username"`
		} `json:"users"`
	}
	if err := c.get(ctx, "/user/bulk", query, &resp); err != nil {
		return nil, err
	}
	if len(resp.Users) == 0 {
		return nil, fmt.Errorf("%w: fid %d", ErrNotFound, fid)
	}
	u := resp.Users[0]
	return &User{FID: u.FID, Username: u.Username}, nil
}

// RecentCasts fetches the most recent casts for a FID, newest first.
func (c *HTTPClient) RecentCasts(ctx context.Context, fid uint64, limit int) ([]Cast, error) {
	query := url.Values{}
	query.Set("fid", strconv.FormatUint(fid, 10))
	query.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Casts []struct {
			Hash      string    `json:"hash"`
			Text      string    `json:"text"`
			Timestamp time.Time `json:"timestamp"`
		} `json:"casts"`
	}
	if err := c.get(ctx, "/feed/user/casts", query, &resp); err != nil {
		return nil, err
	}

	casts := make([]Cast, 0, len(resp.Casts))
	for _, raw := range resp.Casts {
		casts = append(casts, Cast{
			Hash:      raw.Hash,
			Text:      raw.Text,
			Timestamp: raw.Timestamp,
		})
	}

	log.Debug().
		Uint64("fid", fid).
		Int("casts", len(casts)).
		Msg("feed: recent casts fetched")

	return casts, nil
}

// get performs a retried GET against the feed API and decodes the response.
func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path + "?" + query.Encode()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
		if err != nil {
			return fmt.Errorf("feed: create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("x-api-key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("feed: %s http error: %w", path, err)
			c.errorCount.Add(1)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("feed: %s read response: %w", path, err)
			c.errorCount.Add(1)
			continue
		}

		c.requestCount.Add(1)

		if resp.StatusCode == 429 {
			lastErr = fmt.Errorf("feed: %s rate limited (429)", path)
			c.errorCount.Add(1)
			continue
		}

		if resp.StatusCode == 404 {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}

		if resp.StatusCode != 200 {
			lastErr = fmt.Errorf("feed: %s HTTP %d: %s", path, resp.StatusCode, string(body))
			c.errorCount.Add(1)
			continue
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("feed: %s decode response: %w", path, err)
		}
		return nil
	}

	return fmt.Errorf("feed: %s failed after %d attempts: %w", path, maxRetries+1, lastErr)
}
