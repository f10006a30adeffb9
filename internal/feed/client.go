package feed

import (
	"context"
	"errors"
	"time"
)

// ---------------------------------------------------------------------------
// Feed capability — resolve identities and fetch their recent posts
// ---------------------------------------------------------------------------

// ErrNotFound is returned when an identity cannot be resolved.
var ErrNotFound = errors.New("feed: user not found")

// User is a resolved feed identity.
type User struct {
	FID      uint64 `json:"fid"`
	Username string `json:"username"`
}

// Cast is a single feed post.
type Cast struct {
	Hash      string    `json:"hash"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is the interface for feed API interactions.
// Implementations: HTTPClient (real API), StubClient (testing).
type Client interface {
	// ResolveUser resolves a username or numeric FID string to a User.
	// Returns ErrNotFound when no identity matches.
	ResolveUser(ctx context.Context, nameOrFID string) (*User, error)

	// RecentCasts fetches the most recent casts for a FID, newest first.
	RecentCasts(ctx context.Context, fid uint64, limit int) ([]Cast, error)
}
