package feed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Stub Client (for testing and development)
// ---------------------------------------------------------------------------

// StubClient is a mock feed client for testing.
type StubClient struct {
	mu       sync.RWMutex
	users    map[string]User   // username -> user
	byFID    map[uint64]User   // fid -> user
	casts    map[uint64][]Cast // fid -> casts, newest first
	failNext bool
}

// NewStubClient creates a stub feed client for testing.
func NewStubClient() *StubClient {
	return &StubClient{
		users: make(map[string]User),
		byFID: make(map[uint64]User),
		casts: make(map[uint64][]Cast),
	}
}

// AddUser registers a resolvable identity.
func (s *StubClient) AddUser(user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[strings.ToLower(user.Username)] = user
	s.byFID[user.FID] = user
}

// SetCasts replaces the cast feed for a FID (newest first).
func (s *StubClient) SetCasts(fid uint64, casts []Cast) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.casts[fid] = casts
}

// SetFailNext makes the next call fail.
func (s *StubClient) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
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

func (s *StubClient) ResolveUser(_ context.Context, nameOrFID string) (*User, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated feed failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if fid, err := strconv.ParseUint(nameOrFID, 10, 64); err == nil {
		if user, ok := s.byFID[fid]; ok {
			return &user, nil
		}
		return nil, fmt.Errorf("%w: fid %d", ErrNotFound, fid)
	}
	if user, ok := s.users[strings.ToLower(nameOrFID)]; ok {
		return &user, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, nameOrFID)
}

func (s *StubClient) RecentCasts(_ context.Context, fid uint64, limit int) ([]Cast, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated feed failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	casts := s.casts[fid]
	if len(casts) > limit {
		casts = casts[:limit]
	}
	out := make([]Cast, len(casts))
	copy(out, casts)
	return out, nil
}
