package sniper

import (
	"sync"
)

// ---------------------------------------------------------------------------
// Dedup Ledger — append-only set of processed candidate keys
// Entries live for the process lifetime; contract addresses are not reused,
// so there is no eviction.
// ---------------------------------------------------------------------------

// Ledger guards against reprocessing candidates. Safe for concurrent use by
// the independent identity-scan and creation-scan timers.
type Ledger struct {
	mu        sync.Mutex
	processed map[string]struct{}
	inFlight  map[string]struct{}
}

// NewLedger creates an empty dedup ledger.
func NewLedger() *Ledger {
	return &Ledger{
		processed: make(map[string]struct{}),
		inFlight:  make(map[string]struct{}),
	}
}

// Begin atomically claims a key for processing. Returns false when the key
// is already processed or currently being processed; the caller must drop
// the candidate in that case.
func (l *Ledger) Begin(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, done := l.processed[key]; done {
		return false
	}
	if _, busy := l.inFlight[key]; busy {
		return false
	}
	l.inFlight[key] = struct{}{}
	return true
}

// Complete marks a claimed key processed. Success and failure both complete:
// a failed purchase is never retried on a later cycle.
func (l *Ledger) Complete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inFlight, key)
	l.processed[key] = struct{}{}
}

// Seen reports whether a key has been processed or is being processed.
func (l *Ledger) Seen(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, done := l.processed[key]; done {
		return true
	}
	_, busy := l.inFlight[key]
	return busy
}

// Size returns the number of processed entries.
func (l *Ledger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.processed)
}
