package detector

import (
	"time"
)

// ---------------------------------------------------------------------------
// Candidate — a discovered token contract address, not yet acted on
// ---------------------------------------------------------------------------

// Source identifies which detector produced a candidate.
type Source string

const (
	SourceFeed   Source = "feed"
	SourceWallet Source = "wallet"
)

// Candidate is produced by a detector and consumed exactly once by the
// dedup -> validate -> buy pipeline. Never persisted.
type Candidate struct {
	ContractAddress string    `json:"contract_address"`
	OriginHash      string    `json:"origin_hash"`     // cast hash, or tx hash for wallet finds
	OriginIdentity  string    `json:"origin_identity"` // FID or watched wallet address
	Source          Source    `json:"source"`
	DiscoveredAt    time.Time `json:"discovered_at"`
}

// DedupKey derives the deterministic reprocessing guard key. Feed-sourced
// candidates key on (address, origin hash) so the same address posted in two
// different casts is acted on once per cast; wallet-sourced candidates key
// on the address alone, since repeat sightings of the same deployment carry
// no distinguishing origin.
func (c Candidate) DedupKey() string {
	if c.Source == SourceWallet {
		return c.ContractAddress
	}
	return c.ContractAddress + "|" + c.OriginHash
}
