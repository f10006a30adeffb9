package detector

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caststrike-trading/caststrike/internal/feed"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Feed Change-Detector — watermark-bounded address discovery in casts
// ---------------------------------------------------------------------------

// addressPattern matches a 20-byte hex value prefixed by 0x anywhere in a
// cast's text, case-insensitive. Every match becomes a candidate, including
// multiple matches within one cast.
var addressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)

// castFetchLimit is the fixed number of recent casts fetched per scan.
const castFetchLimit = 50

// FeedDetector discovers contract addresses in casts newer than each
// identity's watermark.
type FeedDetector struct {
	client feed.Client

	mu         sync.Mutex
	watermarks map[uint64]time.Time // fid -> newest already-scanned cast time
}

// NewFeedDetector creates a feed change-detector.
func NewFeedDetector(client feed.Client) *FeedDetector {
	return &FeedDetector{
		client:     client,
		watermarks: make(map[uint64]time.Time),
	}
}

// Watermark returns the current watermark for a FID (zero when unscanned).
func (d *FeedDetector) Watermark(fid uint64) time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.watermarks[fid]
}

// Scan fetches the identity's recent casts and returns a candidate for every
// address found above the watermark. The watermark advances to the newest
// fetched cast whenever the fetch returned anything, address or not, so
// already-seen casts are never re-scanned. A fetch failure yields no
// candidates and leaves the watermark unchanged for a safe retry next cycle.
func (d *FeedDetector) Scan(ctx context.Context, fid uint64) []Candidate {
	casts, err := d.client.RecentCasts(ctx, fid, castFetchLimit)
	if err != nil {
		log.Warn().Err(err).Uint64("fid", fid).Msg("detector: cast fetch failed, will retry next cycle")
		return nil
	}
	if len(casts) == 0 {
		return nil
	}

	watermark := d.Watermark(fid)
	origin := strconv.FormatUint(fid, 10)

	var candidates []Candidate
	for _, cast := range casts {
		if !cast.Timestamp.After(watermark) {
			continue
		}
		for _, match := range addressPattern.FindAllString(cast.Text, -1) {
			candidates = append(candidates, Candidate{
				ContractAddress: strings.ToLower(match),
				OriginHash:      cast.Hash,
				OriginIdentity:  origin,
				Source:          SourceFeed,
				DiscoveredAt:    time.Now(),
			})
		}
	}

	// Casts arrive newest first; the first entry carries the new watermark.
	d.advanceWatermark(fid, casts[0].Timestamp)

	if len(candidates) > 0 {
		log.Info().Uint64("fid", fid).Int("candidates", len(candidates)).
			Msg("detector: new contract addresses found in casts")
	}
	return candidates
}

// advanceWatermark moves the watermark forward, never backward.
func (d *FeedDetector) advanceWatermark(fid uint64, ts time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts.After(d.watermarks[fid]) {
		d.watermarks[fid] = ts
	}
}
