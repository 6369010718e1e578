// Package health tracks per-venue liveness signals and derives alerts and
// quality scores from them. Trackers are injected stores constructed once at
// process start: pipelines write, the aggregator reads, and every read is
// recomputed from tracker state so it can never drift from its inputs.
package health

import (
	"sort"
	"sync"
	"time"
)

// DefaultStalenessThreshold is the age beyond which a venue's data is
// considered stale.
const DefaultStalenessThreshold = 60 * time.Second

// criticalStalenessAge escalates a stale alert to critical.
const criticalStalenessAge = 300 * time.Second

// StalenessTracker records the last-seen-activity timestamp per venue.
// Single writer per entry (the venue's own pipeline), many readers.
type StalenessTracker struct {
	mu        sync.RWMutex
	lastSeen  map[string]time.Time
	threshold time.Duration
	now       func() time.Time
}

func NewStalenessTracker(threshold time.Duration) *StalenessTracker {
	if threshold <= 0 {
		threshold = DefaultStalenessThreshold
	}
	return &StalenessTracker{
		lastSeen:  make(map[string]time.Time),
		threshold: threshold,
		now:       time.Now,
	}
}

// UpdateSeen records activity for a venue, called on every received trade.
func (t *StalenessTracker) UpdateSeen(venue string) {
	t.mu.Lock()
	t.lastSeen[venue] = t.now()
	t.mu.Unlock()
}

// LastSeen returns the venue's last activity timestamp.
func (t *StalenessTracker) LastSeen(venue string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.lastSeen[venue]
	return ts, ok
}

// Age returns the elapsed time since the venue's last activity.
func (t *StalenessTracker) Age(venue string) (time.Duration, bool) {
	ts, ok := t.LastSeen(venue)
	if !ok {
		return 0, false
	}
	return t.now().Sub(ts), true
}

// Stale reports whether the venue's data age exceeds the threshold. A venue
// that was never seen is not stale; it is absent.
func (t *StalenessTracker) Stale(venue string) bool {
	age, ok := t.Age(venue)
	return ok && age > t.threshold
}

func (t *StalenessTracker) Threshold() time.Duration {
	return t.threshold
}

// StalenessRecord is one venue's entry in the staleness summary.
type StalenessRecord struct {
	Venue      string    `json:"venue"`
	LastSeen   time.Time `json:"lastSeen"`
	AgeSeconds float64   `json:"ageSeconds"`
	Stale      bool      `json:"stale"`
}

// Summary returns the current staleness verdict for every venue that has
// ever been seen, sorted by venue name.
func (t *StalenessTracker) Summary() []StalenessRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	out := make([]StalenessRecord, 0, len(t.lastSeen))
	for venue, ts := range t.lastSeen {
		age := now.Sub(ts)
		out = append(out, StalenessRecord{
			Venue:      venue,
			LastSeen:   ts,
			AgeSeconds: age.Seconds(),
			Stale:      age > t.threshold,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Venue < out[j].Venue })
	return out
}
