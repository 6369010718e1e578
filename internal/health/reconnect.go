package health

import (
	"sort"
	"sync"
	"time"
)

// DefaultReconnectWindow bounds how far back reconnect events count.
const DefaultReconnectWindow = time.Hour

// ReconnectTracker keeps an append-only list of reconnection timestamps per
// venue. Entries older than the window are excluded from every query; they
// are not physically deleted mid-process.
type ReconnectTracker struct {
	mu     sync.RWMutex
	events map[string][]time.Time
	window time.Duration
	now    func() time.Time
}

func NewReconnectTracker(window time.Duration) *ReconnectTracker {
	if window <= 0 {
		window = DefaultReconnectWindow
	}
	return &ReconnectTracker{
		events: make(map[string][]time.Time),
		window: window,
		now:    time.Now,
	}
}

// Record appends a reconnection event for the venue at the current time.
func (t *ReconnectTracker) Record(venue string) {
	t.mu.Lock()
	t.events[venue] = append(t.events[venue], t.now())
	t.mu.Unlock()
}

// Count returns the number of reconnects within the trailing window.
func (t *ReconnectTracker) Count(venue string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.countLocked(venue, t.now())
}

func (t *ReconnectTracker) countLocked(venue string, now time.Time) int {
	cutoff := now.Add(-t.window)
	n := 0
	for _, ts := range t.events[venue] {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// LastAt returns the most recent reconnect within the window.
func (t *ReconnectTracker) LastAt(venue string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := t.now().Add(-t.window)
	var last time.Time
	for _, ts := range t.events[venue] {
		if ts.After(cutoff) && ts.After(last) {
			last = ts
		}
	}
	return last, !last.IsZero()
}

// ReconnectRecord is one venue's entry in the reconnect summary.
type ReconnectRecord struct {
	Venue  string    `json:"venue"`
	Count  int       `json:"count"`
	LastAt time.Time `json:"lastAt"`
}

// Summary returns in-window reconnect counts for every venue with at least
// one recorded event, sorted by venue name. Venues whose events all aged out
// of the window report a zero count.
func (t *ReconnectTracker) Summary() []ReconnectRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	cutoff := now.Add(-t.window)
	out := make([]ReconnectRecord, 0, len(t.events))
	for venue, events := range t.events {
		rec := ReconnectRecord{Venue: venue}
		for _, ts := range events {
			if ts.After(cutoff) {
				rec.Count++
				if ts.After(rec.LastAt) {
					rec.LastAt = ts
				}
			}
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Venue < out[j].Venue })
	return out
}
