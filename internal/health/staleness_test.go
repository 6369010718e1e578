package health

import (
	"testing"
	"time"
)

func frozen(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestStalenessVerdict(t *testing.T) {
	start := time.UnixMilli(1700000000000).UTC()
	tr := NewStalenessTracker(60 * time.Second)
	tr.now = frozen(start)

	tr.UpdateSeen("binance")

	tr.now = frozen(start.Add(30 * time.Second))
	if tr.Stale("binance") {
		t.Errorf("30s old data should not be stale with a 60s threshold")
	}

	tr.now = frozen(start.Add(120 * time.Second))
	if !tr.Stale("binance") {
		t.Errorf("120s old data should be stale with a 60s threshold")
	}

	age, ok := tr.Age("binance")
	if !ok || age != 120*time.Second {
		t.Errorf("unexpected age: %v %v", age, ok)
	}
}

func TestStalenessNeverSeen(t *testing.T) {
	tr := NewStalenessTracker(60 * time.Second)

	if tr.Stale("ghost") {
		t.Errorf("a venue never seen must not report stale")
	}
	if _, ok := tr.Age("ghost"); ok {
		t.Errorf("a venue never seen must not have an age")
	}
	if len(tr.Summary()) != 0 {
		t.Errorf("summary must be empty before any activity")
	}
}

func TestStalenessSummary(t *testing.T) {
	start := time.UnixMilli(1700000000000).UTC()
	tr := NewStalenessTracker(60 * time.Second)
	tr.now = frozen(start)

	tr.UpdateSeen("uniswap")
	tr.UpdateSeen("binance")

	tr.now = frozen(start.Add(90 * time.Second))
	records := tr.Summary()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	// Sorted by venue name.
	if records[0].Venue != "binance" || records[1].Venue != "uniswap" {
		t.Errorf("unexpected order: %+v", records)
	}
	for _, rec := range records {
		if !rec.Stale || rec.AgeSeconds != 90 {
			t.Errorf("unexpected record: %+v", rec)
		}
	}
}

func TestStalenessDefaultThreshold(t *testing.T) {
	tr := NewStalenessTracker(0)
	if tr.Threshold() != DefaultStalenessThreshold {
		t.Fatalf("unexpected default threshold: %v", tr.Threshold())
	}
}
