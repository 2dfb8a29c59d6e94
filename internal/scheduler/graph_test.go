package scheduler

import (
	"testing"
	"time"
)

func TestFilterExpiries(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	expiries := []string{
		"2026-08-20", // in window
		"2026-06-01", // in window
		"2026-04-30", // older than 3 months
		"2026-09-10", // not expired yet
		"not-a-date",
	}

	got := filterExpiries(expiries, 3, now)

	want := []string{"2026-08-20", "2026-06-01"}
	if len(got) != len(want) {
		t.Fatalf("filterExpiries() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("filterExpiries()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestChunkRanges(t *testing.T) {
	ranges, err := chunkRanges("2026-03-26", 3, 30)
	if err != nil {
		t.Fatalf("chunkRanges() error = %v", err)
	}

	// 2025-12-26 .. 2026-03-26 inclusive = 91 days = 4 chunks.
	if len(ranges) != 4 {
		t.Fatalf("len = %d, want 4, ranges = %v", len(ranges), ranges)
	}
	if ranges[0].from != "2025-12-26" || ranges[0].to != "2026-01-24" {
		t.Errorf("first range = %+v", ranges[0])
	}
	if last := ranges[len(ranges)-1]; last.to != "2026-03-26" {
		t.Errorf("last range = %+v, want to = 2026-03-26", last)
	}

	// Contiguous, non-overlapping.
	for i := 1; i < len(ranges); i++ {
		prev, _ := time.Parse(dateLayout, ranges[i-1].to)
		next, _ := time.Parse(dateLayout, ranges[i].from)
		if !next.Equal(prev.AddDate(0, 0, 1)) {
			t.Errorf("gap between %+v and %+v", ranges[i-1], ranges[i])
		}
	}
}

func TestChunkRanges_SingleChunk(t *testing.T) {
	ranges, err := chunkRanges("2026-03-26", 3, 365)
	if err != nil {
		t.Fatalf("chunkRanges() error = %v", err)
	}
	if len(ranges) != 1 {
		t.Fatalf("len = %d, want 1", len(ranges))
	}
	if ranges[0].from != "2025-12-26" || ranges[0].to != "2026-03-26" {
		t.Errorf("range = %+v", ranges[0])
	}
}

func TestChunkRanges_BadExpiry(t *testing.T) {
	if _, err := chunkRanges("26-03-2026", 3, 30); err == nil {
		t.Error("chunkRanges() with bad date should fail")
	}
}

func TestSeriesUnitKey_RoundTrip(t *testing.T) {
	key := seriesUnitKey("NSE_FO|51234", dateRange{from: "2026-01-01", to: "2026-01-30"})
	want := "NSE_FO|51234~2026-01-01~2026-01-30"
	if key != want {
		t.Errorf("seriesUnitKey() = %q, want %q", key, want)
	}
}
