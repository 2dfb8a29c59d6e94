package scheduler

import (
	"fmt"
	"time"

	"github.com/expirytrack/collector/internal/model"
)

const dateLayout = "2006-01-02"

// dateRange is an inclusive fetch window.
type dateRange struct {
	from string
	to   string
}

// filterExpiries keeps expiry dates inside the collection window: already
// expired, and no older than monthsBack months before now. Unparseable
// dates are dropped.
func filterExpiries(expiries []string, monthsBack int, now time.Time) []string {
	cutoff := now.AddDate(0, -monthsBack, 0)
	var out []string
	for _, e := range expiries {
		d, err := time.Parse(dateLayout, e)
		if err != nil {
			continue
		}
		if d.Before(cutoff) || d.After(now) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// chunkRanges splits a contract's history window into chunkDays-sized
// inclusive ranges ending at the expiry date. The window starts monthsBack
// months before expiry, matching the span the upstream serves per request.
func chunkRanges(expiry string, monthsBack, chunkDays int) ([]dateRange, error) {
	end, err := time.Parse(dateLayout, expiry)
	if err != nil {
		return nil, fmt.Errorf("parsing expiry %q: %w", expiry, err)
	}
	if chunkDays < 1 {
		chunkDays = 1
	}
	start := end.AddDate(0, -monthsBack, 0)

	var ranges []dateRange
	for from := start; !from.After(end); from = from.AddDate(0, 0, chunkDays) {
		to := from.AddDate(0, 0, chunkDays-1)
		if to.After(end) {
			to = end
		}
		ranges = append(ranges, dateRange{
			from: from.Format(dateLayout),
			to:   to.Format(dateLayout),
		})
	}
	return ranges, nil
}

// enumerateKey builds the unit key for an enumerate-contracts unit.
func enumerateKey(instrumentKey, expiry string) string {
	return model.JoinKey(instrumentKey, expiry)
}

// seriesUnitKey builds the unit key for a fetch-series unit.
func seriesUnitKey(contractKey string, r dateRange) string {
	return model.JoinKey(contractKey, r.from, r.to)
}
