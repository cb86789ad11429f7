// Package planner decides which time window to request next, either
// extending history forward or repairing its earliest hole.
package planner

import (
	"time"

	"github.com/sells-group/gensync/internal/timeseries"
)

// FindFirstGap returns the earliest pair of consecutive timestamps whose
// distance is strictly greater than threshold. ts must be sorted ascending.
func FindFirstGap(ts []time.Time, threshold time.Duration) (timeseries.Gap, bool) {
	for i := 1; i < len(ts); i++ {
		if ts[i].Sub(ts[i-1]) > threshold {
			return timeseries.Gap{Start: ts[i-1], End: ts[i]}, true
		}
	}
	return timeseries.Gap{}, false
}
