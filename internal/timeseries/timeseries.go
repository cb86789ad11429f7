// Package timeseries holds the time and interval helpers shared by the planner,
// the history index and the reconciler.
package timeseries

import (
	"fmt"
	"slices"
	"strings"
	"time"
	_ "time/tzdata" // zone database for minimal images

	"github.com/rotisserie/eris"
)

// ISOLayout is the zone-less ISO-8601 layout used for canonical timestamps
// that carry no offset.
const ISOLayout = "2006-01-02T15:04:05"

// RawLayout is the space-separated layout written into raw export files.
const RawLayout = "2006-01-02 15:04:05-07:00"

// zoned layouts are converted into the reference zone; naive layouts are
// localized into it.
var (
	zonedLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02T15:04:05-0700",
		"2006-01-02 15:04:05-0700",
		"2006-01-02T15:04Z07:00",
		"2006-01-02 15:04Z07:00",
	}
	naiveLayouts = []string{
		ISOLayout,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
	}
)

// LoadZone resolves an IANA zone name. An empty name is UTC.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, eris.Wrapf(err, "timeseries: load zone %q", name)
	}
	return loc, nil
}

// ParseTimestamp parses s and returns it expressed in zone. Offsets present in
// s are honoured and converted; naive values are interpreted as wall time in
// zone.
func ParseTimestamp(s string, zone *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, eris.New("timeseries: empty timestamp")
	}
	if zone == nil {
		zone = time.UTC
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(zone), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, zone); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("timeseries: unrecognised timestamp %q", s)
}

// FormatRaw renders t in zone using the space-separated raw export layout.
func FormatRaw(t time.Time, zone *time.Location) string {
	return t.In(zone).Format(RawLayout)
}

// SortUnique sorts ts ascending and removes entries describing the same
// instant, whatever their location.
func SortUnique(ts []time.Time) []time.Time {
	if len(ts) == 0 {
		return ts
	}
	out := slices.Clone(ts)
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return slices.CompactFunc(out, func(a, b time.Time) bool { return a.Equal(b) })
}

// Mode selects how the next fetch window is derived.
type Mode string

const (
	// ModeAppend extends history forward from the latest known reading.
	ModeAppend Mode = "append"
	// ModeBackfill repairs the earliest gap in history.
	ModeBackfill Mode = "backfill"
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAppend:
		return ModeAppend, nil
	case ModeBackfill:
		return ModeBackfill, nil
	default:
		return "", eris.Errorf("unknown mode: %q (valid: append, backfill)", s)
	}
}

// Gap is a hole between two consecutive known timestamps.
type Gap struct {
	Start time.Time
	End   time.Time
}

// Duration returns the width of the gap.
func (g Gap) Duration() time.Duration {
	return g.End.Sub(g.Start)
}

// Window is a half-open [Start, End) range to request from the source.
type Window struct {
	Start time.Time
	End   time.Time
	Mode  Mode
}

// Span returns End - Start.
func (w Window) Span() time.Duration {
	return w.End.Sub(w.Start)
}

// Valid reports whether the window is non-empty.
func (w Window) Valid() bool {
	return w.Start.Before(w.End)
}

// In returns a copy of w with both bounds expressed in loc.
func (w Window) In(loc *time.Location) Window {
	return Window{Start: w.Start.In(loc), End: w.End.In(loc), Mode: w.Mode}
}

// Split cuts the window into consecutive chunks no longer than size.
func (w Window) Split(size time.Duration) []Window {
	if !w.Valid() {
		return nil
	}
	if size <= 0 || w.Span() <= size {
		return []Window{w}
	}
	var out []Window
	for start := w.Start; start.Before(w.End); start = start.Add(size) {
		end := start.Add(size)
		if end.After(w.End) {
			end = w.End
		}
		out = append(out, Window{Start: start, End: end, Mode: w.Mode})
	}
	return out
}

func (w Window) String() string {
	return fmt.Sprintf("%s [%s, %s)", w.Mode, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}
