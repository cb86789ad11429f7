package report

import (
	"fmt"
	"strings"
	"time"
)

const stampLayout = "2006-01-02 15:04"

// Render formats the report as a plain-text message. Times are shown in loc.
func Render(r *Report, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder

	if r.LatestAt == nil {
		b.WriteString("Production report: no readings stored\n")
		fmt.Fprintf(&b, "Units without data: %d\n", len(r.Missing))
		return b.String()
	}

	fmt.Fprintf(&b, "Production report - %s\n\n", r.LatestAt.In(loc).Format(stampLayout))
	fmt.Fprintf(&b, "Fleet load factor: %.1f%% (%.0f / %.0f MW)\n", r.LoadFactor, r.TotalMW, r.NominalMW)
	if r.WatchUnit != "" {
		if r.WatchValue != nil {
			fmt.Fprintf(&b, "%s: %s MW\n", r.WatchUnit, formatMW(*r.WatchValue))
		} else {
			fmt.Fprintf(&b, "%s: N/A\n", r.WatchUnit)
		}
	}
	b.WriteString("\n")

	pct := r.LowRatio * 100
	if r.LowAge.Count > 0 {
		fmt.Fprintf(&b, "Mean age of the %d units under %.0f%% of nominal: %.2f years\n", r.LowAge.Count, pct, r.LowAge.MeanAge)
	}
	if r.OtherAge.Count > 0 {
		fmt.Fprintf(&b, "Mean age of the %d other units: %.2f years\n", r.OtherAge.Count, r.OtherAge.MeanAge)
	}

	fmt.Fprintf(&b, "\nUnits under %.0f%% of nominal: %d\n", pct, len(r.Low))
	for _, u := range r.Low {
		since := "never above"
		if u.DaysSinceAbove != nil {
			since = fmt.Sprintf("%d d", int(*u.DaysSinceAbove))
		}
		fmt.Fprintf(&b, "- %s (%s MW, %s)\n", u.Name, formatMW(u.Value), since)
	}

	fmt.Fprintf(&b, "\nUnits without data: %d\n", len(r.Missing))
	for _, u := range r.Missing {
		last := "never"
		if u.LastAt != nil {
			last = u.LastAt.In(loc).Format(stampLayout)
		}
		fmt.Fprintf(&b, "- %s (last record: %s)\n", u.Name, last)
	}

	if r.FailedRuns > 0 {
		fmt.Fprintf(&b, "\nFailed sync runs (recent): %d\n", r.FailedRuns)
	}
	return b.String()
}

func formatMW(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}
