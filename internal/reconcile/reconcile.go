package reconcile

import (
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/gensync/internal/timeseries"
)

// Sentinel errors surfaced to the caller; reconciliation of the export stops.
var (
	ErrNoTimeColumn   = eris.New("reconcile: export has no time column")
	ErrTooFewRows     = eris.New("reconcile: export has fewer than two metadata rows")
	ErrAmbiguousMerge = eris.New("reconcile: header matches more than one later header")
)

const (
	fuelRow   = 0
	metricRow = 1
	dataStart = 2
)

// Options configures the column markers and the reference zone.
type Options struct {
	// TimeColumn replaces whatever the first header says.
	TimeColumn string
	// FuelMarker selects unit columns by their technology label
	// (case-insensitive substring).
	FuelMarker string
	// ConsumptionMarker flags columns whose readings are negated
	// (case- and space-insensitive equality).
	ConsumptionMarker string
	// Zone is the reference zone timestamps are expressed in.
	Zone *time.Location
}

// DefaultOptions returns the markers used for the nuclear fleet.
func DefaultOptions() Options {
	return Options{
		TimeColumn:        "TIME",
		FuelMarker:        "nuclear",
		ConsumptionMarker: "actual consumption",
		Zone:              time.UTC,
	}
}

// Reconciler normalizes raw exports. It is safe for concurrent use.
type Reconciler struct {
	opts Options
	log  *zap.Logger
}

// New returns a Reconciler. Empty options fall back to DefaultOptions.
func New(opts Options) *Reconciler {
	d := DefaultOptions()
	if opts.TimeColumn == "" {
		opts.TimeColumn = d.TimeColumn
	}
	if opts.FuelMarker == "" {
		opts.FuelMarker = d.FuelMarker
	}
	if opts.ConsumptionMarker == "" {
		opts.ConsumptionMarker = d.ConsumptionMarker
	}
	if opts.Zone == nil {
		opts.Zone = d.Zone
	}
	opts.FuelMarker = strings.ToLower(opts.FuelMarker)
	opts.ConsumptionMarker = strings.ToLower(strings.TrimSpace(opts.ConsumptionMarker))
	return &Reconciler{
		opts: opts,
		log:  zap.L().With(zap.String("component", "reconcile")),
	}
}

// column is a retained unit column of the raw export.
type column struct {
	header  string
	index   int
	negate  bool
	values  []Value
	invalid int
}

// Reconcile converts raw into a canonical table. The output depends only on
// the input: units are sorted, consumption columns are negated, and a header
// that is a substring of the next one absorbs that column.
func (r *Reconciler) Reconcile(raw *RawExport) (*Table, error) {
	if raw == nil || len(raw.Header) == 0 {
		return nil, ErrNoTimeColumn
	}
	if len(raw.Rows) < dataStart {
		return nil, eris.Wrapf(ErrTooFewRows, "reconcile: got %d rows", len(raw.Rows))
	}

	cols := r.selectColumns(raw)
	slices.SortStableFunc(cols, func(a, b *column) int { return strings.Compare(a.header, b.header) })

	table := &Table{TimeColumn: r.opts.TimeColumn}
	width := len(raw.Header)
	for n, rec := range raw.Rows[dataStart:] {
		line := n + dataStart + 2 // header and 1-based numbering
		if len(rec) != width {
			r.log.Warn("skipping malformed row",
				zap.Int("line", line),
				zap.Int("fields", len(rec)),
				zap.Int("expected", width),
			)
			table.SkippedRows++
			continue
		}

		stamp := strings.Replace(strings.TrimSpace(rec[0]), " ", "T", 1)
		ts, err := timeseries.ParseTimestamp(stamp, r.opts.Zone)
		if err != nil {
			r.log.Warn("skipping row with invalid timestamp", zap.Int("line", line), zap.String("timestamp", rec[0]))
			table.SkippedRows++
			continue
		}

		table.Rows = append(table.Rows, Row{Time: ts, Stamp: stamp})
		for _, c := range cols {
			v, ok := parseValue(rec[c.index])
			if !ok {
				c.invalid++
			}
			if c.negate && v.Valid {
				v = v.Negate()
			}
			c.values = append(c.values, v)
		}
	}

	cols, err := r.mergeSimilar(cols)
	if err != nil {
		return nil, err
	}

	table.Entities = make([]string, len(cols))
	for i, c := range cols {
		table.Entities[i] = c.header
		if c.invalid > 0 {
			r.log.Warn("non-numeric cells treated as absent", zap.String("column", c.header), zap.Int("cells", c.invalid))
		}
	}
	for i := range table.Rows {
		vals := make([]Value, len(cols))
		for j, c := range cols {
			vals[j] = c.values[i]
		}
		table.Rows[i].Values = vals
	}
	return table, nil
}

func (r *Reconciler) selectColumns(raw *RawExport) []*column {
	fuel := raw.Rows[fuelRow]
	metric := raw.Rows[metricRow]

	var cols []*column
	for i := 1; i < len(raw.Header); i++ {
		if i >= len(fuel) || !strings.Contains(strings.ToLower(fuel[i]), r.opts.FuelMarker) {
			continue
		}
		header := NormalizeHeader(raw.Header[i])
		if header == "" {
			r.log.Warn("skipping unit column without header", zap.Int("column", i))
			continue
		}
		negate := i < len(metric) && strings.ToLower(strings.TrimSpace(metric[i])) == r.opts.ConsumptionMarker
		cols = append(cols, &column{header: header, index: i, negate: negate})
	}
	return cols
}

// mergeSimilar folds column i+1 into column i when header i is a substring of
// header i+1. Absent values of i are filled from i+1.
func (r *Reconciler) mergeSimilar(cols []*column) ([]*column, error) {
	out := make([]*column, 0, len(cols))
	for i := 0; i < len(cols); i++ {
		cur := cols[i]
		if i+1 >= len(cols) || !strings.Contains(cols[i+1].header, cur.header) {
			out = append(out, cur)
			continue
		}
		for j := i + 2; j < len(cols); j++ {
			if strings.Contains(cols[j].header, cur.header) {
				return nil, eris.Wrapf(ErrAmbiguousMerge, "reconcile: %q is contained in %q and %q", cur.header, cols[i+1].header, cols[j].header)
			}
		}

		next := cols[i+1]
		for k, v := range cur.values {
			if !v.Valid {
				cur.values[k] = next.values[k]
			}
		}
		cur.invalid += next.invalid
		r.log.Info("merged similar columns", zap.String("kept", cur.header), zap.String("dropped", next.header))
		out = append(out, cur)
		i++
	}
	return out, nil
}

// NormalizeHeader trims and NFC-normalizes a unit name.
func NormalizeHeader(h string) string {
	return norm.NFC.String(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
}

// parseValue converts a cell. Empty cells and NaN tokens are absent; the
// boolean is false only for cells that are neither numbers nor sentinels.
func parseValue(cell string) (Value, bool) {
	s := strings.TrimSpace(cell)
	if s == "" || isNaNToken(s) {
		return Value{}, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, false
	}
	return Some(f), true
}

func isNaNToken(s string) bool {
	switch strings.ToLower(strings.TrimLeft(s, "+-")) {
	case "nan", "null", "none", "n/a", "na":
		return true
	}
	return false
}
