package reconcile

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gensync/internal/fetcher"
	"github.com/sells-group/gensync/internal/model"
	"github.com/sells-group/gensync/internal/timeseries"
)

// Value is an optional reading. The zero Value is absent, which is distinct
// from a present zero.
type Value struct {
	Float float64
	Valid bool
}

// Some returns a present value.
func Some(f float64) Value {
	return Value{Float: f, Valid: true}
}

// Negate flips the sign of a present value; -0 becomes 0.
func (v Value) Negate() Value {
	if !v.Valid {
		return v
	}
	f := -v.Float
	if f == 0 {
		f = 0
	}
	return Value{Float: f, Valid: true}
}

// String renders the value as a canonical cell.
func (v Value) String() string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float, 'f', -1, 64)
}

// Row is one timestamp with one value per entity of the owning Table.
type Row struct {
	Time   time.Time
	Stamp  string
	Values []Value
}

// Table is the canonical wide series.
type Table struct {
	TimeColumn string
	Entities   []string
	Rows       []Row
	// SkippedRows counts malformed data rows that were dropped.
	SkippedRows int
}

// Readings flattens the table into one reading per present cell, entity by
// entity, timestamp by timestamp. The second result counts absent cells.
func (t *Table) Readings() ([]model.Reading, int) {
	readings := make([]model.Reading, 0, len(t.Rows)*len(t.Entities))
	empty := 0
	for j, name := range t.Entities {
		for _, row := range t.Rows {
			v := row.Values[j]
			if !v.Valid {
				empty++
				continue
			}
			readings = append(readings, model.Reading{Unit: name, Timestamp: row.Time, Value: v.Float})
		}
	}
	return readings, empty
}

// Timestamps returns the row times in order.
func (t *Table) Timestamps() []time.Time {
	ts := make([]time.Time, len(t.Rows))
	for i, r := range t.Rows {
		ts[i] = r.Time
	}
	return ts
}

func newCSVWriter(w io.Writer) *csv.Writer {
	return csv.NewWriter(w)
}

// WriteCSV writes the canonical file: the time column followed by the
// entities, one line per row, absent values as empty cells.
func WriteCSV(w io.Writer, t *Table) error {
	cw := newCSVWriter(w)
	timeCol := t.TimeColumn
	if timeCol == "" {
		timeCol = DefaultOptions().TimeColumn
	}

	record := make([]string, 0, len(t.Entities)+1)
	record = append(record, timeCol)
	record = append(record, t.Entities...)
	if err := cw.Write(record); err != nil {
		return eris.Wrap(err, "reconcile: write header")
	}

	for _, row := range t.Rows {
		record = record[:0]
		record = append(record, row.Stamp)
		for _, v := range row.Values {
			record = append(record, v.String())
		}
		if err := cw.Write(record); err != nil {
			return eris.Wrap(err, "reconcile: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "reconcile: flush")
}

// ReadCanonical parses a file written by WriteCSV. Malformed rows are
// skipped and counted.
func ReadCanonical(ctx context.Context, r io.Reader, zone *time.Location) (*Table, error) {
	records, err := fetcher.ReadAllCSV(ctx, r, fetcher.CSVOptions{})
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: read canonical")
	}
	if len(records) == 0 || len(records[0]) == 0 {
		return nil, ErrNoTimeColumn
	}

	header := records[0]
	timeCol := NormalizeHeader(header[0])
	if !strings.EqualFold(timeCol, DefaultOptions().TimeColumn) {
		return nil, eris.Wrapf(ErrNoTimeColumn, "reconcile: first column is %q", header[0])
	}

	t := &Table{TimeColumn: timeCol}
	for _, h := range header[1:] {
		t.Entities = append(t.Entities, NormalizeHeader(h))
	}

	for _, rec := range records[1:] {
		if len(rec) != len(header) {
			t.SkippedRows++
			continue
		}
		ts, err := timeseries.ParseTimestamp(rec[0], zone)
		if err != nil {
			t.SkippedRows++
			continue
		}
		row := Row{Time: ts, Stamp: strings.TrimSpace(rec[0]), Values: make([]Value, len(t.Entities))}
		for j, cell := range rec[1:] {
			v, _ := parseValue(cell)
			row.Values[j] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}
