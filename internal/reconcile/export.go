// Package reconcile turns heterogeneous wide exports into the canonical
// per-unit time series: one signed, optional value per unit and timestamp.
package reconcile

import (
	"context"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gensync/internal/fetcher"
)

// RawExport is a wide export as written by a fetch. Rows[0] carries the
// technology label of each column, Rows[1] its metric kind, and the remaining
// rows hold readings whose first cell is a space-separated timestamp.
type RawExport struct {
	Header []string
	Rows   [][]string
}

// ReadRawExport parses a raw export CSV.
func ReadRawExport(ctx context.Context, r io.Reader) (*RawExport, error) {
	records, err := fetcher.ReadAllCSV(ctx, r, fetcher.CSVOptions{})
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: read raw export")
	}
	if len(records) == 0 {
		return nil, eris.Wrap(ErrNoTimeColumn, "reconcile: empty raw export")
	}
	return &RawExport{Header: records[0], Rows: records[1:]}, nil
}

// WriteCSV writes the export back out in the same layout ReadRawExport
// accepts.
func (e *RawExport) WriteCSV(w io.Writer) error {
	cw := newCSVWriter(w)
	if err := cw.Write(e.Header); err != nil {
		return eris.Wrap(err, "reconcile: write raw header")
	}
	for _, row := range e.Rows {
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "reconcile: write raw row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "reconcile: flush raw export")
}
