package history

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gensync/internal/fetcher"
	"github.com/sells-group/gensync/internal/timeseries"
)

// Index collects the timestamps already covered by stored export files.
// Only the first column of each file is read.
type Index struct {
	zone *time.Location
	log  *zap.Logger
}

// NewIndex creates an Index that expresses every timestamp in zone.
func NewIndex(zone *time.Location) *Index {
	if zone == nil {
		zone = time.UTC
	}
	return &Index{
		zone: zone,
		log:  zap.L().With(zap.String("component", "history.index")),
	}
}

// Load returns the sorted, de-duplicated timestamps found in paths. Rows
// whose first cell is not a timestamp are ignored. Files that are missing,
// empty, or unreadable are skipped with a warning. The only error returned is
// context cancellation.
func (x *Index) Load(ctx context.Context, paths []string) ([]time.Time, error) {
	var all []time.Time
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "history: load index")
		}

		ts, err := x.loadFile(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "history: load index")
			}
			x.log.Warn("skipping unreadable history file", zap.String("path", p), zap.Error(err))
			continue
		}
		if len(ts) == 0 {
			x.log.Warn("skipping history file without timestamps", zap.String("path", p))
			continue
		}
		all = append(all, ts...)
	}
	return timeseries.SortUnique(all), nil
}

func (x *Index) loadFile(ctx context.Context, path string) ([]time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "history: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	rowCh, errCh := fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{Columns: 1, TrimSpace: true})

	var ts []time.Time
	for row := range rowCh {
		if len(row) == 0 {
			continue
		}
		t, err := timeseries.ParseTimestamp(row[0], x.zone)
		if err != nil {
			continue
		}
		ts = append(ts, t)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return ts, nil
}
