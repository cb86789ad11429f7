// Package history discovers previously fetched export files and builds the
// set of timestamps they already cover.
package history

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNoFiles is returned by MostRecent when the data directory holds no
// matching file.
var ErrNoFiles = eris.New("history: no matching files")

// FileInfo describes one export file in the data directory.
type FileInfo struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// KnownRange is the first and last timestamp found in a file.
type KnownRange struct {
	Path  string
	First time.Time
	Last  time.Time
	Count int
}

// Repository lists export files stored in a directory.
type Repository struct {
	dir string
}

// NewRepository returns a repository rooted at dir.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the data directory.
func (r *Repository) Dir() string {
	return r.dir
}

// ListFiles returns the regular files whose name ends with suffix, most
// recently modified first. A missing directory yields an empty list.
func (r *Repository) ListFiles(suffix string) ([]FileInfo, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "history: read dir %s", r.dir)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		files = append(files, FileInfo{
			Path:    filepath.Join(r.dir, e.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}

	slices.SortStableFunc(files, func(a, b FileInfo) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}
		return strings.Compare(b.Path, a.Path)
	})
	return files, nil
}

// Paths returns the paths of ListFiles(suffix).
func (r *Repository) Paths(suffix string) ([]string, error) {
	files, err := r.ListFiles(suffix)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths, nil
}

// MostRecent returns the most recently modified file with suffix.
func (r *Repository) MostRecent(suffix string) (FileInfo, error) {
	files, err := r.ListFiles(suffix)
	if err != nil {
		return FileInfo{}, err
	}
	if len(files) == 0 {
		return FileInfo{}, eris.Wrapf(ErrNoFiles, "history: *%s in %s", suffix, r.dir)
	}
	return files[0], nil
}

// ListKnownRanges returns, for every file with suffix, the first and last
// timestamp it holds, ordered by first timestamp. Files without any parseable
// timestamp are left out.
func (r *Repository) ListKnownRanges(ctx context.Context, idx *Index, suffix string) ([]KnownRange, error) {
	files, err := r.ListFiles(suffix)
	if err != nil {
		return nil, err
	}

	var ranges []KnownRange
	for _, f := range files {
		ts, err := idx.Load(ctx, []string{f.Path})
		if err != nil {
			return nil, err
		}
		if len(ts) == 0 {
			continue
		}
		ranges = append(ranges, KnownRange{
			Path:  f.Path,
			First: ts[0],
			Last:  ts[len(ts)-1],
			Count: len(ts),
		})
	}

	slices.SortFunc(ranges, func(a, b KnownRange) int {
		if c := a.First.Compare(b.First); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	return ranges, nil
}
