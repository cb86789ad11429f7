package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gensync/internal/model"
)

type processed struct {
	mu    sync.Mutex
	paths []string
	res   []*model.LoadResult
}

func (p *processed) record(path string, res *model.LoadResult, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		p.paths = append(p.paths, path)
		p.res = append(p.res, res)
	}
}

func (p *processed) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.paths)
}

func TestWatcher_ProcessesNewRawExports(t *testing.T) {
	st := newTestStore(t)
	clock := now
	e, dir := newTestEngine(t, nil, st, &clock)

	w, err := NewWatcher(e, 50*time.Millisecond)
	require.NoError(t, err)
	var got processed
	w.OnProcessed = got.record

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Files that are not raw exports are ignored.
	writeFile(t, dir, "notes.txt", "hello")
	writeFile(t, dir, "x_output_filtered.csv", "TIME,A\n2024-01-10T08:00:00,1\n")

	raw := ",A,B\n,Nuclear,Nuclear\n,Actual Aggregated,Actual Aggregated\n2024-01-10 08:00:00+00:00,10,20\n"
	tmp := filepath.Join(dir, ".tmp-123")
	require.NoError(t, os.WriteFile(tmp, []byte(raw), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, "20240110_100000_generation_output.csv")))

	require.Eventually(t, func() bool { return got.count() == 1 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, filepath.Join(dir, "20240110_100000_generation_output.csv"), got.paths[0])
	assert.Equal(t, 2, got.res[0].Inserted)
	assert.FileExists(t, filepath.Join(dir, "20240110_100000_generation_output_filtered.csv"))
}

func TestNewWatcher_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	e := NewEngine(nil, newTestStore(t), Options{DataDir: dir})
	w, err := NewWatcher(e, 0)
	require.NoError(t, err)
	defer w.Close() //nolint:errcheck
	assert.DirExists(t, dir)
	assert.Equal(t, 2*time.Second, w.delay)
}

func TestWatcher_FiredTimersDoNotBlockAfterClose(t *testing.T) {
	clock := now
	e, _ := newTestEngine(t, nil, newTestStore(t), &clock)
	w, err := NewWatcher(e, time.Millisecond)
	require.NoError(t, err)

	// Nothing drains ready, so more timers fire than the queue holds.
	n := cap(w.ready) + 4
	for i := 0; i < n; i++ {
		w.trigger(filepath.Join(e.Options().DataDir, fmt.Sprintf("%02d_output.csv", i)))
	}
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.timers) == 0
	}, 5*time.Second, 5*time.Millisecond)
	assert.Len(t, w.ready, cap(w.ready))

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	select {
	case <-w.done:
	default:
		t.Fatal("done not closed")
	}
}
