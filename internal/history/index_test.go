package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func paris(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	return loc
}

const rawExport = `,BLAYAIS 1,GOLFECH 2
,Nuclear,Nuclear
,Actual Aggregated,Actual Aggregated
2024-01-01 00:00:00+01:00,880,1300
2024-01-01 01:00:00+01:00,875,1290
`

func TestIndex_LoadRawExport(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "a_output.csv", rawExport)

	ts, err := NewIndex(paris(t)).Load(context.Background(), []string{p})
	require.NoError(t, err)
	require.Len(t, ts, 2)
	assert.True(t, ts[0].Equal(time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Europe/Paris", ts[0].Location().String())
}

func TestIndex_DeduplicatesAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a_filtered.csv", "TIME,UNIT1\n2024-01-01T00:00:00+01:00,1\n2024-01-01T01:00:00+01:00,2\n")
	b := writeFile(t, dir, "b_filtered.csv", "TIME,UNIT1\n2023-12-31T23:00:00Z,1\n2024-01-01T02:00:00+01:00,3\n")

	ts, err := NewIndex(paris(t)).Load(context.Background(), []string{b, a})
	require.NoError(t, err)
	require.Len(t, ts, 3)
	for i := 1; i < len(ts); i++ {
		assert.True(t, ts[i-1].Before(ts[i]))
	}
}

func TestIndex_NaiveTimestampsLocalized(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "naive.csv", "TIME,UNIT1\n2024-07-01T12:00:00,1\n")

	ts, err := NewIndex(paris(t)).Load(context.Background(), []string{p})
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.True(t, ts[0].Equal(time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)))
}

func TestIndex_SkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.csv", rawExport)
	empty := writeFile(t, dir, "empty.csv", "")
	garbage := writeFile(t, dir, "garbage.csv", "not,a,timestamp\nstill,not,one\n")
	broken := writeFile(t, dir, "broken.csv", "a,b\n1,he\"llo\n")
	missing := filepath.Join(dir, "missing.csv")

	ts, err := NewIndex(paris(t)).Load(context.Background(), []string{missing, empty, garbage, broken, good})
	require.NoError(t, err)
	assert.Len(t, ts, 2)
}

func TestIndex_EmptyHistory(t *testing.T) {
	ts, err := NewIndex(nil).Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ts)
}

func TestIndex_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "a.csv", rawExport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewIndex(nil).Load(ctx, []string{p})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
