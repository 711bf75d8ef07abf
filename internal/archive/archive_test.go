package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDaily(t *testing.T, dir, day, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "energy", "daily"), 0o755))
	path := filepath.Join(dir, "energy", "daily", day+".csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestCompressFinishedDailyLeavesTodayAlone(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	writeDaily(t, dir, "2026-07-30", "timestamp_iso,channel\n2026-07-30T00:00:00Z,0\n")
	writeDaily(t, dir, "2026-07-31", "timestamp_iso,channel\n2026-07-31T00:00:00Z,0\n")

	c := New(dir)
	require.NoError(t, c.compressFinishedDaily(now))

	_, err := os.Stat(filepath.Join(dir, "energy", "daily", "2026-07-30.csv.gz"))
	assert.NoError(t, err, "yesterday's file should be compressed")

	_, err = os.Stat(filepath.Join(dir, "energy", "daily", "2026-07-30.csv"))
	assert.True(t, os.IsNotExist(err), "source should be removed after compression")

	_, err = os.Stat(filepath.Join(dir, "energy", "daily", "2026-07-31.csv"))
	assert.NoError(t, err, "today's file must not be touched")
}

func TestRunOnceTwiceWithNoNewFilesIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	writeDaily(t, dir, "2026-07-30", "timestamp_iso,channel\n2026-07-30T00:00:00Z,0\n")

	c := New(dir)
	c.RunOnce(now)

	before, err := os.ReadDir(filepath.Join(dir, "energy", "daily"))
	require.NoError(t, err)

	c.RunOnce(now)

	after, err := os.ReadDir(filepath.Join(dir, "energy", "daily"))
	require.NoError(t, err)

	assert.Equal(t, len(before), len(after))
}

func TestDailyToMonthlyRollupMergesAndRemovesSources(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 1, 0, 5, 0, 0, time.UTC)

	writeDaily(t, dir, "2026-07-30", "h\n2026-07-30 row\n")
	writeDaily(t, dir, "2026-07-31", "h\n2026-07-31 row\n")

	c := New(dir)
	require.NoError(t, c.compressFinishedDaily(now))
	require.NoError(t, c.rollupDailyToMonthly(now))

	_, err := os.Stat(filepath.Join(dir, "energy", "monthly", "2026-07.csv.gz"))
	assert.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "energy", "daily"))
	require.NoError(t, err)
	assert.Empty(t, entries, "consumed daily files should be removed")
}
