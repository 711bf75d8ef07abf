package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jibrilsharafi/energyme-core/internal/measurement"
	"github.com/jibrilsharafi/energyme-core/internal/meterconf"
)

type fakeSource struct {
	snaps [meterconf.ChannelCount]measurement.Snapshot
}

func (f fakeSource) Snapshots() [meterconf.ChannelCount]measurement.Snapshot { return f.snaps }

type fakeLabels struct {
	channels [meterconf.ChannelCount]meterconf.ChannelConfig
}

func (f fakeLabels) Channels() [meterconf.ChannelCount]meterconf.ChannelConfig { return f.channels }

func TestHourlySpoolerWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()

	channels := meterconf.DefaultChannels()
	labels := fakeLabels{channels: channels}

	var snaps [meterconf.ChannelCount]measurement.Snapshot
	snaps[0].ActiveImportedWh = 1.5
	source := fakeSource{snaps: snaps}

	spooler := NewHourlySpooler(dir, source, labels)
	hour := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	require.NoError(t, spooler.SpoolOnce(hour))
	require.NoError(t, spooler.SpoolOnce(hour.Add(time.Hour)))

	data, err := os.ReadFile(filepath.Join(dir, "energy", "daily", "2026-07-31.csv"))
	require.NoError(t, err)
	assert.Equal(t, 1, countOccurrences(string(data), "timestamp_iso"))
	assert.Equal(t, 2, countOccurrences(string(data), "channel_0"))
}

func TestHourlySpoolerSkipsChannelsBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	channels := meterconf.DefaultChannels()
	labels := fakeLabels{channels: channels}
	source := fakeSource{} // all-zero snapshots

	spooler := NewHourlySpooler(dir, source, labels)
	hour := time.Date(2026, 7, 31, 11, 0, 0, 0, time.UTC)
	require.NoError(t, spooler.SpoolOnce(hour))

	data, err := os.ReadFile(filepath.Join(dir, "energy", "daily", "2026-07-31.csv"))
	require.NoError(t, err)
	assert.Equal(t, 1, countOccurrences(string(data), "\n"), "only the header row should be present")
}

func countOccurrences(s, sub string) int {
	n := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			n++
		}
	}
	return n
}
