package persistence

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jibrilsharafi/energyme-core/internal/measurement"
	"github.com/jibrilsharafi/energyme-core/internal/meterconf"
)

// csvHeader is written once per daily file (spec.md 4.5 "Hourly CSV
// spool", 6.3).
var csvHeader = []string{
	"timestamp_iso", "channel", "label", "phase",
	"active_imp", "active_exp", "reactive_imp", "reactive_exp", "apparent",
}

// ChannelLabels is the read side of the channel table the spooler needs
// to emit label/phase columns; internal/meter's configuration owns it.
type ChannelLabels interface {
	Channels() [meterconf.ChannelCount]meterconf.ChannelConfig
}

// HourlySpooler appends one row per active channel to the day's CSV
// file, aligned to the next wall-clock hour (spec.md 4.5, 5).
type HourlySpooler struct {
	dir    string
	source SnapshotSource
	labels ChannelLabels
}

// NewHourlySpooler roots the daily CSV files under dir/energy/daily.
func NewHourlySpooler(dir string, source SnapshotSource, labels ChannelLabels) *HourlySpooler {
	return &HourlySpooler{dir: dir, source: source, labels: labels}
}

func (h *HourlySpooler) dailyPath(day time.Time) string {
	return filepath.Join(h.dir, "energy", "daily", day.UTC().Format("2006-01-02")+".csv")
}

// Run blocks, waking at each wall-clock hour boundary, until ctx is
// cancelled.
func (h *HourlySpooler) Run(ctx context.Context) error {
	for {
		next := time.Now().UTC().Truncate(time.Hour).Add(time.Hour)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
			if err := h.SpoolOnce(next); err != nil {
				slog.Error("persistence: hourly spool failed", "error", err)
			}
		}
	}
}

// SpoolOnce appends one row per active channel whose accumulators
// exceed the save threshold, creating the file and header if absent
// (spec.md 4.5, 6.3).
func (h *HourlySpooler) SpoolOnce(hour time.Time) error {
	path := h.dailyPath(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("persistence: mkdir: %w", err)
	}

	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("persistence: open %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write(csvHeader); err != nil {
			return err
		}
	}

	ts := hour.UTC().Format(time.RFC3339)
	channels := h.labels.Channels()
	snapshots := h.source.Snapshots()

	for i, cc := range channels {
		if !cc.Active {
			continue
		}
		snap := snapshots[i]
		if !anyExceedsThreshold(snap) {
			continue
		}
		row := []string{
			ts,
			fmt.Sprintf("%d", i),
			cc.Label,
			cc.Phase.String(),
			fmt.Sprintf("%.3f", snap.ActiveImportedWh),
			fmt.Sprintf("%.3f", snap.ActiveExportedWh),
			fmt.Sprintf("%.3f", snap.ReactiveImportedWh),
			fmt.Sprintf("%.3f", snap.ReactiveExportedWh),
			fmt.Sprintf("%.3f", snap.ApparentWh),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func anyExceedsThreshold(s measurement.Snapshot) bool {
	for _, b := range measurement.AllBuckets {
		if s.Get(b) >= SaveThresholdWh {
			return true
		}
	}
	return false
}

// RemoveDailyFiles deletes every daily CSV/CSV.gz file, part of the
// "reset energies" operation (spec.md 4.5 "Reset").
func RemoveDailyFiles(dir string) error {
	pattern := filepath.Join(dir, "energy", "daily", "*.csv*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return err
		}
	}
	return nil
}
