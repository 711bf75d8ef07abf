package persistence

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jibrilsharafi/energyme-core/internal/measurement"
	"github.com/jibrilsharafi/energyme-core/internal/meterconf"
)

// SaveEnergyInterval is the write-back task's period (spec.md 4.5
// "Write-back task").
const SaveEnergyInterval = 6 * time.Minute

// SaveThresholdWh is the minimum per-bucket delta that triggers a write
// (spec.md 4.5: "if the delta exceeds a small threshold, >= 0.001
// Wh-equivalent").
const SaveThresholdWh = 0.001

// SnapshotSource is the read side of internal/acquisition.Engine the
// writer needs; it avoids an import cycle between acquisition and
// persistence.
type SnapshotSource interface {
	Snapshots() [meterconf.ChannelCount]measurement.Snapshot
}

// EnergySeeder restores one bucket of one channel's energy at startup;
// internal/acquisition.Engine implements it.
type EnergySeeder interface {
	SeedEnergy(channel uint8, bucket measurement.EnergyBucket, value float64)
}

func energyKey(channel uint8, bucket measurement.EnergyBucket) string {
	return fmt.Sprintf("%d:%d", channel, bucket)
}

func encodeFloat(f float64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
	return b[:]
}

func decodeFloat(b []byte) float64 {
	if len(b) != 8 {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

// LoadEnergy restores every channel's persisted energy buckets into the
// engine's live snapshots, and returns a baseline cache seeded with the
// same values for the Writer to diff against (spec.md 4.5 "Startup";
// missing keys default to 0).
func LoadEnergy(store Store, seeder EnergySeeder) map[string]float64 {
	baseline := make(map[string]float64)
	for ch := uint8(0); ch < meterconf.ChannelCount; ch++ {
		for _, bucket := range measurement.AllBuckets {
			key := energyKey(ch, bucket)
			raw, err := store.Get(NamespaceEnergy, key)
			var v float64
			if err == nil {
				v = decodeFloat(raw)
			}
			baseline[key] = v
			seeder.SeedEnergy(ch, bucket, v)
		}
	}
	return baseline
}

// Writer is the low-priority energy write-back task (spec.md 4.5,
// 5 "Energy writer"). It compares each channel's five buckets against a
// baseline cache and writes only changed buckets, bounding flash wear.
type Writer struct {
	store    Store
	source   SnapshotSource
	baseline map[string]float64
}

// NewWriter constructs a Writer seeded with the baseline produced by
// LoadEnergy (or an empty map, if the caller has no prior state).
func NewWriter(store Store, source SnapshotSource, baseline map[string]float64) *Writer {
	if baseline == nil {
		baseline = make(map[string]float64)
	}
	return &Writer{store: store, source: source, baseline: baseline}
}

// Run ticks every SaveEnergyInterval until ctx is cancelled, persisting
// any bucket whose delta against the baseline exceeds SaveThresholdWh
// (spec.md 4.5, 7 "PersistenceError": leave baseline unchanged, retry
// next interval).
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(SaveEnergyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush()
			return ctx.Err()
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Writer) flush() {
	snapshots := w.source.Snapshots()
	for ch, snap := range snapshots {
		for _, bucket := range measurement.AllBuckets {
			key := energyKey(uint8(ch), bucket)
			v := snap.Get(bucket)
			delta := v - w.baseline[key]
			if delta < 0 {
				delta = -delta
			}
			if delta < SaveThresholdWh {
				continue
			}
			if err := w.store.Set(NamespaceEnergy, key, encodeFloat(v)); err != nil {
				slog.Error("persistence: energy write-back failed", "channel", ch, "error", err)
				continue
			}
			w.baseline[key] = v
		}
	}
}

// ResetEnergy clears every persisted energy value (spec.md 4.5 "Reset").
func (w *Writer) ResetEnergy() error {
	for ch := uint8(0); ch < meterconf.ChannelCount; ch++ {
		for _, bucket := range measurement.AllBuckets {
			key := energyKey(ch, bucket)
			if err := w.store.Delete(NamespaceEnergy, key); err != nil {
				return err
			}
			w.baseline[key] = 0
		}
	}
	return nil
}
