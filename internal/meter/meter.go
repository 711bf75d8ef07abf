// Package meter is the single owning struct for the metering core
// (spec.md 9 "global singleton -> single owner struct"): it wires the
// SPI gateway, multiplexer, acquisition engine, persistence, archive
// consolidator, and telemetry sink together behind one lifecycle.
package meter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"

	"github.com/jibrilsharafi/energyme-core/internal/acquisition"
	"github.com/jibrilsharafi/energyme-core/internal/archive"
	"github.com/jibrilsharafi/energyme-core/internal/measurement"
	"github.com/jibrilsharafi/energyme-core/internal/meterconf"
	"github.com/jibrilsharafi/energyme-core/internal/mux"
	"github.com/jibrilsharafi/energyme-core/internal/persistence"
	"github.com/jibrilsharafi/energyme-core/internal/spibus"
	"github.com/jibrilsharafi/energyme-core/internal/telemetry"
)

// ErrConfigInvalid is returned by the Set* methods when the caller's
// request fails validation; the current configuration is left untouched
// (spec.md 7 "ConfigInvalid").
var ErrConfigInvalid = fmt.Errorf("meter: invalid configuration")

// consolidatorInterval is the period of the consolidator's ticker. Like
// the spool it runs hourly, but its ticks count from Begin and are not
// aligned to, or ordered after, the spool's wall-clock hour boundaries.
const consolidatorInterval = time.Hour

// Meter is the process-wide metering core. Configuration (channels,
// calibration, sample time) is guarded by mu and behaves as a value
// object: callers never mutate fields in place, they replace the whole
// record under the lock, then push it to hardware (spec.md 9 "Shared
// configuration").
type Meter struct {
	gw  *spibus.Gateway
	sel *mux.Selector

	mu           sync.RWMutex
	channels     [meterconf.ChannelCount]meterconf.ChannelConfig
	ade7953      meterconf.Ade7953Config
	sampleTimeMs uint32

	// seededFromStore records, per bucket key, whether loadPersistedConfig
	// found a previously-written value (true) or the field is still at
	// its meterconf default because the key has never been set (false).
	// This is the only reliable way to tell "operator hasn't configured
	// this yet" apart from "operator configured it to equal the default"
	// (spec.md 6.4, SPEC_FULL.md 6 "seeded into the Store only if the
	// relevant bucket key is absent").
	seededFromStore struct {
		sampleTime bool
		ade7953    bool
		channels   [meterconf.ChannelCount]bool
	}

	engine   *acquisition.Engine
	store    persistence.Store
	writer   *persistence.Writer
	spooler  *persistence.HourlySpooler
	archiver *archive.Consolidator
	dataDir  string
}

// Deps bundles the hardware and infrastructure handles New needs.
type Deps struct {
	Conn    spi.Conn
	Bit0    gpio.PinOut
	Bit1    gpio.PinOut
	Bit2    gpio.PinOut
	Bit3    gpio.PinOut
	IRQ     gpio.PinIn
	Store   persistence.Store
	Sink    telemetry.Sink
	DataDir string
}

// New wires every component together and restores persisted
// configuration and energy from Deps.Store. It does not yet start any
// goroutines or touch the device; call Begin for that.
func New(deps Deps) (*Meter, error) {
	m := &Meter{
		gw:      spibus.New(deps.Conn),
		sel:     mux.New(deps.Bit0, deps.Bit1, deps.Bit2, deps.Bit3),
		store:   deps.Store,
		dataDir: deps.DataDir,
	}

	m.channels = meterconf.DefaultChannels()
	m.ade7953 = meterconf.DefaultAde7953Config
	m.sampleTimeMs = meterconf.MinSampleTimeMS
	m.loadPersistedConfig()

	engine, err := acquisition.New(m.gw, m.sel, deps.IRQ, m, deps.Sink)
	if err != nil {
		return nil, fmt.Errorf("meter: build acquisition engine: %w", err)
	}
	m.engine = engine

	baseline := persistence.LoadEnergy(m.store, m.engine)
	m.writer = persistence.NewWriter(m.store, m.engine, baseline)
	m.spooler = persistence.NewHourlySpooler(m.dataDir, m.engine, m)
	m.archiver = archive.New(m.dataDir)

	return m, nil
}

// Channels implements acquisition.ConfigProvider and persistence.ChannelLabels.
func (m *Meter) Channels() [meterconf.ChannelCount]meterconf.ChannelConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels
}

// Ade7953 implements acquisition.ConfigProvider.
func (m *Meter) Ade7953() meterconf.Ade7953Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ade7953
}

// SampleTimeMs implements acquisition.ConfigProvider.
func (m *Meter) SampleTimeMs() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sampleTimeMs
}

// Snapshot returns one channel's current metering state.
func (m *Meter) Snapshot(channel uint8) measurement.Snapshot {
	return m.engine.Snapshot(channel)
}

// Snapshots returns every channel's current metering state.
func (m *Meter) Snapshots() [meterconf.ChannelCount]measurement.Snapshot {
	return m.engine.Snapshots()
}

// SetChannel replaces channel i's configuration wholesale (spec.md 8
// round-trip property: "set_channel(i, x); get_channel(i) == x"). An
// attempt to deactivate channel 0 is rejected, not silently ignored, so
// the caller can tell the difference (spec.md 8 property 4 still holds
// because the rejection leaves channel 0 active).
func (m *Meter) SetChannel(i uint8, cc meterconf.ChannelConfig) error {
	cc.Index = i
	if err := cc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if int(i) >= len(m.channels) {
		return fmt.Errorf("%w: channel index %d out of range", ErrConfigInvalid, i)
	}
	m.channels[i] = cc
	return m.persistChannelLocked(i, cc)
}

// SetAde7953 replaces the calibration block and re-applies it to the
// device (spec.md 9 "Shared configuration": "replace atomically under
// the config mutex, then apply to hardware").
func (m *Meter) SetAde7953(cfg meterconf.Ade7953Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ade7953 = cfg
	if err := acquisition.ApplyConfig(m.gw, m.ade7953, m.sampleTimeMs); err != nil {
		return fmt.Errorf("meter: apply ade7953 config: %w", err)
	}
	return m.persistAde7953Locked()
}

// SetSampleTimeMs clamps and applies a new line-cycle sample period
// (spec.md 8 property 3: "sample_time_ms >= 200 at all times").
func (m *Meter) SetSampleTimeMs(ms uint32) error {
	clamped := meterconf.ClampSampleTimeMS(ms)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sampleTimeMs = clamped
	if err := acquisition.ApplyConfig(m.gw, m.ade7953, m.sampleTimeMs); err != nil {
		return fmt.Errorf("meter: apply sample time: %w", err)
	}
	return m.persistSampleTimeLocked()
}

// ResetEnergies zeros every live accumulator, clears persisted values,
// and removes all daily CSV files (spec.md 4.5 "Reset").
func (m *Meter) ResetEnergies() error {
	m.engine.ResetEnergy()
	if err := m.writer.ResetEnergy(); err != nil {
		return fmt.Errorf("meter: reset persisted energy: %w", err)
	}
	return persistence.RemoveDailyFiles(m.dataDir)
}

// Begin applies the current configuration to the device, then launches
// the acquisition engine, energy writer, hourly spool, and consolidator
// goroutines under one errgroup.Group (teacher idiom, ModbusConn.Run),
// returning a Stop closer (spec.md 5 "Concurrency & resource model").
func (m *Meter) Begin(ctx context.Context) (stop func() error, err error) {
	if err := acquisition.ApplyConfig(m.gw, m.Ade7953(), m.SampleTimeMs()); err != nil {
		return nil, fmt.Errorf("meter: initial configuration apply: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return m.engine.Run(gctx)
	})
	g.Go(func() error {
		return m.writer.Run(gctx)
	})
	g.Go(func() error {
		return m.spooler.Run(gctx)
	})
	g.Go(func() error {
		return m.runConsolidator(gctx)
	})

	stop = func() error {
		cancel()
		return g.Wait()
	}
	return stop, nil
}

func (m *Meter) runConsolidator(ctx context.Context) error {
	ticker := time.NewTicker(consolidatorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			m.archiver.RunOnce(now)
		}
	}
}

func (m *Meter) loadPersistedConfig() {
	if raw, err := m.store.Get(persistence.NamespaceAde7953, "sample_time_ms"); err == nil {
		var ms uint32
		if jerr := json.Unmarshal(raw, &ms); jerr == nil {
			m.sampleTimeMs = meterconf.ClampSampleTimeMS(ms)
			m.seededFromStore.sampleTime = true
		}
	}
	if raw, err := m.store.Get(persistence.NamespaceAde7953, "calibration"); err == nil {
		var cfg meterconf.Ade7953Config
		if jerr := json.Unmarshal(raw, &cfg); jerr == nil {
			m.ade7953 = cfg
			m.seededFromStore.ade7953 = true
		}
	}
	for i := range m.channels {
		key := fmt.Sprintf("%d", i)
		raw, err := m.store.Get(persistence.NamespaceChannels, key)
		if err != nil {
			continue
		}
		var cc meterconf.ChannelConfig
		if jerr := json.Unmarshal(raw, &cc); jerr == nil {
			if verr := cc.Validate(); verr == nil {
				m.channels[i] = cc
				m.seededFromStore.channels[i] = true
			}
		}
	}
}

// SampleTimeSeeded reports whether the sample period was loaded from the
// store (true) or is still at its meterconf default because the bucket
// key has never been written (false).
func (m *Meter) SampleTimeSeeded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seededFromStore.sampleTime
}

// Ade7953Seeded reports whether the calibration block was loaded from
// the store (true) or is still at its meterconf default (false).
func (m *Meter) Ade7953Seeded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seededFromStore.ade7953
}

// ChannelSeeded reports whether channel i's configuration was loaded
// from the store (true) or is still at its meterconf default (false).
func (m *Meter) ChannelSeeded(i uint8) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if int(i) >= len(m.seededFromStore.channels) {
		return false
	}
	return m.seededFromStore.channels[i]
}

func (m *Meter) persistChannelLocked(i uint8, cc meterconf.ChannelConfig) error {
	raw, err := json.Marshal(cc)
	if err != nil {
		return err
	}
	if err := m.store.Set(persistence.NamespaceChannels, fmt.Sprintf("%d", i), raw); err != nil {
		slog.Error("meter: persist channel failed", "channel", i, "error", err)
	}
	return nil
}

func (m *Meter) persistAde7953Locked() error {
	raw, err := json.Marshal(m.ade7953)
	if err != nil {
		return err
	}
	if err := m.store.Set(persistence.NamespaceAde7953, "calibration", raw); err != nil {
		slog.Error("meter: persist ade7953 config failed", "error", err)
	}
	return nil
}

func (m *Meter) persistSampleTimeLocked() error {
	raw, err := json.Marshal(m.sampleTimeMs)
	if err != nil {
		return err
	}
	if err := m.store.Set(persistence.NamespaceAde7953, "sample_time_ms", raw); err != nil {
		slog.Error("meter: persist sample time failed", "error", err)
	}
	return nil
}
