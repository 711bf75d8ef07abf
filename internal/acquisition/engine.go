// Package acquisition implements the interrupt-driven acquisition engine
// (spec.md component C3): the ISR/task-loop handoff, channel rotation
// over the multiplexed secondaries, CYCEND/RESET/CRC classification,
// and per-cycle measurement dispatch.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/gpio"

	"github.com/jibrilsharafi/energyme-core/internal/measurement"
	"github.com/jibrilsharafi/energyme-core/internal/meterconf"
	"github.com/jibrilsharafi/energyme-core/internal/mux"
	"github.com/jibrilsharafi/energyme-core/internal/spibus"
	"github.com/jibrilsharafi/energyme-core/internal/telemetry"
)

// ConfigProvider is the read-only view of the shared configuration the
// engine needs each cycle. internal/meter implements it over its
// mutex-guarded configuration (spec.md 9 "Shared configuration").
type ConfigProvider interface {
	Channels() [meterconf.ChannelCount]meterconf.ChannelConfig
	Ade7953() meterconf.Ade7953Config
	SampleTimeMs() uint32
}

// ErrExcessiveFailures is surfaced when the failure budget is exhausted;
// the caller (internal/meter) should request a full restart (spec.md 7).
var ErrExcessiveFailures = errors.New("acquisition: excessive failures, restart required")

// Engine owns MeterSnapshot[]; its task loop is the only writer of
// per-sample state, while ResetEnergy and SeedEnergy let the owner reset
// or restore energy buckets. Besides the engine's RESET/CRC re-apply,
// internal/meter's SetAde7953 and SetSampleTimeMs also write the device
// configuration through ApplyConfig.
type Engine struct {
	gw     *spibus.Gateway
	mux    *mux.Selector
	irq    gpio.PinIn
	cfg    ConfigProvider
	sink   telemetry.Sink
	budget *failureBudget

	mu        sync.RWMutex
	snapshots [meterconf.ChannelCount]measurement.Snapshot

	currentSecondary uint8 // 0 means "no secondary selected yet"
	wake             chan struct{}
}

// New builds an Engine. irq is the ADE7953 IRQ pin (active-low,
// falling-edge); it is configured for falling-edge detection by New.
func New(gw *spibus.Gateway, sel *mux.Selector, irq gpio.PinIn, cfg ConfigProvider, sink telemetry.Sink) (*Engine, error) {
	if sink == nil {
		sink = telemetry.NoopSink{}
	}
	if err := irq.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("acquisition: configure irq pin: %w", err)
	}
	return &Engine{
		gw:     gw,
		mux:    sel,
		irq:    irq,
		cfg:    cfg,
		sink:   sink,
		budget: newFailureBudget(),
		wake:   make(chan struct{}, 1),
	}, nil
}

// Snapshots returns a structurally-complete copy of the per-channel
// state (spec.md 5: "external readers obtain a structurally-complete
// copy, no partial tears").
func (e *Engine) Snapshots() [meterconf.ChannelCount]measurement.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshots
}

// Snapshot returns a copy of one channel's state.
func (e *Engine) Snapshot(channel uint8) measurement.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshots[channel]
}

// ResetEnergy zeros every channel's energy accumulators (spec.md 4.5
// "Reset").
func (e *Engine) ResetEnergy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.snapshots {
		e.snapshots[i].ResetEnergy()
	}
}

// SeedEnergy restores one channel's energy accumulators from persisted
// values at startup (spec.md 4.5 "Startup"), without disturbing its
// instantaneous electrical fields or last-sample timestamps.
func (e *Engine) SeedEnergy(channel uint8, bucket measurement.EnergyBucket, value float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshots[channel].Set(bucket, value)
}

// Run launches the edge-watcher and task-loop goroutines under one
// errgroup, in the shape of the teacher's ModbusConn.Run
// (errgroup.WithContext + one g.Go per duty). It blocks until ctx is
// cancelled or a duty returns a fatal error.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.watchEdges(ctx)
	})

	g.Go(func() error {
		return e.taskLoop(ctx)
	})

	return g.Wait()
}

// watchEdges stands in for the hardware ISR: it blocks on WaitForEdge
// and posts a non-blocking single-slot wake, allocation-free per send
// (spec.md 9 "ISR vocabulary", SPEC_FULL.md 4.3).
func (e *Engine) watchEdges(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.irq.WaitForEdge(500 * time.Millisecond) {
			select {
			case e.wake <- struct{}{}:
			default:
			}
		}
	}
}

// taskLoop is the engine's high-priority duty: block on the wake
// semaphore with a bounded timeout, then classify and handle the
// interrupt (spec.md 4.3 "Task loop").
func (e *Engine) taskLoop(ctx context.Context) error {
	for {
		timeout := time.Duration(e.cfg.SampleTimeMs())*time.Millisecond + time.Second

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.wake:
			wallMs := time.Now().UnixMilli()
			if err := e.handleWake(wallMs); err != nil {
				if errors.Is(err, ErrExcessiveFailures) {
					return err
				}
				slog.Error("acquisition: handle wake", "error", err)
			}
		case <-time.After(timeout):
			// Semaphore timeout: no action, spec.md 4.3 step 5.
		}
	}
}

func (e *Engine) handleWake(wallMs int64) error {
	status, err := e.gw.ReadRegister(spibus.RegRstIrqStatA, false, false)
	if err != nil {
		e.budget.record()
		return fmt.Errorf("read RSTIRQSTATA: %w", err)
	}

	cycEnd := status&(1<<spibus.IRQBitCycEnd) != 0
	reset := status&(1<<spibus.IRQBitReset) != 0
	crc := status&(1<<spibus.IRQBitCRC) != 0

	if reset || crc {
		slog.Warn("acquisition: device reported reset/crc condition, re-applying configuration",
			"reset", reset, "crc", crc)
		if err := ApplyConfig(e.gw, e.cfg.Ade7953(), e.cfg.SampleTimeMs()); err != nil {
			e.budget.record()
			return fmt.Errorf("reapply configuration: %w", err)
		}
	}

	if !cycEnd {
		return nil
	}

	channels := e.cfg.Channels()
	sampleTimeMs := e.cfg.SampleTimeMs()

	e.advanceSecondary(channels)
	if err := e.mux.Select(secondarySelectIndex(e.currentSecondary)); err != nil {
		e.budget.record()
		return fmt.Errorf("select secondary: %w", err)
	}

	if e.currentSecondary != 0 {
		if err := e.processChannel(e.currentSecondary, channels[e.currentSecondary], wallMs, sampleTimeMs); err != nil {
			e.budget.record()
			slog.Debug("acquisition: secondary channel rejected", "channel", e.currentSecondary, "error", err)
		}
	}

	if err := e.processChannel(0, channels[0], wallMs, sampleTimeMs); err != nil {
		e.budget.record()
		slog.Debug("acquisition: reference channel rejected", "error", err)
	}

	if e.budget.exhausted() {
		return ErrExcessiveFailures
	}
	return nil
}

// advanceSecondary scans 1..16 wrap-around for the next active
// secondary channel (spec.md 4.3 step 3a); it sets currentSecondary to
// 0 ("no secondary") if none are active.
func (e *Engine) advanceSecondary(channels [meterconf.ChannelCount]meterconf.ChannelConfig) {
	start := e.currentSecondary
	for i := uint8(1); i <= 16; i++ {
		idx := (start+i-1)%16 + 1
		if channels[idx].Active {
			e.currentSecondary = idx
			return
		}
	}
	e.currentSecondary = 0
}

// secondarySelectIndex converts a 1..16 channel index into the
// multiplexer's 0..15 selector input, clamping to 0 when no secondary
// is active (spec.md 4.3 step 3b).
func secondarySelectIndex(channel uint8) uint8 {
	if channel == 0 {
		return 0
	}
	return channel - 1
}

func (e *Engine) processChannel(channel uint8, cc meterconf.ChannelConfig, wallMs int64, sampleTimeMs uint32) error {
	if !cc.Active {
		return nil
	}

	prev := e.Snapshot(channel)
	ref := e.Snapshot(0)
	refPhase := e.cfg.Channels()[0].Phase

	var next measurement.Snapshot
	var err error

	if cc.Phase == refPhase {
		in, rerr := e.readReferencePath(channel)
		if rerr != nil {
			return rerr
		}
		in.ReferenceV = ref.Voltage
		reading, activeDir, reactiveDir := measurement.EstimateReference(in, cc.Calibration, sampleTimeMs, cc.Reverse)
		next, err = measurement.Update(prev, wallMs, sampleTimeMs, reading, activeDir, reactiveDir)
	} else {
		in, rerr := e.readSecondaryPath(cc.Phase, refPhase, ref.Voltage)
		if rerr != nil {
			return rerr
		}
		reading, dir := measurement.EstimateSecondary(in, cc.Calibration, cc.Reverse)
		next, err = measurement.Update(prev, wallMs, sampleTimeMs, reading, dir, dir)
	}
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.snapshots[channel] = next
	e.mu.Unlock()

	e.sink.Push(telemetry.PayloadMeter{
		Channel:      channel,
		WallMs:       wallMs,
		ActivePowerW: next.ActivePower,
		PowerFactor:  next.PowerFactor,
	})
	return nil
}

func (e *Engine) readReferencePath(channel uint8) (measurement.ReferenceInputs, error) {
	isZero := channel == 0
	in := measurement.ReferenceInputs{IsChannelZero: isZero}

	var err error
	if isZero {
		in.VRms, err = e.gw.ReadRegister(spibus.RegVRms, false, false)
		if err != nil {
			return in, err
		}
		in.PeriodLSB, err = e.gw.ReadRegister(spibus.RegPeriod, false, false)
		if err != nil {
			return in, err
		}
		in.WhRaw, err = e.gw.ReadRegister(spibus.RegAEnA, true, false)
		if err != nil {
			return in, err
		}
		in.VarhRaw, err = e.gw.ReadRegister(spibus.RegREnA, true, false)
		if err != nil {
			return in, err
		}
		in.VahRaw, err = e.gw.ReadRegister(spibus.RegAPEnA, false, false)
		if err != nil {
			return in, err
		}
		return in, nil
	}

	in.WhRaw, err = e.gw.ReadRegister(spibus.RegAEnB, true, false)
	if err != nil {
		return in, err
	}
	in.VarhRaw, err = e.gw.ReadRegister(spibus.RegREnB, true, false)
	if err != nil {
		return in, err
	}
	in.VahRaw, err = e.gw.ReadRegister(spibus.RegAPEnB, false, false)
	if err != nil {
		return in, err
	}
	return in, nil
}

func (e *Engine) readSecondaryPath(phase, refPhase meterconf.Phase, refVoltage float64) (measurement.SecondaryInputs, error) {
	in := measurement.SecondaryInputs{
		ReferenceV: refVoltage,
		PhaseVsRef: measurement.PhaseRelationOf(phase, refPhase),
	}
	var err error
	in.PFRaw, err = e.gw.ReadRegister(spibus.RegPFB, true, false)
	if err != nil {
		return in, err
	}
	in.IRms, err = e.gw.ReadRegister(spibus.RegIRmsB, false, false)
	if err != nil {
		return in, err
	}
	return in, nil
}
