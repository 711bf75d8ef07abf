package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/jibrilsharafi/energyme-core/internal/meter"
	"github.com/jibrilsharafi/energyme-core/internal/persistence"
	"github.com/jibrilsharafi/energyme-core/internal/telemetry"
	"github.com/jibrilsharafi/energyme-core/internal/telemetry/mqttsink"
)

// runCore boots the metering daemon: periph.io host/SPI/GPIO setup, the
// bbolt-backed store, the optional MQTT telemetry sink, and the Meter's
// own errgroup-supervised lifecycle, then blocks until a signal arrives
// (spec.md 5, SPEC_FULL.md 6 "main wires the boot entrypoint").
func runCore(cfg *LoadedConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("init periph host: %w", err)
	}

	conn, closeSPI, err := openSPI(cfg)
	if err != nil {
		return fmt.Errorf("open spi: %w", err)
	}
	defer closeSPI()

	bit0, bit1, bit2, bit3, irq, err := openGPIO(cfg)
	if err != nil {
		return fmt.Errorf("open gpio: %w", err)
	}

	store, err := persistence.OpenBoltStore(cfg.BoltPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	sink, closeSink, err := setupSink(cfg)
	if err != nil {
		return fmt.Errorf("setup telemetry sink: %w", err)
	}
	defer closeSink()

	m, err := meter.New(meter.Deps{
		Conn:    conn,
		Bit0:    bit0,
		Bit1:    bit1,
		Bit2:    bit2,
		Bit3:    bit3,
		IRQ:     irq,
		Store:   store,
		Sink:    sink,
		DataDir: cfg.DataDir,
	})
	if err != nil {
		return fmt.Errorf("build meter: %w", err)
	}

	if err := seedFirstBoot(m, cfg); err != nil {
		return fmt.Errorf("seed first-boot config: %w", err)
	}

	metricStop, err := m.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin metering: %w", err)
	}

	slog.Info("energyme-core running", "data_dir", cfg.DataDir, "sample_time_ms", cfg.sampleTimeMS)
	<-ctx.Done()
	slog.Info("exiting")
	return metricStop()
}

func openSPI(cfg *LoadedConfig) (spi.Conn, func(), error) {
	port, err := spireg.Open(cfg.SPI.Device)
	if err != nil {
		return nil, nil, err
	}
	conn, err := port.Connect(cfg.SPI.SpeedHz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, nil, err
	}
	return conn, func() { port.Close() }, nil
}

func openGPIO(cfg *LoadedConfig) (bit0, bit1, bit2, bit3, irq interface {
	gpio.PinOut
	gpio.PinIn
}, err error) {
	lookup := func(name string) (interface {
		gpio.PinOut
		gpio.PinIn
	}, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("gpio pin %q not found", name)
		}
		pin, ok := p.(interface {
			gpio.PinOut
			gpio.PinIn
		})
		if !ok {
			return nil, fmt.Errorf("gpio pin %q does not support both in and out", name)
		}
		return pin, nil
	}

	if bit0, err = lookup(cfg.GPIO.MuxBit0); err != nil {
		return
	}
	if bit1, err = lookup(cfg.GPIO.MuxBit1); err != nil {
		return
	}
	if bit2, err = lookup(cfg.GPIO.MuxBit2); err != nil {
		return
	}
	if bit3, err = lookup(cfg.GPIO.MuxBit3); err != nil {
		return
	}
	irq, err = lookup(cfg.GPIO.IRQ)
	return
}

func setupSink(cfg *LoadedConfig) (telemetry.Sink, func(), error) {
	if !cfg.MQTT.Enabled {
		return telemetry.NoopSink{}, func() {}, nil
	}

	s, err := mqttsink.Connect(mqttsink.Options{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		Topic:    cfg.MQTT.Topic,
		QoS:      cfg.MQTT.QoS,
		Retain:   cfg.MQTT.Retain,
	}, 64)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

// seedFirstBoot applies the YAML config's sample time, calibration, and
// channel table only for bucket keys the store has never seen (spec.md
// 6.4, SPEC_FULL.md 6 "seeded into the Store only if the relevant bucket
// key is absent — after that, the Store is authoritative and the YAML
// file is never consulted again"). It keys off Meter's own record of
// store-absence (SampleTimeSeeded/Ade7953Seeded/ChannelSeeded) rather
// than diffing live values against cfg, so an operator's persisted
// recalibration survives a restart even when it happens to differ from
// config.yaml.
func seedFirstBoot(m *meter.Meter, cfg *LoadedConfig) error {
	if !m.SampleTimeSeeded() {
		if err := m.SetSampleTimeMs(cfg.sampleTimeMS); err != nil {
			return err
		}
	}
	if !m.Ade7953Seeded() {
		if err := m.SetAde7953(cfg.Ade7953); err != nil {
			return err
		}
	}
	for i, cc := range cfg.Channels {
		if m.ChannelSeeded(uint8(i)) {
			continue
		}
		if err := m.SetChannel(uint8(i), cc); err != nil {
			return err
		}
	}
	return nil
}
