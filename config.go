package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jibrilsharafi/energyme-core/internal/meterconf"
)

// Config is the daemon's YAML bootstrap document (spec.md 6.4,
// SPEC_FULL.md 6 "Configuration"), the teacher's config.go/loadConfig
// mechanism. Its SPI, GPIO, storage and MQTT settings are read on every
// start; its sample time, calibration and channel table are applied only
// for store keys that have never been written.
type Config struct {
	SPI struct {
		Device      string `yaml:"device"`
		ChipSelect  string `yaml:"chip_select"`
		SpeedHz     int64  `yaml:"speed_hz"`
	} `yaml:"spi"`

	GPIO struct {
		MuxBit0 string `yaml:"mux_bit0"`
		MuxBit1 string `yaml:"mux_bit1"`
		MuxBit2 string `yaml:"mux_bit2"`
		MuxBit3 string `yaml:"mux_bit3"`
		IRQ     string `yaml:"irq"`
	} `yaml:"gpio"`

	SampleTimeMS uint32                                          `yaml:"sample_time_ms"`
	Ade7953      meterconf.Ade7953Config                         `yaml:"ade7953"`
	Channels     [meterconf.ChannelCount]meterconf.ChannelConfig `yaml:"channels"`

	DataDir  string `yaml:"data_dir"`
	BoltPath string `yaml:"bolt_path"`

	MQTT struct {
		Enabled  bool   `yaml:"enabled"`
		Broker   string `yaml:"broker"`
		Topic    string `yaml:"topic"`
		ClientID string `yaml:"client_id"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		QoS      byte   `yaml:"qos"`
		Retain   bool   `yaml:"retain"`
	} `yaml:"mqtt"`
}

// LoadedConfig is Config plus values derived from it, mirroring the
// teacher's LoadedConfig/parseConfig split.
type LoadedConfig struct {
	Config

	sampleTimeMS uint32
}

func loadConfig(path string) (*LoadedConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg LoadedConfig
	if err := yaml.Unmarshal(b, &cfg.Config); err != nil {
		return nil, err
	}

	if err := parseConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func parseConfig(cfg *LoadedConfig) error {
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "energyme-core"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "/var/lib/energyme"
	}
	if cfg.BoltPath == "" {
		cfg.BoltPath = fmt.Sprintf("%s/energyme.db", cfg.DataDir)
	}
	if cfg.SPI.Device == "" {
		cfg.SPI.Device = "/dev/spidev0.0"
	}
	if cfg.SPI.SpeedHz == 0 {
		cfg.SPI.SpeedHz = 2_000_000
	}

	sampleTimeMS := cfg.SampleTimeMS
	if sampleTimeMS == 0 {
		sampleTimeMS = meterconf.MinSampleTimeMS
	}
	cfg.sampleTimeMS = meterconf.ClampSampleTimeMS(sampleTimeMS)

	allZero := true
	for _, cc := range cfg.Channels {
		if cc != (meterconf.ChannelConfig{}) {
			allZero = false
			break
		}
	}
	if allZero {
		cfg.Channels = meterconf.DefaultChannels()
	}

	return nil
}
