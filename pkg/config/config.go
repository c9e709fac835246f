// Package config holds the agent bootstrap configuration: how the agent
// runs on this host. The device settings record (pkg/settings) is a
// separate artifact; it lives in the store and mutates at runtime, while
// this file is read once at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the agent configuration.
type Config struct {
	Serial SerialConfig `yaml:"serial"`
	API    APIConfig    `yaml:"api"`
	Store  StoreConfig  `yaml:"store"`
	Meter  MeterConfig  `yaml:"meter"`
	Sim    SimConfig    `yaml:"sim"`
	Feeds  FeedsConfig  `yaml:"feeds"`
	Log    LogConfig    `yaml:"log"`
}

// SerialConfig contains the command console port configuration.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// APIConfig contains the REST listener configuration.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// StoreConfig locates the settings store on disk.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// MeterConfig contains the sampling parameters.
type MeterConfig struct {
	SampleEvery time.Duration `yaml:"sample_every"`
	HistorySize int           `yaml:"history_size"`
	ARef        float64       `yaml:"aref"` // ADC reference (mV)
}

// SimConfig contains the simulated board configuration.
type SimConfig struct {
	Enabled       bool    `yaml:"enabled"`
	SupplyVoltage float64 `yaml:"supply_voltage"` // volts across the divider
	LoadCurrent   float64 `yaml:"load_current"`   // amps when the relay is closed
	Noise         float64 `yaml:"noise"`          // raw count ripple, 0 disables
	Bench         bool    `yaml:"bench"`          // cycle the load profile
}

// FeedsConfig enables the outbound feed publishers. The HTTP feed uses the
// endpoint and credentials persisted in the settings record.
type FeedsConfig struct {
	HTTP       bool   `yaml:"http"`
	MQTTBroker string `yaml:"mqtt_broker"`
	MQTTTopic  string `yaml:"mqtt_topic"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port: "/dev/ttyACM0",
			Baud: 115200,
		},
		API: APIConfig{
			Listen: ":8080",
		},
		Store: StoreConfig{
			Path: "energino.db",
		},
		Meter: MeterConfig{
			SampleEvery: 5 * time.Millisecond,
			HistorySize: 720,
			ARef:        5000,
		},
		Sim: SimConfig{
			Enabled:       false,
			SupplyVoltage: 12.0,
			LoadCurrent:   0.8,
			Noise:         2,
			Bench:         true,
		},
		Feeds: FeedsConfig{
			HTTP: false,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults backfills required fields left at their zero value, so a
// partial file still yields a runnable configuration.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.Serial.Baud
	}

	if c.API.Listen == "" {
		c.API.Listen = def.API.Listen
	}

	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}

	if c.Meter.SampleEvery == 0 {
		c.Meter.SampleEvery = def.Meter.SampleEvery
	}
	if c.Meter.HistorySize == 0 {
		c.Meter.HistorySize = def.Meter.HistorySize
	}
	if c.Meter.ARef == 0 {
		c.Meter.ARef = def.Meter.ARef
	}

	if c.Sim.SupplyVoltage == 0 {
		c.Sim.SupplyVoltage = def.Sim.SupplyVoltage
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}
