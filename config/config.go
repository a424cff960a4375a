package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/user/bluelane/central"
	"github.com/user/bluelane/logger"
	"github.com/user/bluelane/wire"
	"github.com/user/bluelane/wire/gatt"
)

// Default profile: one service with a read, a write and an indicate
// characteristic.
const (
	DefaultServiceUUID  = "25ae1441-05d3-4c5b-8281-93d4e07420cf"
	DefaultReadUUID     = "25ae1442-05d3-4c5b-8281-93d4e07420cf"
	DefaultWriteUUID    = "25ae1443-05d3-4c5b-8281-93d4e07420cf"
	DefaultIndicateUUID = "25ae1444-05d3-4c5b-8281-93d4e07420cf"
)

// Config is the root configuration.
type Config struct {
	Central       CentralConfig        `yaml:"central"`
	Peripheral    PeripheralConfig     `yaml:"peripheral"`
	Logging       LoggingConfig        `yaml:"logging"`
	Journal       JournalConfig        `yaml:"journal"`
	Profile       ProfileConfig        `yaml:"profile"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Simulation    SimulationSettings   `yaml:"simulation"`
}

// CentralConfig holds the central transaction policy.
type CentralConfig struct {
	MaxRetryCount    int           `yaml:"max_retry_count"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	// RetryOnAsyncFailure retries commands whose completion carries a
	// failure status. Defaults to true.
	RetryOnAsyncFailure *bool `yaml:"retry_on_async_failure"`
	QueueCapacity       int   `yaml:"queue_capacity"`
}

type PeripheralConfig struct {
	ReadValue string `yaml:"read_value"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr or a file path
}

type JournalConfig struct {
	Path string `yaml:"path"` // empty disables the file journal
}

// ProfileConfig describes the served (and expected) GATT service.
type ProfileConfig struct {
	Service         string                 `yaml:"service"`
	Characteristics []CharacteristicConfig `yaml:"characteristics"`
}

type CharacteristicConfig struct {
	UUID       string   `yaml:"uuid"`
	Properties []string `yaml:"properties"`
}

// SubscriptionConfig is one desired CCCD state. Enable defaults to true.
type SubscriptionConfig struct {
	Characteristic string `yaml:"characteristic"`
	Enable         *bool  `yaml:"enable"`
}

// SimulationSettings configures the in-memory radio.
type SimulationSettings struct {
	Deterministic     bool    `yaml:"deterministic"`
	Seed              int64   `yaml:"seed"`
	BusyRate          float64 `yaml:"busy_rate"`
	FailureRate       float64 `yaml:"failure_rate"`
	AsyncFailureRate  float64 `yaml:"async_failure_rate"`
	BondOnConnect     bool    `yaml:"bond_on_connect"`
	ConnectionDelayMs int     `yaml:"connection_delay_ms"`
	OperationDelayMs  int     `yaml:"operation_delay_ms"`
	BondingDelayMs    int     `yaml:"bonding_delay_ms"`
}

// Defaults returns a configuration with every default applied.
func Defaults() *Config {
	retry := true
	return &Config{
		Central: CentralConfig{
			MaxRetryCount:       central.DefaultMaxRetryCount,
			RetryOnAsyncFailure: &retry,
		},
		Peripheral: PeripheralConfig{ReadValue: "This is a dummy"},
		Logging:    LoggingConfig{Level: "info", Format: "text", Output: "stderr"},
		Profile: ProfileConfig{
			Service: DefaultServiceUUID,
			Characteristics: []CharacteristicConfig{
				{UUID: DefaultReadUUID, Properties: []string{"read"}},
				{UUID: DefaultWriteUUID, Properties: []string{"write"}},
				{UUID: DefaultIndicateUUID, Properties: []string{"indicate"}},
			},
		},
		Subscriptions: []SubscriptionConfig{{Characteristic: DefaultIndicateUUID}},
		Simulation: SimulationSettings{
			Deterministic:     true,
			Seed:              1,
			ConnectionDelayMs: 30,
			OperationDelayMs:  10,
			BondingDelayMs:    50,
		},
	}
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a YAML config file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("config", "%s not found, using defaults", path)
			return Defaults(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// applyDefaults fills zero values the YAML left behind.
func (c *Config) applyDefaults() {
	if c.Central.MaxRetryCount == 0 {
		c.Central.MaxRetryCount = central.DefaultMaxRetryCount
	}
	if c.Central.RetryOnAsyncFailure == nil {
		retry := true
		c.Central.RetryOnAsyncFailure = &retry
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}
}

// SessionConfig returns the central session policy.
func (c *Config) SessionConfig() central.Config {
	retry := c.Central.RetryOnAsyncFailure == nil || *c.Central.RetryOnAsyncFailure
	return central.Config{
		MaxRetryCount:         c.Central.MaxRetryCount,
		OperationTimeout:      c.Central.OperationTimeout,
		AdvanceOnAsyncFailure: !retry,
		QueueCapacity:         c.Central.QueueCapacity,
	}
}

// LoggerOptions returns the logger setup.
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{Level: c.Logging.Level, Format: c.Logging.Format, Output: c.Logging.Output}
}

// Table builds the profile's attribute table.
func (c *Config) Table() (*gatt.Table, error) {
	svc, err := uuid.Parse(c.Profile.Service)
	if err != nil {
		return nil, fmt.Errorf("profile.service: %w", err)
	}
	b := gatt.NewTableBuilder().Service(svc)
	for i, ch := range c.Profile.Characteristics {
		id, err := uuid.Parse(ch.UUID)
		if err != nil {
			return nil, fmt.Errorf("profile.characteristics[%d].uuid: %w", i, err)
		}
		props, err := gatt.ParseProperties(ch.Properties)
		if err != nil {
			return nil, fmt.Errorf("profile.characteristics[%d]: %w", i, err)
		}
		b.Characteristic(id, props)
	}
	return b.Build()
}

// Address returns the address of a profile characteristic.
func (c *Config) Address(characteristic string) (gatt.Address, error) {
	svc, err := uuid.Parse(c.Profile.Service)
	if err != nil {
		return gatt.Address{}, fmt.Errorf("profile.service: %w", err)
	}
	id, err := uuid.Parse(characteristic)
	if err != nil {
		return gatt.Address{}, err
	}
	return gatt.NewAddress(svc, id), nil
}

// SubscriptionEntries resolves the subscription list against the profile
// service.
func (c *Config) SubscriptionEntries() ([]central.SubscriptionEntry, error) {
	out := make([]central.SubscriptionEntry, 0, len(c.Subscriptions))
	for i, s := range c.Subscriptions {
		addr, err := c.Address(s.Characteristic)
		if err != nil {
			return nil, fmt.Errorf("subscriptions[%d]: %w", i, err)
		}
		out = append(out, central.SubscriptionEntry{Address: addr, Enable: s.Enable == nil || *s.Enable})
	}
	return out, nil
}

// SimulationConfig returns the radio settings.
func (c *Config) SimulationConfig() *wire.SimulationConfig {
	s := c.Simulation
	return &wire.SimulationConfig{
		MinConnectionDelay:    s.ConnectionDelayMs,
		MaxConnectionDelay:    s.ConnectionDelayMs * 2,
		ConnectionFailureRate: s.FailureRate,
		MinOperationDelay:     s.OperationDelayMs,
		MaxOperationDelay:     s.OperationDelayMs * 2,
		BusyRate:              s.BusyRate,
		AsyncFailureRate:      s.AsyncFailureRate,
		BondOnConnect:         s.BondOnConnect,
		BondingDelay:          s.BondingDelayMs,
		Deterministic:         s.Deterministic,
		Seed:                  s.Seed,
	}
}
