package ipbus

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Default connection parameters, matching
// original_source/IPbusInterface.h's hardcoded defaults.
const (
	DefaultIPAddress      = "172.20.75.180"
	DefaultPort           = 50001
	DefaultUpdatePeriodMS = 1000
	DefaultTimeoutMS      = 99
)

// Config is the connection configuration for a single Target, decoded
// from a TOML file by LoadConfig or built directly by a caller.
type Config struct {
	IPAddress      string `toml:"ip_address"`
	Port           uint16 `toml:"port"`
	LocalPort      uint16 `toml:"local_port"`
	UpdatePeriodMS uint16 `toml:"update_period_ms"`
	TimeoutMS      uint16 `toml:"timeout_ms"`
}

// DefaultConfig returns the classic default target address and timing,
// suitable when no config file is given.
func DefaultConfig() Config {
	return Config{
		IPAddress:      DefaultIPAddress,
		Port:           DefaultPort,
		UpdatePeriodMS: DefaultUpdatePeriodMS,
		TimeoutMS:      DefaultTimeoutMS,
	}
}

// LoadConfig decodes a TOML connection file, defaults zero-valued timing
// fields, and validates the result.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, newFault(LogicErrorKind, "load config %s: %v", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.UpdatePeriodMS == 0 {
		c.UpdatePeriodMS = DefaultUpdatePeriodMS
	}
	if c.TimeoutMS == 0 {
		c.TimeoutMS = DefaultTimeoutMS
	}
}

// Validate reports a LogicError if the config cannot be used to dial a
// target. A missing ip_address is the one field LoadConfig will not
// default for the caller, since silently falling back to the lab's
// default hardware address on a typo would be worse than failing loudly.
func (c Config) Validate() error {
	if c.IPAddress == "" {
		return newFault(LogicErrorKind, "config: ip_address must not be empty")
	}
	if c.Port == 0 {
		return newFault(LogicErrorKind, "config: port must not be zero")
	}
	return nil
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c Config) updatePeriod() time.Duration {
	return time.Duration(c.UpdatePeriodMS) * time.Millisecond
}
