// Package config loads the runtime configuration for the collend daemon and
// simulator from TOML. Omitted keys keep their defaults, so an empty file and
// a missing file both yield the stock configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"collend/native/collateral"
	"collend/native/lending"
	"collend/native/liquidation"
	"collend/native/oracle"
)

// Config bundles every module's runtime settings plus the ambient concerns of
// the process hosting them.
type Config struct {
	Oracle      Oracle
	Collateral  Collateral
	Lending     lending.Config
	Liquidation Liquidation
	Facade      Facade
	Pauses      Pauses
	Logging     Logging
	Telemetry   Telemetry
}

// Oracle tunes the price module.
type Oracle struct {
	SpotWindowSeconds int64
	MaxDeviationBps   uint64
	Classes           []string
}

// EngineConfig converts the section into the price module's own config type.
func (o Oracle) EngineConfig() oracle.Config {
	return oracle.Config{
		SpotWindow:      time.Duration(o.SpotWindowSeconds) * time.Second,
		MaxDeviationBps: o.MaxDeviationBps,
		Classes:         append([]string(nil), o.Classes...),
	}
}

// Collateral tunes the custody ledger.
type Collateral struct {
	MaxLTVBps uint64
}

// Liquidation tunes the liquidation controller.
type Liquidation struct {
	ThresholdBps uint64
	BonusBps     uint64
	DelaySeconds int64
}

// Facade restricts which assets the combined flows accept. Empty lists allow
// everything.
type Facade struct {
	AllowedClasses []string
	AllowedAssets  []string
}

// Pauses freezes individual modules at boot.
type Pauses struct {
	Oracle      bool
	Collateral  bool
	Lending     bool
	Liquidation bool
}

// Logging shapes the structured log output. An empty File logs to stdout.
type Logging struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Telemetry wires the OTLP exporters.
type Telemetry struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	Environment string
	Insecure    bool
}

// Default returns the stock configuration: every module on its built-in
// parameters, logging to stdout at info, telemetry off.
func Default() Config {
	return Config{
		Oracle: Oracle{
			SpotWindowSeconds: int64(oracle.DefaultSpotWindow / time.Second),
			MaxDeviationBps:   oracle.DefaultMaxDeviationBps,
		},
		Collateral: Collateral{MaxLTVBps: collateral.DefaultMaxLTVBps},
		Lending:    lending.DefaultConfig(),
		Liquidation: Liquidation{
			ThresholdBps: liquidation.DefaultThresholdBps,
			BonusBps:     liquidation.DefaultBonusBps,
			DelaySeconds: liquidation.DefaultDelaySeconds,
		},
		Logging: Logging{Level: "info"},
		Telemetry: Telemetry{
			ServiceName: "collend",
			Environment: "local",
		},
	}
}

// Load reads the TOML configuration at path on top of the defaults. An empty
// path or a missing file yields Default unchanged; nothing is written back.
func Load(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.File = strings.TrimSpace(c.Logging.File)
	c.Telemetry.Endpoint = strings.TrimSpace(c.Telemetry.Endpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	c.Telemetry.Environment = strings.TrimSpace(c.Telemetry.Environment)
}

// Validate enforces the same ranges the modules' runtime setters do, so a bad
// file fails at boot instead of at the first flow.
func (c Config) Validate() error {
	if c.Oracle.SpotWindowSeconds <= 0 {
		return fmt.Errorf("oracle: spot window must be positive")
	}
	if c.Oracle.MaxDeviationBps == 0 || c.Oracle.MaxDeviationBps > 10_000 {
		return fmt.Errorf("oracle: deviation cap out of range")
	}
	if c.Collateral.MaxLTVBps == 0 || c.Collateral.MaxLTVBps > 10_000 {
		return fmt.Errorf("collateral: max ltv out of range")
	}
	if err := c.Lending.Validate(); err != nil {
		return fmt.Errorf("lending: %w", err)
	}
	if c.Liquidation.ThresholdBps == 0 || c.Liquidation.ThresholdBps > 10_000 {
		return fmt.Errorf("liquidation: threshold out of range")
	}
	if c.Liquidation.BonusBps == 0 || c.Liquidation.BonusBps > liquidation.MaxBonusBps {
		return fmt.Errorf("liquidation: bonus out of range")
	}
	if c.Liquidation.DelaySeconds < 0 || c.Liquidation.DelaySeconds > liquidation.MaxDelaySeconds {
		return fmt.Errorf("liquidation: delay out of range")
	}
	for _, entry := range c.Facade.AllowedAssets {
		class, id, ok := strings.Cut(entry, ":")
		ref := collateral.AssetRef{Class: class, ID: id}
		if !ok || !ref.Normalise().Valid() {
			return fmt.Errorf("facade: allowed asset %q is not class:id", entry)
		}
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", c.Logging.Level)
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging: rotation limits must not be negative")
	}
	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry: service name required when enabled")
	}
	return nil
}
