package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/onewire"
	"github.com/mklimuk/onewire/ds18b20"
)

// Config drives the watch command. Aliases map device identifiers, in the
// hex form scan prints, to human readable names.
type Config struct {
	Bus          string            `yaml:"bus"`
	PullupPin    string            `yaml:"pullup_pin"`
	Resolution   int               `yaml:"resolution"`
	Period       time.Duration     `yaml:"period"`
	StrongPullup bool              `yaml:"strong_pullup"`
	Aliases      map[string]string `yaml:"aliases"`
}

func DefaultConfig() Config {
	return Config{
		Resolution: int(ds18b20.Resolution12Bit),
		Period:     time.Second,
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read config file: %w", err)
	}
	if err = yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("could not parse config file %s: %w", path, err)
	}
	if !ds18b20.Resolution(cfg.Resolution).Valid() {
		return cfg, fmt.Errorf("invalid resolution in %s: %d bits", path, cfg.Resolution)
	}
	if cfg.Period <= 0 {
		return cfg, fmt.Errorf("invalid period in %s: %s", path, cfg.Period)
	}
	return cfg, nil
}

// Alias returns the configured name of a device, falling back to its
// identifier.
func (c Config) Alias(rom onewire.ROM) string {
	if name, ok := c.Aliases[rom.String()]; ok {
		return name
	}
	return rom.String()
}
