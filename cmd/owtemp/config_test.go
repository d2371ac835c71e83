package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/onewire"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "owtemp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
bus: "w1"
pullup_pin: "GPIO4"
resolution: 10
period: 5s
strong_pullup: true
aliases:
  "1502162ca5b2ee28": "boiler"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "w1", cfg.Bus)
	assert.Equal(t, "GPIO4", cfg.PullupPin)
	assert.Equal(t, 10, cfg.Resolution)
	assert.Equal(t, 5*time.Second, cfg.Period)
	assert.True(t, cfg.StrongPullup)
	assert.Equal(t, "boiler", cfg.Aliases["1502162ca5b2ee28"])
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "bus: w1\n"))
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Resolution)
	assert.Equal(t, time.Second, cfg.Period)
	assert.False(t, cfg.StrongPullup)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"resolution out of range", "resolution: 13\n"},
		{"negative period", "period: -1s\n"},
		{"malformed yaml", "period: [\n"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, test.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfig_Alias(t *testing.T) {
	rom, err := onewire.ParseROM("1502162ca5b2ee28")
	require.NoError(t, err)

	cfg := Config{Aliases: map[string]string{"1502162ca5b2ee28": "boiler"}}
	assert.Equal(t, "boiler", cfg.Alias(rom))

	other, err := onewire.ParseROM("9e06050403020128")
	require.NoError(t, err)
	assert.Equal(t, "9e06050403020128", cfg.Alias(other))
}
