package therm

import (
	"context"

	"github.com/mklimuk/onewire"
	"github.com/mklimuk/onewire/ds18b20"
)

// TemperatureBehaviorFunc defines the function signature for temperature
// behavior. It returns the temperature in Celsius or an error.
type TemperatureBehaviorFunc func(ctx context.Context) (float32, error)

// MockThermometer is a mock implementation of Thermometer that uses a
// behavior function to produce readings without requiring any hardware.
//
// Example usage:
//
//	dev := NewMockThermometer(rom, func(ctx context.Context) (float32, error) { return 21.5, nil })
type MockThermometer struct {
	rom      onewire.ROM
	res      ds18b20.Resolution
	behavior TemperatureBehaviorFunc
}

// NewMockThermometer creates a new mock thermometer with the given identifier
// and behavior function. The behavior is called whenever ReadTemperature is
// invoked.
func NewMockThermometer(rom onewire.ROM, behavior TemperatureBehaviorFunc) *MockThermometer {
	return &MockThermometer{rom: rom, res: ds18b20.Resolution12Bit, behavior: behavior}
}

func (m *MockThermometer) ROM() onewire.ROM { return m.rom }

// SetResolution records the resolution; mock conversions are instantaneous.
func (m *MockThermometer) SetResolution(ctx context.Context, res ds18b20.Resolution) error {
	m.res = res
	return nil
}

// WaitForConversion returns immediately; the mock has no conversion delay.
func (m *MockThermometer) WaitForConversion(ctx context.Context) error {
	return ctx.Err()
}

// ReadTemperature returns the reading by calling the behavior function.
func (m *MockThermometer) ReadTemperature(ctx context.Context) (float32, error) {
	return m.behavior(ctx)
}
