// Package therm orchestrates DS18B20-class thermometers sharing a single
// 1-wire bus: device discovery, binding in discovery order and the batched
// convert/wait/read capture cycle.
package therm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mklimuk/onewire"
	"github.com/mklimuk/onewire/ds18b20"
)

const DefaultMaxDevices = 8
const DefaultSamplePeriod = time.Second
const DefaultSettleDelay = time.Second

var ErrNotInitialized = errors.New("no devices bound, initialize the manager first")
var ErrInvalidCount = errors.New("requested reading count is invalid")
var ErrBindFailed = errors.New("could not bind device handle")

// Thermometer is the per-device protocol surface the manager drives.
// *ds18b20.Sensor implements it.
type Thermometer interface {
	ROM() onewire.ROM
	SetResolution(ctx context.Context, res ds18b20.Resolution) error
	WaitForConversion(ctx context.Context) error
	ReadTemperature(ctx context.Context) (float32, error)
}

// Binding describes how a discovered device gets its handle: solo mode when
// it is alone on the bus, addressed by ROM otherwise.
type Binding struct {
	ROM        onewire.ROM
	Solo       bool
	Parasitic  bool
	UseCRC     bool
	Resolution ds18b20.Resolution
}

// ThermometerFactory allocates a device handle for a binding. The default
// builds a ds18b20.Sensor on the manager's bus.
type ThermometerFactory func(bus onewire.Bus, binding Binding) (Thermometer, error)

func defaultFactory(bus onewire.Bus, binding Binding) (Thermometer, error) {
	var sensor *ds18b20.Sensor
	if binding.Solo {
		sensor = ds18b20.NewSolo(bus)
	} else {
		sensor = ds18b20.New(bus, binding.ROM)
	}
	sensor.UseCRC(binding.UseCRC)
	sensor.UseParasiticPower(binding.Parasitic)
	return sensor, nil
}

// Config carries the orchestration settings. All devices share one
// resolution; per-device resolutions are not supported by design, the
// conversion wait is timed once for the whole bus.
type Config struct {
	MaxDevices   int
	Resolution   ds18b20.Resolution
	SamplePeriod time.Duration
	SettleDelay  time.Duration
	StrongPullup bool
	// VerifyROM enables a presence check of a known device after discovery.
	// Purely diagnostic; binding never depends on it.
	VerifyROM onewire.ROM
}

type Option func(*Manager)

func WithMaxDevices(max int) Option {
	return func(m *Manager) {
		m.cfg.MaxDevices = max
	}
}

func WithResolution(res ds18b20.Resolution) Option {
	return func(m *Manager) {
		m.cfg.Resolution = res
	}
}

func WithSamplePeriod(period time.Duration) Option {
	return func(m *Manager) {
		m.cfg.SamplePeriod = period
	}
}

func WithSettleDelay(delay time.Duration) Option {
	return func(m *Manager) {
		m.cfg.SettleDelay = delay
	}
}

func WithStrongPullup() Option {
	return func(m *Manager) {
		m.cfg.StrongPullup = true
	}
}

func WithVerifyROM(rom onewire.ROM) Option {
	return func(m *Manager) {
		m.cfg.VerifyROM = rom
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		m.log = logger
	}
}

func WithThermometerFactory(factory ThermometerFactory) Option {
	return func(m *Manager) {
		m.factory = factory
	}
}

// Manager owns the bus and the bound device collection. It is the sole
// initiator on the line; methods must not be called concurrently.
type Manager struct {
	log     *log.Logger
	bus     onewire.Bus
	cfg     Config
	factory ThermometerFactory

	devices   []Thermometer
	errCounts []int
	parasitic bool
	samples   int
}

// NewManager creates a manager on the given bus. The bus is owned by the
// manager from this point on and is released by Close.
func NewManager(bus onewire.Bus, opts ...Option) *Manager {
	m := &Manager{
		bus: bus,
		cfg: Config{
			MaxDevices:   DefaultMaxDevices,
			Resolution:   ds18b20.Resolution12Bit,
			SamplePeriod: DefaultSamplePeriod,
			SettleDelay:  DefaultSettleDelay,
		},
		log:     log.Default().With("component", "therm"),
		factory: defaultFactory,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.errCounts = make([]int, m.cfg.MaxDevices)
	return m
}

// Init searches the bus and binds a device handle per discovered identifier,
// in discovery order. It returns the number of devices found; (0, nil) means
// an operational bus with no devices present, which is not an error. Calling
// Init again rebuilds the collection and resets the error counters.
func (m *Manager) Init(ctx context.Context) (int, error) {
	m.devices = make([]Thermometer, 0, m.cfg.MaxDevices)
	m.errCounts = make([]int, m.cfg.MaxDevices)
	m.samples = 0

	m.log.Info("searching for devices", "max", m.cfg.MaxDevices)
	roms := make([]onewire.ROM, 0, m.cfg.MaxDevices)
	rom, found, err := m.bus.SearchFirst(ctx)
	for err == nil && found {
		m.log.Debug("device found", "index", len(roms), "rom", rom)
		roms = append(roms, rom)
		if len(roms) == m.cfg.MaxDevices {
			break
		}
		rom, found, err = m.bus.SearchNext(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("therm: bus search failed: %w", err)
	}
	m.log.Info("search finished", "devices", len(roms))
	if len(roms) == 0 {
		return 0, nil
	}

	solo := len(roms) == 1
	if solo {
		// with a single device the identifier is informational only
		if id, err := m.bus.ReadROM(ctx); err != nil {
			m.log.Warn("could not read rom code", "error", err)
		} else {
			m.log.Debug("single device present", "rom", id)
		}
	} else if !m.cfg.VerifyROM.IsZero() {
		present, err := m.bus.VerifyROM(ctx, m.cfg.VerifyROM)
		if err != nil {
			m.log.Warn("known device verification failed", "rom", m.cfg.VerifyROM, "error", err)
		} else {
			m.log.Debug("known device", "rom", m.cfg.VerifyROM, "present", present)
		}
	}

	m.parasitic, err = ds18b20.CheckParasitePower(ctx, m.bus)
	if err != nil {
		m.log.Warn("power supply query failed, assuming externally powered devices", "error", err)
		m.parasitic = false
	}
	if m.parasitic {
		m.log.Info("parasitic-powered devices detected")
	}

	for i, rom := range roms {
		device, err := m.factory(m.bus, Binding{
			ROM:        rom,
			Solo:       solo,
			Parasitic:  m.parasitic,
			UseCRC:     true,
			Resolution: m.cfg.Resolution,
		})
		if err != nil {
			// a hole in the collection would shift every later slot, so
			// binding failure aborts the whole init
			m.devices = nil
			return 0, fmt.Errorf("%w: slot %d (%s): %v", ErrBindFailed, i, rom, err)
		}
		if err = device.SetResolution(ctx, m.cfg.Resolution); err != nil {
			m.log.Warn("could not set resolution", "slot", i, "rom", rom, "error", err)
		}
		m.devices = append(m.devices, device)
	}
	if solo {
		m.log.Info("single device optimisations enabled")
	}
	return len(m.devices), nil
}

// DeviceCount returns the number of currently bound devices.
func (m *Manager) DeviceCount() int { return len(m.devices) }

// ROMs returns the identifiers of the bound devices in slot order.
func (m *Manager) ROMs() []onewire.ROM {
	roms := make([]onewire.ROM, len(m.devices))
	for i, device := range m.devices {
		roms[i] = device.ROM()
	}
	return roms
}

// ErrorCount returns the cumulative failed-read count of a device slot.
func (m *Manager) ErrorCount(slot int) int {
	if slot < 0 || slot >= len(m.errCounts) {
		return 0
	}
	return m.errCounts[slot]
}

// Parasitic reports whether parasitic-powered devices were detected during
// the last Init.
func (m *Manager) Parasitic() bool { return m.parasitic }

type readingSink func(slot int, temp float32, err error)

// cycle is the shared capture core: one conversion broadcast, one wait, then
// a tight read pass over the first count devices. Per-slot read failures
// increment the slot counter and are handed to the sink; they never abort
// the cycle. The cycle is paced to SamplePeriod measured from its start.
func (m *Manager) cycle(ctx context.Context, count int, sink readingSink) error {
	if len(m.devices) == 0 {
		m.log.Error("no devices bound")
		return ErrNotInitialized
	}
	if count <= 0 || count > len(m.devices) {
		m.log.Error("invalid reading count", "requested", count, "bound", len(m.devices))
		return fmt.Errorf("%w: requested %d, bound %d", ErrInvalidCount, count, len(m.devices))
	}
	start := time.Now()

	pullup := onewire.WeakPullup
	if m.parasitic && m.cfg.StrongPullup {
		pullup = onewire.StrongPullup
	}
	if err := ds18b20.ConvertAll(ctx, m.bus, pullup); err != nil {
		return fmt.Errorf("therm: %w", err)
	}

	// all devices share one resolution, any of them can time the wait
	if err := m.devices[0].WaitForConversion(ctx); err != nil {
		return fmt.Errorf("therm: conversion wait failed: %w", err)
	}

	// read straight after the wait, results go stale on some devices
	for i := range count {
		temp, err := m.devices[i].ReadTemperature(ctx)
		if err != nil {
			m.errCounts[i]++
		}
		sink(i, temp, err)
	}
	m.samples++

	remaining := m.cfg.SamplePeriod - time.Since(start)
	if remaining <= 0 {
		return nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadAndLog runs one capture cycle over every bound device and logs one
// line per device with its reading and cumulative error count.
func (m *Manager) ReadAndLog(ctx context.Context) error {
	m.log.Info("temperature readings (degrees C)", "sample", m.samples+1)
	return m.cycle(ctx, len(m.devices), func(slot int, temp float32, err error) {
		if err != nil {
			m.log.Error("read failed", "slot", slot, "errors", m.errCounts[slot], "error", err)
			return
		}
		m.log.Info(fmt.Sprintf("%2d: %.1f", slot, temp), "errors", m.errCounts[slot])
	})
}

// Capture runs one capture cycle and writes the readings of the first
// len(buf) devices into buf. Slots whose read failed keep their previous
// buffer value; the per-slot error counters record the failure. On an
// invalid buffer size the buffer is left untouched and an error returned.
func (m *Manager) Capture(ctx context.Context, buf []float32) error {
	return m.cycle(ctx, len(buf), func(slot int, temp float32, err error) {
		if err != nil {
			m.log.Warn("read failed", "slot", slot, "error", err)
			return
		}
		buf[slot] = temp
	})
}

// Close releases every bound device handle and the bus, then waits out a
// short settle delay so in-flight line activity can finish before the caller
// tears the line driver down. The manager can be re-initialized afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.log.Info("releasing devices", "count", len(m.devices))
	m.devices = nil

	var err error
	if cerr := m.bus.Close(ctx); cerr != nil {
		err = fmt.Errorf("therm: could not close bus: %w", cerr)
	}
	if m.cfg.SettleDelay > 0 {
		timer := time.NewTimer(m.cfg.SettleDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
		}
	}
	return err
}
