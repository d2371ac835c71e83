// Package ds18b20 implements the Maxim DS18B20 register protocol on top of a
// 1-wire transport: conversion triggering, scratchpad access with CRC
// verification, resolution configuration and temperature decoding.
//
// Usage: bind a sensor with New (addressed) or NewSolo (single device on the
// bus), then trigger conversions with ConvertAll and read with
// ReadTemperature after WaitForConversion.
package ds18b20

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/sigurn/crc8"

	"github.com/mklimuk/onewire"
)

// FamilyCode identifies DS18B20 devices in the first ROM byte.
const FamilyCode = 0x28

// ROM and function command set (datasheet, "DS18B20 Function Commands")
const (
	cmdSkipROM         byte = 0xCC
	cmdMatchROM        byte = 0x55
	cmdConvert         byte = 0x44
	cmdWriteScratchpad byte = 0x4E
	cmdReadScratchpad  byte = 0xBE
	cmdCopyScratchpad  byte = 0x48
	cmdReadPowerSupply byte = 0xB4
)

const scratchpadLength = 9

// copy-scratchpad needs the strong pull-up held while the EEPROM writes
const eepromWriteTime = 10 * time.Millisecond

const conversionPollInterval = 10 * time.Millisecond
const conversionMargin = 100 * time.Millisecond

var scratchTable = crc8.MakeTable(crc8.CRC8_MAXIM)

var ErrCRCMismatch = fmt.Errorf("ds18b20: scratchpad crc mismatch")
var ErrConversionTimeout = fmt.Errorf("ds18b20: conversion did not complete in time")
var ErrInvalidResolution = fmt.Errorf("ds18b20: resolution out of range")

// Resolution is the conversion width in bits. All resolutions share the same
// decoding; lower ones leave undefined low bits and convert faster.
type Resolution byte

const (
	Resolution9Bit  Resolution = 9
	Resolution10Bit Resolution = 10
	Resolution11Bit Resolution = 11
	Resolution12Bit Resolution = 12
)

func (r Resolution) Valid() bool {
	return r >= Resolution9Bit && r <= Resolution12Bit
}

// ConversionTime returns the worst-case conversion duration for the
// resolution: 750ms at 12 bits, halved for every bit below.
func (r Resolution) ConversionTime() time.Duration {
	if !r.Valid() {
		r = Resolution12Bit
	}
	return 750 * time.Millisecond >> (Resolution12Bit - r)
}

// configByte encodes the resolution into the configuration register (R1 R0
// in bits 6:5, all other bits read as 1).
func (r Resolution) configByte() byte {
	return byte(r-Resolution9Bit)<<5 | 0x1F
}

func resolutionFromConfig(config byte) Resolution {
	return Resolution9Bit + Resolution(config>>5&0x03)
}

// Sensor is a single DS18B20 bound to a transport, either addressed by its
// ROM identifier or in solo mode when it is the only device on the line.
type Sensor struct {
	transport onewire.Transport
	rom       onewire.ROM
	solo      bool
	useCRC    bool
	parasitic bool
	res       Resolution
}

// New binds a sensor to a specific device identifier. Every exchange selects
// the device with a match-ROM sequence, so it is safe with multiple devices
// sharing the bus.
func New(transport onewire.Transport, rom onewire.ROM) *Sensor {
	return &Sensor{transport: transport, rom: rom, res: Resolution12Bit}
}

// NewSolo binds a sensor in solo mode: addressing is skipped entirely, which
// is only correct when exactly one device is present on the bus.
func NewSolo(transport onewire.Transport) *Sensor {
	return &Sensor{transport: transport, solo: true, res: Resolution12Bit}
}

func (s *Sensor) ROM() onewire.ROM { return s.rom }

func (s *Sensor) Solo() bool { return s.solo }

// UseCRC enables checksum verification on every scratchpad read.
func (s *Sensor) UseCRC(enabled bool) { s.useCRC = enabled }

// UseParasiticPower switches the conversion wait to a fixed timed delay.
// Parasitic-powered devices cannot signal completion on the line.
func (s *Sensor) UseParasiticPower(enabled bool) { s.parasitic = enabled }

func (s *Sensor) Resolution() Resolution { return s.res }

// ConversionTime returns the wait this sensor needs after a conversion has
// been triggered, at its currently configured resolution.
func (s *Sensor) ConversionTime() time.Duration {
	return s.res.ConversionTime()
}

// address returns the ROM selection preamble for a function command.
func (s *Sensor) address() []byte {
	if s.solo {
		return []byte{cmdSkipROM}
	}
	return append([]byte{cmdMatchROM}, s.rom[:]...)
}

// ReadScratchpad reads the full 9-byte scratchpad and verifies its checksum
// when CRC checking is enabled.
func (s *Sensor) ReadScratchpad(ctx context.Context) ([]byte, error) {
	buf := make([]byte, scratchpadLength)
	err := s.transport.Tx(ctx, append(s.address(), cmdReadScratchpad), buf, onewire.WeakPullup)
	if err != nil {
		return nil, fmt.Errorf("ds18b20: could not read scratchpad: %w", err)
	}
	if s.useCRC && crc8.Checksum(buf[:8], scratchTable) != buf[8] {
		return nil, ErrCRCMismatch
	}
	return buf, nil
}

// ReadTemperature reads the result of the last conversion in degrees
// Celsius. Undefined low bits are masked at resolutions below 12 bits.
func (s *Sensor) ReadTemperature(ctx context.Context) (float32, error) {
	sp, err := s.ReadScratchpad(ctx)
	if err != nil {
		return 0, err
	}
	raw := int16(binary.LittleEndian.Uint16(sp[0:2]))
	switch s.res {
	case Resolution9Bit:
		raw &^= 0x07
	case Resolution10Bit:
		raw &^= 0x03
	case Resolution11Bit:
		raw &^= 0x01
	}
	return float32(raw) / 16.0, nil
}

// SetResolution writes the configuration register, preserving the alarm
// registers, and reads the scratchpad back to confirm the device accepted it.
func (s *Sensor) SetResolution(ctx context.Context, res Resolution) error {
	if !res.Valid() {
		return fmt.Errorf("%w: %d bits", ErrInvalidResolution, res)
	}
	sp, err := s.ReadScratchpad(ctx)
	if err != nil {
		return err
	}
	th, tl := sp[2], sp[3]
	err = s.transport.Tx(ctx, append(s.address(), cmdWriteScratchpad, th, tl, res.configByte()), nil, onewire.WeakPullup)
	if err != nil {
		return fmt.Errorf("ds18b20: could not write configuration: %w", err)
	}
	sp, err = s.ReadScratchpad(ctx)
	if err != nil {
		return err
	}
	if got := resolutionFromConfig(sp[4]); got != res {
		return fmt.Errorf("ds18b20: device kept %d-bit resolution after configuring %d bits", got, res)
	}
	s.res = res
	return nil
}

// SaveSettings copies the alarm and configuration registers to EEPROM so the
// device restores them after power loss. The strong pull-up is requested for
// the duration of the write in case the device runs on parasitic power.
func (s *Sensor) SaveSettings(ctx context.Context) error {
	err := s.transport.Tx(ctx, append(s.address(), cmdCopyScratchpad), nil, onewire.StrongPullup)
	if err != nil {
		return fmt.Errorf("ds18b20: could not copy scratchpad to eeprom: %w", err)
	}
	return sleep(ctx, eepromWriteTime)
}

// WaitForConversion blocks until the running conversion has finished. Powered
// devices hold the line low and are polled on read time slots; parasitic
// devices cannot signal, so the full resolution-dependent duration is waited
// out. Transports without time-slot support also get the timed wait.
func (s *Sensor) WaitForConversion(ctx context.Context) error {
	if s.parasitic {
		return sleep(ctx, s.res.ConversionTime())
	}
	deadline := time.Now().Add(s.res.ConversionTime() + conversionMargin)
	for {
		bit, err := s.transport.ReadBit(ctx)
		if errors.Is(err, onewire.ErrBitReadUnsupported) {
			return sleep(ctx, s.res.ConversionTime())
		}
		if err != nil {
			return fmt.Errorf("ds18b20: conversion poll failed: %w", err)
		}
		if bit != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrConversionTimeout
		}
		if err = sleep(ctx, conversionPollInterval); err != nil {
			return err
		}
	}
}

// ConvertAll broadcasts a temperature conversion to every device on the bus.
// Conversion time is the sensor's physical delay, shared by all devices on
// the line, so triggering it once is what makes batched reads cheap. Pass the
// strong pull-up when parasitic-powered devices are present.
func ConvertAll(ctx context.Context, transport onewire.Transport, pullup onewire.Pullup) error {
	err := transport.Tx(ctx, []byte{cmdSkipROM, cmdConvert}, nil, pullup)
	if err != nil {
		return fmt.Errorf("ds18b20: conversion broadcast failed: %w", err)
	}
	return nil
}

// CheckParasitePower queries all devices at once for their power mode. Any
// parasitic-powered device pulls the shared line low during the read slot,
// so a zero bit means at least one device has no dedicated supply.
func CheckParasitePower(ctx context.Context, transport onewire.Transport) (bool, error) {
	buf := make([]byte, 1)
	err := transport.Tx(ctx, []byte{cmdSkipROM, cmdReadPowerSupply}, buf, onewire.WeakPullup)
	if err != nil {
		return false, fmt.Errorf("ds18b20: power supply query failed: %w", err)
	}
	return buf[0]&0x01 == 0, nil
}

func sleep(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
