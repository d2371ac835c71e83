package ds18b20

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sigurn/crc8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/onewire"
)

// MockTransport is a mock implementation of onewire.Transport using testify/mock
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Tx(ctx context.Context, w, r []byte, pullup onewire.Pullup) error {
	args := m.Called(ctx, w, r, pullup)
	if data, ok := args.Get(0).([]byte); ok && len(data) <= len(r) {
		copy(r, data)
	}
	return args.Error(1)
}

func (m *MockTransport) ReadBit(ctx context.Context) (byte, error) {
	args := m.Called(ctx)
	return args.Get(0).(byte), args.Error(1)
}

var testROM = onewire.ROM{0x28, 0xee, 0xb2, 0xa5, 0x2c, 0x16, 0x02, 0x15}

// Helper to create a valid scratchpad for the given raw temperature reading
func validScratchpad(lsb, msb, config byte) []byte {
	buf := []byte{lsb, msb, 0x4b, 0x46, config, 0xff, 0x0c, 0x10, 0x00}
	buf[8] = crc8.Checksum(buf[:8], scratchTable)
	return buf
}

func TestResolution_ConversionTime(t *testing.T) {
	tests := []struct {
		given    Resolution
		expected time.Duration
	}{
		{Resolution9Bit, 93750 * time.Microsecond},
		{Resolution10Bit, 187500 * time.Microsecond},
		{Resolution11Bit, 375 * time.Millisecond},
		{Resolution12Bit, 750 * time.Millisecond},
		{Resolution(0), 750 * time.Millisecond},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, test.given.ConversionTime())
	}
}

func TestResolution_ConfigByte(t *testing.T) {
	tests := []struct {
		given    Resolution
		expected byte
	}{
		{Resolution9Bit, 0x1F},
		{Resolution10Bit, 0x3F},
		{Resolution11Bit, 0x5F},
		{Resolution12Bit, 0x7F},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, test.given.configByte())
		assert.Equal(t, test.given, resolutionFromConfig(test.expected))
	}
}

func TestSensor_ReadTemperature(t *testing.T) {
	tests := []struct {
		name     string
		lsb, msb byte
		res      Resolution
		expected float32
	}{
		{"power-on value", 0x50, 0x05, Resolution12Bit, 85.0},
		{"positive", 0x91, 0x01, Resolution12Bit, 25.0625},
		{"negative", 0x5e, 0xff, Resolution12Bit, -10.125},
		{"low bits masked at 9 bits", 0x91, 0x01, Resolution9Bit, 25.0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			transport := new(MockTransport)
			sensor := New(transport, testROM)
			sensor.UseCRC(true)
			sensor.res = test.res

			readCmd := append([]byte{cmdMatchROM}, testROM[:]...)
			readCmd = append(readCmd, cmdReadScratchpad)
			transport.On("Tx", mock.Anything, readCmd, mock.Anything, onewire.WeakPullup).
				Return(validScratchpad(test.lsb, test.msb, test.res.configByte()), nil).Once()

			temp, err := sensor.ReadTemperature(context.Background())
			require.NoError(t, err)
			assert.Equal(t, test.expected, temp)
			transport.AssertExpectations(t)
		})
	}
}

func TestSensor_SoloAddressing(t *testing.T) {
	transport := new(MockTransport)
	sensor := NewSolo(transport)

	transport.On("Tx", mock.Anything, []byte{cmdSkipROM, cmdReadScratchpad}, mock.Anything, onewire.WeakPullup).
		Return(validScratchpad(0x50, 0x05, 0x7f), nil).Once()

	temp, err := sensor.ReadTemperature(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float32(85.0), temp)
	assert.True(t, sensor.Solo())
	transport.AssertExpectations(t)
}

func TestSensor_ReadScratchpad_CRC(t *testing.T) {
	corrupted := validScratchpad(0x91, 0x01, 0x7f)
	corrupted[8] ^= 0xff

	t.Run("mismatch detected", func(t *testing.T) {
		transport := new(MockTransport)
		sensor := NewSolo(transport)
		sensor.UseCRC(true)
		transport.On("Tx", mock.Anything, mock.Anything, mock.Anything, onewire.WeakPullup).
			Return(corrupted, nil).Once()

		_, err := sensor.ReadTemperature(context.Background())
		assert.ErrorIs(t, err, ErrCRCMismatch)
	})

	t.Run("check disabled", func(t *testing.T) {
		transport := new(MockTransport)
		sensor := NewSolo(transport)
		transport.On("Tx", mock.Anything, mock.Anything, mock.Anything, onewire.WeakPullup).
			Return(corrupted, nil).Once()

		temp, err := sensor.ReadTemperature(context.Background())
		require.NoError(t, err)
		assert.Equal(t, float32(25.0625), temp)
	})
}

func TestSensor_SetResolution(t *testing.T) {
	transport := new(MockTransport)
	sensor := NewSolo(transport)
	ctx := context.Background()

	readCmd := []byte{cmdSkipROM, cmdReadScratchpad}
	transport.On("Tx", mock.Anything, readCmd, mock.Anything, onewire.WeakPullup).
		Return(validScratchpad(0x91, 0x01, 0x7f), nil).Once()
	transport.On("Tx", mock.Anything, []byte{cmdSkipROM, cmdWriteScratchpad, 0x4b, 0x46, 0x3F}, mock.Anything, onewire.WeakPullup).
		Return(nil, nil).Once()
	transport.On("Tx", mock.Anything, readCmd, mock.Anything, onewire.WeakPullup).
		Return(validScratchpad(0x91, 0x01, 0x3F), nil).Once()

	err := sensor.SetResolution(ctx, Resolution10Bit)
	require.NoError(t, err)
	assert.Equal(t, Resolution10Bit, sensor.Resolution())
	transport.AssertExpectations(t)
}

func TestSensor_SetResolution_Rejected(t *testing.T) {
	transport := new(MockTransport)
	sensor := NewSolo(transport)

	// device keeps reporting 12 bits after the configuration write
	transport.On("Tx", mock.Anything, []byte{cmdSkipROM, cmdReadScratchpad}, mock.Anything, onewire.WeakPullup).
		Return(validScratchpad(0x91, 0x01, 0x7f), nil)
	transport.On("Tx", mock.Anything, []byte{cmdSkipROM, cmdWriteScratchpad, 0x4b, 0x46, 0x1F}, mock.Anything, onewire.WeakPullup).
		Return(nil, nil).Once()

	err := sensor.SetResolution(context.Background(), Resolution9Bit)
	assert.Error(t, err)
	assert.Equal(t, Resolution12Bit, sensor.Resolution())
}

func TestSensor_SetResolution_Invalid(t *testing.T) {
	sensor := NewSolo(new(MockTransport))
	err := sensor.SetResolution(context.Background(), Resolution(13))
	assert.ErrorIs(t, err, ErrInvalidResolution)
}

func TestSensor_WaitForConversion_Parasitic(t *testing.T) {
	transport := new(MockTransport)
	sensor := NewSolo(transport)
	sensor.UseParasiticPower(true)
	sensor.res = Resolution9Bit

	start := time.Now()
	err := sensor.WaitForConversion(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, Resolution9Bit.ConversionTime())
	transport.AssertNotCalled(t, "ReadBit", mock.Anything)
}

func TestSensor_WaitForConversion_Polled(t *testing.T) {
	transport := new(MockTransport)
	sensor := NewSolo(transport)
	sensor.res = Resolution9Bit

	transport.On("ReadBit", mock.Anything).Return(byte(0), nil).Twice()
	transport.On("ReadBit", mock.Anything).Return(byte(1), nil).Once()

	start := time.Now()
	err := sensor.WaitForConversion(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, elapsed, Resolution9Bit.ConversionTime(), "polling should finish before the full timed wait")
	transport.AssertExpectations(t)
}

func TestSensor_WaitForConversion_PollUnsupported(t *testing.T) {
	transport := new(MockTransport)
	sensor := NewSolo(transport)
	sensor.res = Resolution9Bit

	transport.On("ReadBit", mock.Anything).Return(byte(0), onewire.ErrBitReadUnsupported).Once()

	start := time.Now()
	err := sensor.WaitForConversion(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, Resolution9Bit.ConversionTime())
}

func TestSensor_WaitForConversion_Cancelled(t *testing.T) {
	transport := new(MockTransport)
	sensor := NewSolo(transport)
	sensor.UseParasiticPower(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sensor.WaitForConversion(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConvertAll(t *testing.T) {
	tests := []struct {
		name   string
		pullup onewire.Pullup
	}{
		{"weak pullup", onewire.WeakPullup},
		{"strong pullup", onewire.StrongPullup},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			transport := new(MockTransport)
			transport.On("Tx", mock.Anything, []byte{cmdSkipROM, cmdConvert}, mock.Anything, test.pullup).
				Return(nil, nil).Once()

			err := ConvertAll(context.Background(), transport, test.pullup)
			require.NoError(t, err)
			transport.AssertExpectations(t)
		})
	}
}

func TestConvertAll_Error(t *testing.T) {
	transport := new(MockTransport)
	transport.On("Tx", mock.Anything, mock.Anything, mock.Anything, onewire.WeakPullup).
		Return(nil, errors.New("line stuck low")).Once()

	err := ConvertAll(context.Background(), transport, onewire.WeakPullup)
	assert.ErrorContains(t, err, "conversion broadcast failed")
}

func TestCheckParasitePower(t *testing.T) {
	tests := []struct {
		name     string
		response []byte
		expected bool
	}{
		{"all powered", []byte{0xFF}, false},
		{"all parasitic", []byte{0x00}, true},
		{"mixed", []byte{0xFE}, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			transport := new(MockTransport)
			transport.On("Tx", mock.Anything, []byte{cmdSkipROM, cmdReadPowerSupply}, mock.Anything, onewire.WeakPullup).
				Return(test.response, nil).Once()

			parasitic, err := CheckParasitePower(context.Background(), transport)
			require.NoError(t, err)
			assert.Equal(t, test.expected, parasitic)
			transport.AssertExpectations(t)
		})
	}
}

func TestSensor_SaveSettings(t *testing.T) {
	transport := new(MockTransport)
	sensor := New(transport, testROM)

	saveCmd := append([]byte{cmdMatchROM}, testROM[:]...)
	saveCmd = append(saveCmd, cmdCopyScratchpad)
	transport.On("Tx", mock.Anything, saveCmd, mock.Anything, onewire.StrongPullup).
		Return(nil, nil).Once()

	err := sensor.SaveSettings(context.Background())
	require.NoError(t, err)
	transport.AssertExpectations(t)
}
