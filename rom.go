package onewire

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sigurn/crc8"
)

// ROMLength is the size of a 1-wire identifier in bytes.
const ROMLength = 8

// crc8 polynomial x^8 + x^5 + x^4 + 1, reflected (Dallas/Maxim)
var romTable = crc8.MakeTable(crc8.CRC8_MAXIM)

// ROM is the unique 64-bit identifier of a device on the bus, stored in wire
// order: family code first, six serial bytes, checksum last. It is immutable
// once read from the device.
type ROM [ROMLength]byte

func (r ROM) Family() byte { return r[0] }

func (r ROM) Serial() []byte {
	serial := make([]byte, 6)
	copy(serial, r[1:7])
	return serial
}

func (r ROM) CRC() byte { return r[7] }

// Valid reports whether the checksum byte matches the rest of the identifier.
func (r ROM) Valid() bool {
	return crc8.Checksum(r[:7], romTable) == r[7]
}

func (r ROM) IsZero() bool {
	return r == ROM{}
}

// String renders the identifier most significant byte first, the order used
// on datasheets and device labels (checksum first, family code last).
func (r ROM) String() string {
	var buf [ROMLength * 2]byte
	for i := range ROMLength {
		hex.Encode(buf[i*2:], []byte{r[ROMLength-1-i]})
	}
	return string(buf[:])
}

// ParseROM decodes an identifier produced by ROM.String. An optional 0x
// prefix is accepted. The checksum is not verified; use Valid for that.
func ParseROM(s string) (ROM, error) {
	var rom ROM
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return rom, fmt.Errorf("could not decode rom code %q: %w", s, err)
	}
	if len(raw) != ROMLength {
		return rom, fmt.Errorf("rom code %q has %d bytes, expected %d", s, len(raw), ROMLength)
	}
	for i := range ROMLength {
		rom[i] = raw[ROMLength-1-i]
	}
	return rom, nil
}

// CheckROM computes the checksum byte over the family code and serial number.
func CheckROM(rom ROM) byte {
	return crc8.Checksum(rom[:7], romTable)
}
