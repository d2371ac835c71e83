package onewire

import (
	"context"
	"fmt"
)

var ErrBusClosed = fmt.Errorf("1-wire bus is closed")

// ErrBitReadUnsupported is returned by transports that cannot issue a single
// read time slot outside of a full transaction. Callers that poll the line
// for conversion readiness must fall back to a timed wait when they see it.
var ErrBitReadUnsupported = fmt.Errorf("transport does not support single time slots")

// Pullup selects the bus pull-up applied while a transaction completes.
// The strong pull-up supplies the extra current parasitic-powered devices
// need during a temperature conversion or an EEPROM write.
type Pullup bool

const (
	WeakPullup   Pullup = false
	StrongPullup Pullup = true
)

// Transport executes raw exchanges on the shared wire. A transaction is a bus
// reset followed by the write of w and the read of len(r) bytes. The bus is a
// single-initiator medium: implementations are not required to be safe for
// concurrent use and callers must serialize access by construction.
type Transport interface {
	Tx(ctx context.Context, w, r []byte, pullup Pullup) error
	// ReadBit issues one read time slot without a preceding reset.
	ReadBit(ctx context.Context) (byte, error)
}

// Searcher enumerates the identifiers present on the bus using the
// first/next iteration of the ROM search algorithm. The sequence is finite
// and is not restartable: calling SearchFirst resets the search state.
type Searcher interface {
	SearchFirst(ctx context.Context) (ROM, bool, error)
	SearchNext(ctx context.Context) (ROM, bool, error)
}

// Bus is the full surface of a 1-wire line driver.
type Bus interface {
	Transport
	Searcher
	// ReadROM reads the identifier of the only device on the bus. With more
	// than one device present the response is garbled and the checksum fails.
	ReadROM(ctx context.Context) (ROM, error)
	// VerifyROM checks whether the device with the given identifier is
	// currently present on the bus.
	VerifyROM(ctx context.Context, rom ROM) (bool, error)
	Close(ctx context.Context) error
}
