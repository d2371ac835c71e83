// Package periphbus adapts a periph.io 1-wire host bus to the onewire.Bus
// surface. It covers Linux boards where the line driver is registered with
// periph's onewirereg, typically the Raspberry Pi w1 master.
package periphbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	owire "periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/onewire/onewirereg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/onewire"
)

const cmdReadROM byte = 0x33

type Option func(*Bus)

// WithStrongPullupPin names a GPIO driving an external pull-up transistor.
// The pin is held high after every strong pull-up exchange and released at
// the start of the next one, for line drivers that cannot source enough
// current for parasitic-powered devices on their own.
func WithStrongPullupPin(name string) Option {
	return func(b *Bus) {
		b.assistName = name
	}
}

// Bus is an onewire.Bus backed by a periph.io registered 1-wire host.
// The underlying drivers expose transaction-level access only, so ReadBit
// reports onewire.ErrBitReadUnsupported and conversion waits fall back to
// timed delays.
type Bus struct {
	mu         sync.Mutex
	bus        owire.BusCloser
	assistName string
	assist     gpio.PinIO
	assistHeld bool
	pending    []onewire.ROM
	closed     bool
}

var _ onewire.Bus = (*Bus)(nil)

// New opens the named bus from the periph registry. An empty name selects the
// first registered bus.
func New(name string, opts ...Option) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periphbus: host initialization failed: %w", err)
	}
	b := &Bus{}
	for _, opt := range opts {
		opt(b)
	}
	bus, err := onewirereg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("periphbus: could not open bus %q: %w", name, err)
	}
	b.bus = bus
	if b.assistName != "" {
		b.assist = gpioreg.ByName(b.assistName)
		if b.assist == nil {
			_ = bus.Close()
			return nil, fmt.Errorf("periphbus: pull-up assist pin %q not found", b.assistName)
		}
		if err = b.assist.Out(gpio.Low); err != nil {
			_ = bus.Close()
			return nil, fmt.Errorf("periphbus: could not drive assist pin %q: %w", b.assistName, err)
		}
	}
	return b, nil
}

func (b *Bus) String() string {
	if b.bus == nil {
		return "periphbus(closed)"
	}
	return b.bus.String()
}

// Tx runs one reset/write/read exchange. The underlying driver blocks without
// a context, so cancellation is only honored between exchanges.
func (b *Bus) Tx(ctx context.Context, w, r []byte, pullup onewire.Pullup) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return onewire.ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.releaseAssist(); err != nil {
		return err
	}
	power := owire.WeakPullup
	if pullup == onewire.StrongPullup {
		power = owire.StrongPullup
	}
	if err := b.bus.Tx(w, r, power); err != nil {
		return fmt.Errorf("periphbus: exchange failed: %w", err)
	}
	if pullup == onewire.StrongPullup && b.assist != nil {
		if err := b.assist.Out(gpio.High); err != nil {
			return fmt.Errorf("periphbus: could not engage assist pin: %w", err)
		}
		b.assistHeld = true
	}
	return nil
}

// ReadBit always fails: periph drivers have no single time slot primitive.
func (b *Bus) ReadBit(ctx context.Context) (byte, error) {
	return 0, onewire.ErrBitReadUnsupported
}

// SearchFirst runs a full ROM search and returns the first device found.
// Subsequent SearchNext calls walk the remaining results.
func (b *Bus) SearchFirst(ctx context.Context) (onewire.ROM, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.search(ctx); err != nil {
		return onewire.ROM{}, false, err
	}
	return b.pop()
}

// SearchNext returns the next device from the last search, starting a fresh
// search if none ran yet.
func (b *Bus) SearchNext(ctx context.Context) (onewire.ROM, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		if err := b.search(ctx); err != nil {
			return onewire.ROM{}, false, err
		}
	}
	return b.pop()
}

func (b *Bus) search(ctx context.Context) error {
	if b.closed {
		return onewire.ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.releaseAssist(); err != nil {
		return err
	}
	addrs, err := b.bus.Search(false)
	if err != nil {
		return fmt.Errorf("periphbus: rom search failed: %w", err)
	}
	b.pending = make([]onewire.ROM, 0, len(addrs))
	for _, addr := range addrs {
		b.pending = append(b.pending, romFromAddress(addr))
	}
	return nil
}

func (b *Bus) pop() (onewire.ROM, bool, error) {
	if len(b.pending) == 0 {
		return onewire.ROM{}, false, nil
	}
	rom := b.pending[0]
	b.pending = b.pending[1:]
	return rom, true, nil
}

// ReadROM reads the identifier of the only device on the bus and validates
// its checksum. With multiple devices present the response is a collision
// artifact, which the checksum catches in practice.
func (b *Bus) ReadROM(ctx context.Context) (onewire.ROM, error) {
	var rom onewire.ROM
	if err := b.Tx(ctx, []byte{cmdReadROM}, rom[:], onewire.WeakPullup); err != nil {
		return onewire.ROM{}, err
	}
	if !rom.Valid() {
		return onewire.ROM{}, fmt.Errorf("periphbus: rom code checksum mismatch on %s", rom)
	}
	return rom, nil
}

// VerifyROM reports whether the given device answered the last-run search.
// The transaction-level API has no targeted presence check, so this runs a
// full search and looks the identifier up in the results.
func (b *Bus) VerifyROM(ctx context.Context, rom onewire.ROM) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, onewire.ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	addrs, err := b.bus.Search(false)
	if err != nil {
		return false, fmt.Errorf("periphbus: rom search failed: %w", err)
	}
	for _, addr := range addrs {
		if romFromAddress(addr) == rom {
			return true, nil
		}
	}
	return false, nil
}

// Close releases the assist pin and the underlying bus handle. Further calls
// on the bus return onewire.ErrBusClosed.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	err := b.releaseAssist()
	if cerr := b.bus.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("periphbus: could not close bus: %w", cerr)
	}
	return err
}

func (b *Bus) releaseAssist() error {
	if !b.assistHeld {
		return nil
	}
	b.assistHeld = false
	if err := b.assist.Out(gpio.Low); err != nil {
		return fmt.Errorf("periphbus: could not release assist pin: %w", err)
	}
	return nil
}

// romFromAddress converts a periph 64-bit device address, family code in the
// low byte, to the wire-order identifier.
func romFromAddress(addr owire.Address) onewire.ROM {
	var rom onewire.ROM
	binary.LittleEndian.PutUint64(rom[:], uint64(addr))
	return rom
}
