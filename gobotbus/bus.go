// Package gobotbus reaches a touch controller through a gobot I2C
// adaptor, for boards driven by gobot platforms.
package gobotbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/mklimuk/ttsp"
	ttspi2c "github.com/mklimuk/ttsp/i2c"
	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
)

var _ ttsp.I2CBus = &Bus{}

// Bus is an address-level bus bound to one device of a gobot adaptor.
type Bus struct {
	mx      sync.Mutex
	driver  *i2c.GenericDriver
	address byte
}

// New binds a generic driver to address on bus number busNr of adaptor
// and starts it.
func New(adaptor i2c.Connector, busNr int, address byte) (*Bus, error) {
	driver := i2c.NewGenericDriver(adaptor, "ttsp", int(address), func(c i2c.Config) {
		c.SetBus(busNr)
	})
	if err := driver.Start(); err != nil {
		return nil, fmt.Errorf("could not start i2c driver at %#x: %w", address, err)
	}
	return &Bus{driver: driver, address: address}, nil
}

// NewNanoPi connects the I2C adaptor of a NanoPi NEO board and binds
// address on bus busNr. Close releases the adaptor.
func NewNanoPi(busNr int, address byte) (*Bus, func() error, error) {
	npi := nanopi.NewNeoAdaptor()
	if err := npi.I2cBusAdaptor.Connect(); err != nil {
		return nil, nil, fmt.Errorf("adaptor connect error: %w", err)
	}
	bus, err := New(npi, busNr, address)
	if err != nil {
		_ = npi.I2cBusAdaptor.Finalize()
		return nil, nil, err
	}
	closer := func() error {
		herr := bus.Close()
		if ferr := npi.I2cBusAdaptor.Finalize(); ferr != nil {
			return ferr
		}
		return herr
	}
	return bus, closer, nil
}

func (b *Bus) check(address byte) error {
	if address != b.address {
		return fmt.Errorf("driver bound to %#x, not %#x", b.address, address)
	}
	return nil
}

func (b *Bus) ReadFromAddr(_ context.Context, address byte, buffer []byte) error {
	if err := b.check(address); err != nil {
		return err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	if err := b.driver.Read(buffer); err != nil {
		return fmt.Errorf("could not read from %#x: %w", address, err)
	}
	return nil
}

func (b *Bus) WriteToAddr(_ context.Context, address byte, buffer []byte) error {
	if err := b.check(address); err != nil {
		return err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	if err := b.driver.Write(buffer); err != nil {
		return fmt.Errorf("could not write to %#x: %w", address, err)
	}
	return nil
}

// Release is a no-op; the kernel driver never reports busy.
func (b *Bus) Release(context.Context) error {
	return nil
}

func (b *Bus) Close() error {
	return b.driver.Halt()
}

// RegisterBus returns the chunked register view of the bound device.
func (b *Bus) RegisterBus(opts ...ttspi2c.RegisterBusOpt) (*ttspi2c.RegisterBus, error) {
	return ttspi2c.NewRegisterBus(b, b.address, opts...)
}
