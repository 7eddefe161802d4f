package ttsp

import (
	"context"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus is a raw bus reaching any device by its 7-bit address.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// RegisterReader reads len(buffer) bytes starting at a device register.
type RegisterReader interface {
	ReadReg(ctx context.Context, addr uint16, buffer []byte) error
}

// RegisterWriter writes data starting at a device register.
type RegisterWriter interface {
	WriteReg(ctx context.Context, addr uint16, data []byte) error
}

// RegisterBus is the byte-addressable read/write primitive a touch
// controller session runs on. Implementations bound transfers to their
// maximum size and serialize them.
type RegisterBus interface {
	RegisterReader
	RegisterWriter
}
