package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mklimuk/ttsp"
)

type registry int

const DefaultMCP23017Address = 0x21

// registers per bank layout (IOCON.BANK)
const (
	IODIRA registry = iota
	IOPOLA
	GPINTENA
	DEFVALA
	INTCONA
	IOCONA
	GPPUA
	INTFA
	INTCAPA
	GPIOA
	OLATA
	IODIRB
	IOPOLB
	GPINTENB
	DEFVALB
	INTCONB
	IOCONB
	GPPUB
	INTFB
	INTCAPB
	GPIOB
	OLATB
)

var (
	BankAddr = []map[registry]byte{
		{
			IODIRA:   0x00,
			IOPOLA:   0x02,
			GPINTENA: 0x04,
			DEFVALA:  0x06,
			INTCONA:  0x08,
			IOCONA:   0x0A,
			GPPUA:    0x0C,
			INTFA:    0x0E,
			INTCAPA:  0x10,
			GPIOA:    0x12,
			OLATA:    0x14,
			IODIRB:   0x01,
			IOPOLB:   0x03,
			GPINTENB: 0x05,
			DEFVALB:  0x07,
			INTCONB:  0x09,
			IOCONB:   0x0B,
			GPPUB:    0x0D,
			INTFB:    0x0F,
			INTCAPB:  0x11,
			GPIOB:    0x13,
			OLATB:    0x15,
		},
		{
			IODIRA:   0x00,
			IOPOLA:   0x01,
			GPINTENA: 0x02,
			DEFVALA:  0x03,
			INTCONA:  0x04,
			IOCONA:   0x05,
			GPPUA:    0x06,
			INTFA:    0x07,
			INTCAPA:  0x08,
			GPIOA:    0x09,
			OLATA:    0x0A,
			IODIRB:   0x10,
			IOPOLB:   0x11,
			GPINTENB: 0x12,
			DEFVALB:  0x13,
			INTCONB:  0x14,
			IOCONB:   0x15,
			GPPUB:    0x16,
			INTFB:    0x17,
			INTCAPB:  0x18,
			GPIOB:    0x19,
			OLATB:    0x1A,
		},
	}
)

// Port selects one of the two 8 bit ports of the expander.
type Port int

const (
	PortA Port = iota
	PortB
)

func (p Port) String() string {
	if p == PortB {
		return "B"
	}
	return "A"
}

// reg maps a port A register to the same register of p.
func (p Port) reg(a registry) registry {
	if p == PortB {
		return a + IODIRB - IODIRA
	}
	return a
}

/*
	Steps to read GPIO:

1. Set 0xFF to IODIR registry (all inputs) - 0x00(A)/0x01(B)
2. Configure pull-up? 0x06
3. Read port register 0x09
*/
type MCP23017 struct {
	mx         sync.Mutex
	transport  ttsp.I2CBus
	bank       int
	address    byte
	retryLimit int
	// output latches as last written
	latchMx sync.Mutex
	olat    [2]byte
}

type MCP23017Opt func(*MCP23017)

// WithRetryLimit sets how many times a busy bus is retried.
func WithRetryLimit(n int) MCP23017Opt {
	return func(m *MCP23017) {
		m.retryLimit = n
	}
}

// WithBank selects the register layout matching IOCON.BANK.
func WithBank(bank int) MCP23017Opt {
	return func(m *MCP23017) {
		m.bank = bank & 1
	}
}

func NewMCP23017(bus ttsp.I2CBus, address byte, opts ...MCP23017Opt) *MCP23017 {
	m := &MCP23017{retryLimit: 1, transport: bus, address: address}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// retry runs fn until it succeeds, fails for another reason than a busy
// bus or the retry limit is reached. The bus is released between tries.
func (m *MCP23017) retry(ctx context.Context, what string, fn func() error) error {
	var err error
	for i := max(m.retryLimit, 1); i > 0; i-- {
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ttsp.ErrBusBusy) {
			return fmt.Errorf("could not %s: %w", what, err)
		}
		// try to release the bus
		_ = m.transport.Release(ctx)
	}
	return fmt.Errorf("could not %s (retry limit reached): %w", what, err)
}

func (m *MCP23017) writeRegistry(ctx context.Context, r registry, value byte, what string) error {
	return m.retry(ctx, what, func() error {
		m.mx.Lock()
		defer m.mx.Unlock()
		return m.transport.WriteToAddr(ctx, m.address, []byte{BankAddr[m.bank][r], value})
	})
}

func (m *MCP23017) readRegistry(ctx context.Context, r registry, what string) (byte, error) {
	var res byte
	err := m.retry(ctx, what, func() error {
		m.mx.Lock()
		defer m.mx.Unlock()
		err := m.transport.WriteToAddr(ctx, m.address, []byte{BankAddr[m.bank][r]})
		if err != nil {
			return fmt.Errorf("could not set I/O registry address: %w", err)
		}
		buf := make([]byte, 1)
		err = m.transport.ReadFromAddr(ctx, m.address, buf)
		if err != nil {
			return fmt.Errorf("could not read gpio data: %w", err)
		}
		res = buf[0]
		return nil
	})
	return res, err
}

// Direction sets the IODIR register of port p; a set bit is an input.
func (m *MCP23017) Direction(ctx context.Context, p Port, inout byte) error {
	return m.writeRegistry(ctx, p.reg(IODIRA), inout, "initialize gpio "+p.String()+" set")
}

// PullUp sets up pull up resistors on port p.
func (m *MCP23017) PullUp(ctx context.Context, p Port, settings byte) error {
	return m.writeRegistry(ctx, p.reg(GPPUA), settings, "set pull-up on gpio "+p.String()+" set")
}

// Settings reads the IOCON register.
func (m *MCP23017) Settings(ctx context.Context, p Port) (byte, error) {
	return m.readRegistry(ctx, p.reg(IOCONA), "read settings of gpio "+p.String()+" set")
}

func (m *MCP23017) WriteSettings(ctx context.Context, p Port, settings byte) error {
	return m.writeRegistry(ctx, p.reg(IOCONA), settings, "write settings on gpio "+p.String()+" set")
}

// ReadPort reads the input levels of port p.
func (m *MCP23017) ReadPort(ctx context.Context, p Port) (byte, error) {
	return m.readRegistry(ctx, p.reg(GPIOA), "read gpio "+p.String()+" set")
}

func (m *MCP23017) Read(ctx context.Context) ([]byte, error) {
	res := make([]byte, 2)
	var err error
	res[0], err = m.ReadPort(ctx, PortA)
	if err != nil {
		return nil, err
	}
	res[1], err = m.ReadPort(ctx, PortB)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Output writes the output latch of port p.
func (m *MCP23017) Output(ctx context.Context, p Port, value byte) error {
	m.latchMx.Lock()
	defer m.latchMx.Unlock()
	return m.output(ctx, p, value)
}

func (m *MCP23017) output(ctx context.Context, p Port, value byte) error {
	if err := m.writeRegistry(ctx, p.reg(OLATA), value, "write gpio "+p.String()+" latch"); err != nil {
		return err
	}
	m.olat[p] = value
	return nil
}

// SetBit changes one bit of the output latch of port p.
func (m *MCP23017) SetBit(ctx context.Context, p Port, bit int, high bool) error {
	m.latchMx.Lock()
	defer m.latchMx.Unlock()
	v := m.olat[p]
	if high {
		v |= 1 << bit
	} else {
		v &^= 1 << bit
	}
	return m.output(ctx, p, v)
}

// ExpanderPin is one output bit of the expander, used as a reset or
// power line of a controller. The port direction must be configured as
// output beforehand.
type ExpanderPin struct {
	exp  *MCP23017
	port Port
	bit  int
}

func (m *MCP23017) Pin(p Port, bit int) (*ExpanderPin, error) {
	if bit < 0 || bit > 7 {
		return nil, fmt.Errorf("invalid expander bit %d", bit)
	}
	return &ExpanderPin{exp: m, port: p, bit: bit}, nil
}

func (p *ExpanderPin) Set(ctx context.Context, high bool) error {
	return p.exp.SetBit(ctx, p.port, p.bit, high)
}

func (p *ExpanderPin) String() string {
	return fmt.Sprintf("MCP23017/0x%02X/%s%d", p.exp.address, p.port, p.bit)
}
