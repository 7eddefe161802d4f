package i2c

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mklimuk/ttsp"
	"periph.io/x/conn/v3"
)

const (
	DefaultMaxTransfer = 512
	// MinMaxTransfer covers the largest single register access of the
	// session layer.
	MinMaxTransfer = 140

	defaultRetryLimit = 3
)

var (
	ErrInvalidRegister     = errors.New("register address does not fit one byte")
	ErrInvalidTransferSize = fmt.Errorf("maximum transfer size below %d bytes", MinMaxTransfer)
)

var _ ttsp.RegisterBus = &RegisterBus{}

// RegisterBus addresses the byte-wide register file of one device behind
// an I2C bus. Transfers longer than the maximum transfer size are split;
// the register address advances with every chunk.
type RegisterBus struct {
	mx         sync.Mutex
	bus        ttsp.I2CBus
	address    byte
	maxXfer    int
	retryLimit int
	log        *slog.Logger
}

type RegisterBusOpts struct {
	MaxTransfer int
	RetryLimit  int
	Logger      *slog.Logger
}

type RegisterBusOpt func(*RegisterBusOpts)

func WithMaxTransfer(n int) RegisterBusOpt {
	return func(o *RegisterBusOpts) {
		o.MaxTransfer = n
	}
}

// WithRetryLimit bounds the retries of a transfer refused with
// ttsp.ErrBusBusy.
func WithRetryLimit(n int) RegisterBusOpt {
	return func(o *RegisterBusOpts) {
		o.RetryLimit = n
	}
}

func WithLogger(l *slog.Logger) RegisterBusOpt {
	return func(o *RegisterBusOpts) {
		o.Logger = l
	}
}

func NewRegisterBus(bus ttsp.I2CBus, address byte, opts ...RegisterBusOpt) (*RegisterBus, error) {
	o := RegisterBusOpts{
		MaxTransfer: DefaultMaxTransfer,
		RetryLimit:  defaultRetryLimit,
		Logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	maxXfer := o.MaxTransfer
	if l, ok := bus.(conn.Limits); ok {
		if n := l.MaxTxSize(); n > 0 && n < maxXfer {
			maxXfer = n
		}
	}
	if maxXfer < MinMaxTransfer {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTransferSize, maxXfer)
	}
	return &RegisterBus{
		bus:        bus,
		address:    address,
		maxXfer:    maxXfer,
		retryLimit: o.RetryLimit,
		log:        o.Logger.With("address", fmt.Sprintf("0x%02X", address)),
	}, nil
}

// MaxTransfer returns the effective chunk size.
func (r *RegisterBus) MaxTransfer() int {
	return r.maxXfer
}

func (r *RegisterBus) ReadReg(ctx context.Context, addr uint16, buffer []byte) error {
	if addr > 0xFF || int(addr)+len(buffer) > 0x100 {
		return fmt.Errorf("%w: read of %d bytes at 0x%X", ErrInvalidRegister, len(buffer), addr)
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	for ofs := 0; ofs < len(buffer); ofs += r.maxXfer {
		end := min(ofs+r.maxXfer, len(buffer))
		reg := byte(int(addr) + ofs)
		if err := r.retry(ctx, func() error { return r.bus.WriteToAddr(ctx, r.address, []byte{reg}) }); err != nil {
			return fmt.Errorf("could not select register 0x%02X: %w", reg, err)
		}
		if err := r.retry(ctx, func() error { return r.bus.ReadFromAddr(ctx, r.address, buffer[ofs:end]) }); err != nil {
			return fmt.Errorf("could not read %d bytes at 0x%02X: %w", end-ofs, reg, err)
		}
	}
	return nil
}

func (r *RegisterBus) WriteReg(ctx context.Context, addr uint16, data []byte) error {
	if addr > 0xFF || int(addr)+len(data) > 0x100 {
		return fmt.Errorf("%w: write of %d bytes at 0x%X", ErrInvalidRegister, len(data), addr)
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	chunk := r.maxXfer - 1
	for ofs := 0; ofs < len(data); ofs += chunk {
		end := min(ofs+chunk, len(data))
		reg := byte(int(addr) + ofs)
		frame := make([]byte, 0, end-ofs+1)
		frame = append(frame, reg)
		frame = append(frame, data[ofs:end]...)
		if err := r.retry(ctx, func() error { return r.bus.WriteToAddr(ctx, r.address, frame) }); err != nil {
			return fmt.Errorf("could not write %d bytes at 0x%02X: %w", end-ofs, reg, err)
		}
	}
	return nil
}

// retry repeats fn while the bus reports busy, releasing it in between.
func (r *RegisterBus) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= r.retryLimit; attempt++ {
		if err = fn(); !errors.Is(err, ttsp.ErrBusBusy) {
			return err
		}
		r.log.Debug("bus busy, releasing", "attempt", attempt)
		if rerr := r.bus.Release(ctx); rerr != nil {
			return fmt.Errorf("could not release bus: %w", rerr)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
