package adapter

import (
	"context"
	"fmt"
)

const gpioPins = 4

// WriteGPIO drives pin as an output at the given level.
func (d *MCP2221) WriteGPIO(ctx context.Context, pin int, high bool) error {
	if pin < 0 || pin >= gpioPins {
		return fmt.Errorf("invalid GPIO pin %d", pin)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = 0x50
	i := 2 + 4*pin
	d.request[i] = 0x01 // alter output value
	if high {
		d.request[i+1] = 0x01
	}
	d.request[i+2] = 0x01 // alter direction
	d.request[i+3] = 0x00 // output
	if err := d.send(ctx, true); err != nil {
		return fmt.Errorf("set GPIO %d command write failed: %w", pin, err)
	}
	if d.response[1] != 0x00 || d.response[i] == 0xEE {
		return fmt.Errorf("%w: GPIO %d is not configured for GPIO operation", ErrCommandFailed, pin)
	}
	return nil
}

// Pin is one GP pin of the bridge used as a controller line: the
// interrupt input or the reset and power outputs.
type Pin struct {
	dev   *MCP2221
	index int
}

func (d *MCP2221) Pin(index int) (*Pin, error) {
	if index < 0 || index >= gpioPins {
		return nil, fmt.Errorf("invalid GPIO pin %d", index)
	}
	return &Pin{dev: d, index: index}, nil
}

// Level reports whether the pin reads high.
func (p *Pin) Level(ctx context.Context) (bool, error) {
	values, err := p.dev.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("could not read GP%d: %w", p.index, err)
	}
	return values[p.index] != 0, nil
}

func (p *Pin) Set(ctx context.Context, high bool) error {
	return p.dev.WriteGPIO(ctx, p.index, high)
}

func (p *Pin) String() string {
	return fmt.Sprintf("MCP2221/GP%d", p.index)
}
