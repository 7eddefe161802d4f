// Package gpio drives the side-band lines of a touch controller: the
// interrupt input, the XRES reset pin and the power rails, either on
// host GPIO through periph.io or behind an MCP23017 expander.
package gpio

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Output is a line the host drives.
type Output interface {
	Set(ctx context.Context, high bool) error
}

// LevelReader is a line the host samples.
type LevelReader interface {
	Level(ctx context.Context) (bool, error)
}

// PeriphPin is a host GPIO pin.
type PeriphPin struct {
	pin gpio.PinIO
}

// OpenPin looks up a host pin by name, e.g. "GPIO17".
func OpenPin(name string) (*PeriphPin, error) {
	pin, err := byName(name)
	if err != nil {
		return nil, err
	}
	return NewPeriphPin(pin), nil
}

func byName(name string) (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("no gpio pin %q", name)
	}
	return pin, nil
}

func NewPeriphPin(pin gpio.PinIO) *PeriphPin {
	return &PeriphPin{pin: pin}
}

func (p *PeriphPin) Set(_ context.Context, high bool) error {
	level := gpio.Low
	if high {
		level = gpio.High
	}
	if err := p.pin.Out(level); err != nil {
		return fmt.Errorf("could not drive %s %s: %w", p.pin, level, err)
	}
	return nil
}

func (p *PeriphPin) Level(_ context.Context) (bool, error) {
	return p.pin.Read() == gpio.High, nil
}

func (p *PeriphPin) String() string {
	return p.pin.String()
}

// Line is an active low interrupt input with edge detection. It
// implements the interrupt line contract of a touch session.
type Line struct {
	pin      gpio.PinIn
	enabled  atomic.Bool
	interval time.Duration
}

// NewLine configures pin as a pulled-up input detecting both edges.
// While the line stays asserted the handler is invoked again every
// interval.
func NewLine(pin gpio.PinIn, interval time.Duration) (*Line, error) {
	if err := pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("could not configure interrupt line %s: %w", pin, err)
	}
	l := &Line{pin: pin, interval: interval}
	l.enabled.Store(true)
	return l, nil
}

// OpenLine looks up a host pin by name and configures it as an
// interrupt line.
func OpenLine(name string, interval time.Duration) (*Line, error) {
	pin, err := byName(name)
	if err != nil {
		return nil, err
	}
	return NewLine(pin, interval)
}

func (l *Line) Enable()  { l.enabled.Store(true) }
func (l *Line) Disable() { l.enabled.Store(false) }

func (l *Line) Asserted() (bool, error) {
	return l.pin.Read() == gpio.Low, nil
}

// Watch calls fn for every assertion of the line until ctx is done.
func (l *Line) Watch(ctx context.Context, fn func(ctx context.Context)) {
	for ctx.Err() == nil {
		l.pin.WaitForEdge(l.interval)
		if !l.enabled.Load() || ctx.Err() != nil {
			continue
		}
		if l.pin.Read() == gpio.Low {
			fn(ctx)
		}
	}
}

// PolledLine is an active low interrupt input without edge detection,
// such as a GP pin of a USB bridge. It is sampled every interval.
type PolledLine struct {
	in       LevelReader
	enabled  atomic.Bool
	interval time.Duration
}

func NewPolledLine(in LevelReader, interval time.Duration) *PolledLine {
	l := &PolledLine{in: in, interval: interval}
	l.enabled.Store(true)
	return l
}

func (l *PolledLine) Enable()  { l.enabled.Store(true) }
func (l *PolledLine) Disable() { l.enabled.Store(false) }

func (l *PolledLine) Asserted() (bool, error) {
	high, err := l.in.Level(context.Background())
	if err != nil {
		return false, err
	}
	return !high, nil
}

func (l *PolledLine) Watch(ctx context.Context, fn func(ctx context.Context)) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !l.enabled.Load() {
			continue
		}
		high, err := l.in.Level(ctx)
		if err != nil {
			slog.Debug("could not sample interrupt line", "error", err)
			continue
		}
		if !high {
			fn(ctx)
		}
	}
}

// ResetPin pulses the XRES line of a controller.
type ResetPin struct {
	out   Output
	pulse time.Duration
}

const DefaultResetPulse = 20 * time.Millisecond

func NewResetPin(out Output, pulse time.Duration) *ResetPin {
	if pulse <= 0 {
		pulse = DefaultResetPulse
	}
	return &ResetPin{out: out, pulse: pulse}
}

// Reset drives the line high, low for twice the pulse width, then high
// again, waiting one pulse width after each edge.
func (r *ResetPin) Reset(ctx context.Context) error {
	steps := []struct {
		high bool
		hold time.Duration
	}{
		{true, r.pulse},
		{false, 2 * r.pulse},
		{true, r.pulse},
	}
	for _, s := range steps {
		if err := r.out.Set(ctx, s.high); err != nil {
			return fmt.Errorf("reset pulse: %w", err)
		}
		if err := wait(ctx, s.hold); err != nil {
			return err
		}
	}
	return nil
}

// PowerRails switches the supplies of a controller. Rails are enabled
// in order and disabled in reverse order.
type PowerRails struct {
	rails  []Output
	settle time.Duration
}

const DefaultPowerSettle = 50 * time.Millisecond

func NewPowerRails(settle time.Duration, rails ...Output) *PowerRails {
	if settle <= 0 {
		settle = DefaultPowerSettle
	}
	return &PowerRails{rails: rails, settle: settle}
}

func (p *PowerRails) Power(ctx context.Context, on bool) error {
	for i := range p.rails {
		rail := p.rails[i]
		if !on {
			rail = p.rails[len(p.rails)-1-i]
		}
		if err := rail.Set(ctx, on); err != nil {
			return fmt.Errorf("could not switch power rail %d: %w", i, err)
		}
	}
	if on {
		return wait(ctx, p.settle)
	}
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
