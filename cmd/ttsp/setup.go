package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mklimuk/ttsp"
	"github.com/mklimuk/ttsp/adapter"
	"github.com/mklimuk/ttsp/cmd/ttsp/console"
	"github.com/mklimuk/ttsp/config"
	"github.com/mklimuk/ttsp/gobotbus"
	"github.com/mklimuk/ttsp/gpio"
	ttspi2c "github.com/mklimuk/ttsp/i2c"
	"github.com/mklimuk/ttsp/touch"
	"github.com/mklimuk/ttsp/trace"
	"github.com/mklimuk/ttsp/ttspctx"
	"github.com/urfave/cli/v2"
)

type interruptLine interface {
	touch.IRQ
	Watch(ctx context.Context, fn func(ctx context.Context))
}

// device is one configured controller with the hardware it was built on.
type device struct {
	cfg     *config.Device
	core    *touch.Core
	irq     interruptLine
	closers []func() error

	bus    ttsp.I2CBus
	bridge *adapter.MCP2221
	// expander outputs per address and port, configured once
	expanders map[int]*gpio.MCP23017
	outputs   map[string]byte
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, console.Exit(1, "could not load configuration: %s", console.Red(err))
	}
	return cfg, nil
}

// openDevice builds the device selected with --device and starts its
// session. The caller must call close.
func openDevice(c *cli.Context) (*device, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	dc, err := cfg.Lookup(c.String("device"))
	if err != nil {
		return nil, console.Exit(1, "%s", console.Red(err))
	}
	c.Context = ttspctx.WithDevice(c.Context, dc.Name)
	d, err := buildDevice(c.Context, dc, c.String("trace"))
	if err != nil {
		return nil, console.Exit(1, "could not set up %s: %s", dc.Name, console.Red(err))
	}
	if err := d.start(c.Context); err != nil {
		_ = d.close()
		return nil, console.Exit(1, "could not start %s: %s", dc.Name, console.Red(err))
	}
	return d, nil
}

func buildDevice(ctx context.Context, dc *config.Device, tracePath string) (*device, error) {
	d := &device{
		cfg:       dc,
		expanders: make(map[int]*gpio.MCP23017),
		outputs:   make(map[string]byte),
	}
	log := slog.Default().With("device", dc.Name)
	var opts []ttspi2c.RegisterBusOpt
	if dc.Bus.MaxTransfer > 0 {
		opts = append(opts, ttspi2c.WithMaxTransfer(dc.Bus.MaxTransfer))
	}
	if dc.Bus.RetryLimit > 0 {
		opts = append(opts, ttspi2c.WithRetryLimit(dc.Bus.RetryLimit))
	}
	opts = append(opts, ttspi2c.WithLogger(log))

	var regs ttsp.RegisterBus
	switch dc.Bus.Kind {
	case config.BusPeriph:
		bus, err := ttspi2c.NewGenericBus(dc.Bus.Device)
		if err != nil {
			return nil, err
		}
		d.bus = bus
		d.closers = append(d.closers, bus.Close)
	case config.BusMCP2221:
		d.bridge = adapter.NewMCP2221(adapter.WithDeviceIndex(dc.Bus.Index))
		d.bus = d.bridge
	case config.BusGobot:
		bus, halt, err := gobotbus.NewNanoPi(dc.Bus.Number, byte(dc.Bus.Address))
		if err != nil {
			return nil, err
		}
		d.bus = bus
		d.closers = append(d.closers, halt)
		regs, err = bus.RegisterBus(opts...)
		if err != nil {
			_ = d.close()
			return nil, err
		}
	}
	if regs == nil {
		rb, err := ttspi2c.NewRegisterBus(d.bus, byte(dc.Bus.Address), opts...)
		if err != nil {
			_ = d.close()
			return nil, err
		}
		regs = rb
	}

	if tracePath == "" {
		tracePath = dc.Trace
	}
	if tracePath != "" {
		rec, err := trace.OpenRecorder(tracePath, regs, trace.WithDevice(dc.Name))
		if err != nil {
			_ = d.close()
			return nil, fmt.Errorf("could not open trace: %w", err)
		}
		log.Info("recording bus transfers", "file", tracePath, "session", rec.Session())
		d.closers = append(d.closers, rec.Close)
		regs = rec
	}

	touchOpts := []touch.Opt{touch.WithOpts(dc.Touch), touch.WithLogger(log)}
	if err := d.wireLines(ctx, &touchOpts); err != nil {
		_ = d.close()
		return nil, err
	}
	core, err := touch.New(dc.Name, regs, touchOpts...)
	if err != nil {
		_ = d.close()
		return nil, err
	}
	d.core = core
	d.closers = append(d.closers, core.Close)
	return d, nil
}

func (d *device) wireLines(ctx context.Context, opts *[]touch.Opt) error {
	dc := d.cfg
	if dc.IRQ == nil {
		return errors.New("no interrupt line configured")
	}
	switch dc.IRQ.Kind {
	case config.PinPeriph:
		line, err := gpio.OpenLine(dc.IRQ.Name, dc.PollInterval)
		if err != nil {
			return err
		}
		d.irq = line
	case config.PinMCP2221:
		pin, err := d.bridgePin(dc.IRQ.Index)
		if err != nil {
			return err
		}
		d.irq = gpio.NewPolledLine(pin, dc.PollInterval)
	default:
		return fmt.Errorf("%s cannot be an interrupt line", dc.IRQ)
	}
	*opts = append(*opts, touch.WithIRQ(d.irq))

	if dc.Reset != nil {
		out, err := d.output(ctx, *dc.Reset)
		if err != nil {
			return fmt.Errorf("reset line: %w", err)
		}
		*opts = append(*opts, touch.WithReset(gpio.NewResetPin(out, dc.ResetPulse).Reset))
	}
	if len(dc.Power) > 0 {
		rails := make([]gpio.Output, 0, len(dc.Power))
		for _, p := range dc.Power {
			out, err := d.output(ctx, p)
			if err != nil {
				return fmt.Errorf("power rail: %w", err)
			}
			rails = append(rails, out)
		}
		*opts = append(*opts, touch.WithPower(gpio.NewPowerRails(dc.PowerSettle, rails...).Power))
	}
	return nil
}

func (d *device) bridgePin(index int) (*adapter.Pin, error) {
	if d.bridge == nil {
		d.bridge = adapter.NewMCP2221()
	}
	return d.bridge.Pin(index)
}

func (d *device) output(ctx context.Context, p config.Pin) (gpio.Output, error) {
	switch p.Kind {
	case config.PinPeriph:
		return gpio.OpenPin(p.Name)
	case config.PinMCP2221:
		return d.bridgePin(p.Index)
	case config.PinMCP23017:
		if d.cfg.Bus.Kind == config.BusGobot {
			return nil, fmt.Errorf("%s: expander pins need an address-level bus", p)
		}
		exp, ok := d.expanders[p.Expander]
		if !ok {
			exp = gpio.NewMCP23017(d.bus, byte(p.Expander))
			d.expanders[p.Expander] = exp
		}
		port := gpio.PortA
		if strings.EqualFold(p.Port, "B") {
			port = gpio.PortB
		}
		key := fmt.Sprintf("%d/%s", p.Expander, port)
		d.outputs[key] |= 1 << p.Bit
		// IODIR bits set to 1 are inputs
		if err := exp.Direction(ctx, port, ^d.outputs[key]); err != nil {
			return nil, err
		}
		return exp.Pin(port, p.Bit)
	}
	return nil, fmt.Errorf("unknown pin kind %q", p.Kind)
}

// start runs the first startup and begins dispatching interrupts.
func (d *device) start(ctx context.Context) error {
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.closers = append(d.closers, func() error {
		cancel()
		return nil
	})
	go d.irq.Watch(wctx, d.core.HandleInterrupt)
	return d.core.Start(ctx)
}

// close releases resources in reverse order of acquisition.
func (d *device) close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
