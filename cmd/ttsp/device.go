package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mklimuk/ttsp/cmd/ttsp/console"
	"github.com/mklimuk/ttsp/touch"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

const exclusiveTimeout = 10 * time.Second

// withDevice opens the selected device, runs fn and closes it.
func withDevice(fn func(c *cli.Context, d *device) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		d, err := openDevice(c)
		if err != nil {
			return err
		}
		defer func() {
			if err := d.close(); err != nil {
				console.Warnf("could not close %s: %v", d.cfg.Name, err)
			}
		}()
		return fn(c, d)
	}
}

// holding runs fn with the exclusive token and the controller in mode,
// returning to operational mode afterwards.
func holding(ctx context.Context, d *device, mode touch.Mode, fn func(ctx context.Context) error) error {
	if err := d.core.RequestExclusive(ctx, d, exclusiveTimeout); err != nil {
		return err
	}
	defer func() {
		_ = d.core.ReleaseExclusive(d)
	}()
	if mode == touch.ModeOperational {
		return fn(ctx)
	}
	if err := d.core.RequestMode(ctx, mode); err != nil {
		return err
	}
	err := fn(ctx)
	if merr := d.core.RequestMode(ctx, touch.ModeOperational); merr != nil && err == nil {
		err = merr
	}
	return err
}

func printYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return console.Exit(1, "encoding error: %s", console.Red(err))
	}
	return enc.Close()
}

// parseByte accepts decimal and 0x prefixed values.
func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid byte value %q", s)
	}
	return byte(v), nil
}

var infoCmd = cli.Command{
	Name:  "info",
	Usage: "start the controller and print its identity and session state",
	Action: withDevice(func(c *cli.Context, d *device) error {
		return printYAML(d.core.Info())
	}),
}

var watchCmd = cli.Command{
	Name:  "watch",
	Usage: "print touch reports until interrupted",
	Flags: []cli.Flag{
		&cli.DurationFlag{Name: "for", Usage: "stop after this long"},
	},
	Action: withDevice(func(c *cli.Context, d *device) error {
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		if limit := c.Duration("for"); limit > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}
		layout := d.core.Layout()
		id, err := d.core.Subscribe(touch.OnInterrupt, touch.ModeOperational, func(ev touch.Event) {
			if ev.Report == nil {
				return
			}
			printReport(layout, ev.Report)
		})
		if err != nil {
			return console.Exit(1, "could not subscribe: %s", console.Red(err))
		}
		defer func() { _ = d.core.Unsubscribe(touch.OnInterrupt, id) }()
		wake, err := d.core.Subscribe(touch.OnWakeSignal, touch.ModeAny, func(ev touch.Event) {
			console.PInfof(console.PictoFinger, "wake gesture on %s", ev.Device)
		})
		if err != nil {
			return console.Exit(1, "could not subscribe: %s", console.Red(err))
		}
		defer func() { _ = d.core.Unsubscribe(touch.OnWakeSignal, wake) }()
		console.PInfof(console.PictoPin, "watching %s, press Ctrl+C to stop", console.Bold(d.cfg.Name))
		<-ctx.Done()
		return nil
	}),
}

func printReport(l *touch.Layout, r *touch.Report) {
	flags := ""
	if r.LargeObject {
		flags += " large-object"
	}
	if r.BadPacket {
		flags += " bad-packet"
	}
	console.PInfof(console.PictoFinger, "%d touches%s", len(r.Records), flags)
	for _, rec := range r.Records {
		if l != nil {
			rec = l.Panel.Transform(rec, 0)
		}
		console.Printf("  id=%d x=%d y=%d p=%d event=%d type=%d\n",
			rec.Get(touch.FieldTrackID), rec.Get(touch.FieldX), rec.Get(touch.FieldY),
			rec.Get(touch.FieldPressure), rec.Get(touch.FieldEvent), rec.Get(touch.FieldObjectType))
	}
	for i := 0; i < 4*len(r.Buttons); i++ {
		if r.ButtonPressed(i) {
			console.Printf("  button %d pressed\n", i)
		}
	}
}

var sleepCmd = cli.Command{
	Name:  "sleep",
	Usage: "put the controller to sleep",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "gesture", Usage: "easy wakeup gesture id, 0xFF for deep sleep"},
	},
	Action: withDevice(func(c *cli.Context, d *device) error {
		if g := c.String("gesture"); g != "" {
			v, err := parseByte(g)
			if err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			if err := d.core.SetEasyWakeGesture(v); err != nil {
				return console.Exit(1, "could not set gesture: %s", console.Red(err))
			}
		}
		if err := d.core.Sleep(c.Context); err != nil {
			return console.Exit(1, "could not sleep: %s", console.Red(err))
		}
		console.PInfof(console.PictoSleep, "%s is %s", d.cfg.Name, console.Sleep(d.core.SleepState()))
		return nil
	}),
}

var wakeCmd = cli.Command{
	Name:  "wake",
	Usage: "sleep and wake the controller, checking it returns to operational mode",
	Action: withDevice(func(c *cli.Context, d *device) error {
		if err := d.core.Sleep(c.Context); err != nil {
			return console.Exit(1, "could not sleep: %s", console.Red(err))
		}
		if err := d.core.Wake(c.Context); err != nil {
			return console.Exit(1, "could not wake: %s", console.Red(err))
		}
		console.PInfof(console.PictoFinish, "%s is %s in %s mode", d.cfg.Name, console.Sleep(d.core.SleepState()), console.Mode(d.core.Mode()))
		return nil
	}),
}

var restartCmd = cli.Command{
	Name:  "restart",
	Usage: "run a full controller startup",
	Flags: []cli.Flag{
		&cli.DurationFlag{Name: "timeout", Value: 30 * time.Second},
	},
	Action: withDevice(func(c *cli.Context, d *device) error {
		ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
		defer cancel()
		console.PInfof(console.PictoRestart, "restarting %s", d.cfg.Name)
		if err := d.core.Restart(ctx, true); err != nil {
			return console.Exit(1, "restart failed: %s", console.Red(err))
		}
		return printYAML(d.core.Info())
	}),
}

var calibrateCmd = cli.Command{
	Name:  "calibrate",
	Usage: "recalibrate the sensing IDACs and reinitialize baselines",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
		&cli.StringFlag{Name: "baselines", Usage: "only reinitialize baselines selected by this mask"},
	},
	Action: withDevice(func(c *cli.Context, d *device) error {
		ok, err := console.Confirm(fmt.Sprintf("calibrate %s?", d.cfg.Name), c.Bool("yes"))
		if err != nil || !ok {
			console.PInfof(console.PictoStop, "aborted")
			return nil
		}
		if m := c.String("baselines"); m != "" {
			mask, err := parseByte(m)
			if err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			if err := d.core.InitBaselines(c.Context, mask); err != nil {
				return console.Exit(1, "could not initialize baselines: %s", console.Red(err))
			}
			console.PInfof(console.PictoFinish, "baselines 0x%02X initialized", mask)
			return nil
		}
		if err := d.core.Calibrate(c.Context); err != nil {
			return console.Exit(1, "calibration failed: %s", console.Red(err))
		}
		console.PInfof(console.PictoFinish, "%s calibrated", d.cfg.Name)
		return nil
	}),
}
