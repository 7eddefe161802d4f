package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mklimuk/ttsp"
	"github.com/mklimuk/ttsp/adapter"
	"github.com/mklimuk/ttsp/cmd/ttsp/console"
	"github.com/mklimuk/ttsp/gpio"
	ttspi2c "github.com/mklimuk/ttsp/i2c"
	"github.com/urfave/cli/v2"
)

var gpioCmd = cli.Command{
	Name:  "gpio",
	Usage: "host pins and the MCP23017 expander carrying reset and power lines",
	Subcommands: cli.Commands{
		&gpioLevelCmd,
		&gpioStatusCmd,
		&gpioReadCmd,
		&gpioConfigureCmd,
		&gpioPullCmd,
	},
}

var i2cFlag = &cli.StringFlag{Name: "i2c", Usage: "host I2C bus of the expander; the MCP2221 bridge is used when empty"}

// expander opens the MCP23017 at the address in the first argument.
func expander(c *cli.Context) (*gpio.MCP23017, func(), error) {
	bytes, err := hex.DecodeString(c.Args().Get(0))
	if err != nil || len(bytes) != 1 {
		return nil, nil, console.Exit(1, "could not decode address %q", c.Args().Get(0))
	}
	var bus ttsp.I2CBus = adapter.NewMCP2221()
	closer := func() {}
	if name := c.String("i2c"); name != "" {
		b, err := ttspi2c.NewGenericBus(name)
		if err != nil {
			return nil, nil, console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		bus = b
		closer = func() { _ = b.Close() }
	}
	return gpio.NewMCP23017(bus, bytes[0]), closer, nil
}

func expanderAction(nargs int, fn func(ctx context.Context, c *cli.Context, exp *gpio.MCP23017) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() != nargs {
			return console.Exit(1, "expected %d arguments, got %d", nargs, c.NArg())
		}
		exp, closer, err := expander(c)
		if err != nil {
			return err
		}
		defer closer()
		ctx, cancel := context.WithTimeout(c.Context, 5*time.Second)
		defer cancel()
		return fn(ctx, c, exp)
	}
}

var gpioLevelCmd = cli.Command{
	Name:      "level",
	Usage:     "sample a host pin, e.g. the interrupt line",
	ArgsUsage: "<pin name>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return console.Exit(1, "expected 1 argument, got %d", c.NArg())
		}
		pin, err := gpio.OpenPin(c.Args().Get(0))
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		high, err := pin.Level(c.Context)
		if err != nil {
			return console.Exit(1, "could not read %s: %s", pin, console.Red(err))
		}
		level := "low"
		if high {
			level = "high"
		}
		console.PInfof(console.PictoPin, "%s is %s", pin, level)
		return nil
	},
}

var gpioReadCmd = cli.Command{
	Name:      "read",
	ArgsUsage: "<hex address>",
	Flags:     []cli.Flag{i2cFlag},
	Action: expanderAction(1, func(ctx context.Context, c *cli.Context, exp *gpio.MCP23017) error {
		ports, err := exp.Read(ctx)
		if err != nil {
			return console.Exit(1, "could not read gpio: %v", err)
		}
		fmt.Printf("\nI/O A: %#X\nI/O B: %#X\n", ports[0], ports[1])
		return nil
	}),
}

var gpioStatusCmd = cli.Command{
	Name:      "status",
	ArgsUsage: "<hex address>",
	Flags:     []cli.Flag{i2cFlag},
	Action: expanderAction(1, func(ctx context.Context, c *cli.Context, exp *gpio.MCP23017) error {
		data, err := exp.Settings(ctx, gpio.PortA)
		if err != nil {
			return console.Exit(1, "could not read settings: %v", err)
		}
		fmt.Printf("\nIOCON content: %#X\n", data)
		return nil
	}),
}

var gpioConfigureCmd = cli.Command{
	Name:      "configure",
	ArgsUsage: "<hex address> <hex iocon>",
	Flags:     []cli.Flag{i2cFlag},
	Action: expanderAction(2, func(ctx context.Context, c *cli.Context, exp *gpio.MCP23017) error {
		data, err := hex.DecodeString(c.Args().Get(1))
		if err != nil || len(data) == 0 {
			return console.Exit(1, "could not decode data %q", c.Args().Get(1))
		}
		if err := exp.WriteSettings(ctx, gpio.PortA, data[0]); err != nil {
			return console.Exit(1, "could not write settings: %v", err)
		}
		fmt.Printf("\nWrote IOCON content: %#X\n", data[0])
		return nil
	}),
}

var gpioPullCmd = cli.Command{
	Name:      "pull",
	ArgsUsage: "<hex address> <hex pull-ups A> [hex pull-ups B]",
	Flags:     []cli.Flag{i2cFlag},
	Action: func(c *cli.Context) error {
		if c.NArg() == 3 {
			return pull(c, c.Args().Get(1), c.Args().Get(2))
		}
		return pull(c, c.Args().Get(1), "")
	},
}

func pull(c *cli.Context, a, b string) error {
	if c.NArg() < 2 {
		return console.Exit(1, "expected at least 2 arguments, got %d", c.NArg())
	}
	exp, closer, err := expander(c)
	if err != nil {
		return err
	}
	defer closer()
	ctx, cancel := context.WithTimeout(c.Context, 5*time.Second)
	defer cancel()
	for _, p := range []struct {
		port gpio.Port
		arg  string
	}{{gpio.PortA, a}, {gpio.PortB, b}} {
		if p.arg == "" {
			continue
		}
		data, err := hex.DecodeString(p.arg)
		if err != nil || len(data) == 0 {
			return console.Exit(1, "could not decode data %q", p.arg)
		}
		if err := exp.PullUp(ctx, p.port, data[0]); err != nil {
			return console.Exit(1, "could not write pull up settings: %v", err)
		}
		fmt.Printf("\nWrote GPPU%s content: %#X\n", p.port, data[0])
	}
	return nil
}
