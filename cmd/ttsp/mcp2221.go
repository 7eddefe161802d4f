package main

import (
	"github.com/mklimuk/ttsp/adapter"
	"github.com/mklimuk/ttsp/cmd/ttsp/console"
	"github.com/urfave/cli/v2"
)

var bridgeIndexFlag = &cli.IntFlag{Name: "index", Usage: "bridge index as listed by usb detect"}

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "MCP2221 USB to I2C bridge",
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
		&mcp2221GPIOCmd,
		&mcp2221SetCmd,
	},
}

func bridge(c *cli.Context) *adapter.MCP2221 {
	return adapter.NewMCP2221(adapter.WithDeviceIndex(c.Int("index")))
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Flags: []cli.Flag{bridgeIndexFlag},
	Action: func(c *cli.Context) error {
		status, err := bridge(c).Status(c.Context)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return printYAML(status)
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current I2C transfer and release the bus",
	Flags: []cli.Flag{bridgeIndexFlag},
	Action: func(c *cli.Context) error {
		status, err := bridge(c).ReleaseBus(c.Context)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return printYAML(status)
	},
}

var mcp2221GPIOCmd = cli.Command{
	Name:  "gpio",
	Usage: "print GP pin settings and levels",
	Flags: []cli.Flag{bridgeIndexFlag},
	Action: func(c *cli.Context) error {
		a := bridge(c)
		params, err := a.GetGPIOParameters(c.Context)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		values, err := a.ReadGPIO(c.Context)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return printYAML(map[string]any{"parameters": params, "values": values})
	},
}

var mcp2221SetCmd = cli.Command{
	Name:      "set",
	Usage:     "drive a GP output pin, e.g. to pulse a reset line by hand",
	ArgsUsage: "<pin> <0|1>",
	Flags:     []cli.Flag{bridgeIndexFlag},
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return console.Exit(1, "expected 2 arguments, got %d", c.NArg())
		}
		pin, _, err := intArgs(c.Args().Get(0), "0")
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		p, err := bridge(c).Pin(pin)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		high := c.Args().Get(1) == "1"
		if err := p.Set(c.Context, high); err != nil {
			return console.Exit(1, "could not drive %s: %s", p, console.Red(err))
		}
		console.PInfof(console.PictoPin, "%s set to %s", p, c.Args().Get(1))
		return nil
	},
}
