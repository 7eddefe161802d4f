package main

import (
	"strconv"

	"github.com/mklimuk/ttsp/cmd/ttsp/console"
	"github.com/mklimuk/ttsp/touch"
	"github.com/urfave/cli/v2"
)

var paramCmd = cli.Command{
	Name:  "param",
	Usage: "controller RAM parameters",
	Subcommands: cli.Commands{
		&paramGetCmd,
		&paramSetCmd,
	},
}

var paramGetCmd = cli.Command{
	Name:      "get",
	ArgsUsage: "<id>",
	Action: withDevice(func(c *cli.Context, d *device) error {
		if c.NArg() != 1 {
			return console.Exit(1, "expected 1 argument, got %d", c.NArg())
		}
		id, err := parseByte(c.Args().Get(0))
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		v, err := d.core.GetParameter(c.Context, id)
		if err != nil {
			return console.Exit(1, "could not read parameter: %s", console.Red(err))
		}
		console.Printf("0x%02X = %d (0x%X)\n", id, v, v)
		return nil
	}),
}

var paramSetCmd = cli.Command{
	Name:      "set",
	ArgsUsage: "<id> <value>",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "size", Value: 1, Usage: "parameter size in bytes: 1, 2 or 4"},
	},
	Action: withDevice(func(c *cli.Context, d *device) error {
		if c.NArg() != 2 {
			return console.Exit(1, "expected 2 arguments, got %d", c.NArg())
		}
		id, err := parseByte(c.Args().Get(0))
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		v, err := strconv.ParseUint(c.Args().Get(1), 0, 32)
		if err != nil {
			return console.Exit(1, "invalid value %q", c.Args().Get(1))
		}
		if err := d.core.SetParameter(c.Context, id, c.Int("size"), uint32(v)); err != nil {
			return console.Exit(1, "could not write parameter: %s", console.Red(err))
		}
		console.PInfof(console.PictoWrench, "0x%02X set to %d", id, v)
		return nil
	}),
}

var scanTypeCmd = cli.Command{
	Name:      "scantype",
	Usage:     "enable or disable a scan type (apa-mc, glove, stylus, proximity)",
	ArgsUsage: "<type> <on|off>",
	Action: withDevice(func(c *cli.Context, d *device) error {
		if c.NArg() != 2 {
			return console.Exit(1, "expected 2 arguments, got %d", c.NArg())
		}
		t, err := touch.ParseScanType(c.Args().Get(0))
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		switch c.Args().Get(1) {
		case "on":
			err = d.core.EnableScanType(c.Context, t)
		case "off":
			err = d.core.DisableScanType(c.Context, t)
		default:
			return console.Exit(1, "expected on or off, got %q", c.Args().Get(1))
		}
		if err != nil {
			return console.Exit(1, "could not change %s: %s", t, console.Red(err))
		}
		console.PInfof(console.PictoWrench, "%s %s", t, c.Args().Get(1))
		return nil
	}),
}
