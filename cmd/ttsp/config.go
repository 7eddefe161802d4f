package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mklimuk/ttsp/cmd/ttsp/console"
	"github.com/mklimuk/ttsp/touch"
	"github.com/urfave/cli/v2"
)

var ebidFlag = &cli.UintFlag{Name: "ebid", Value: 0, Usage: "configuration block id"}

var configCmd = cli.Command{
	Name:  "config",
	Usage: "controller configuration memory",
	Subcommands: cli.Commands{
		&configReadCmd,
		&configWriteCmd,
		&configVerifyCmd,
		&configCRCCmd,
		&configInfoCmd,
	},
}

var configReadCmd = cli.Command{
	Name:      "read",
	Usage:     "dump configuration bytes",
	ArgsUsage: "<offset> <length>",
	Flags:     []cli.Flag{ebidFlag},
	Action: withDevice(func(c *cli.Context, d *device) error {
		if c.NArg() != 2 {
			return console.Exit(1, "expected 2 arguments, got %d", c.NArg())
		}
		offset, length, err := intArgs(c.Args().Get(0), c.Args().Get(1))
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		data, err := d.core.ReadConfig(c.Context, byte(c.Uint("ebid")), offset, length)
		if err != nil {
			return console.Exit(1, "could not read config: %s", console.Red(err))
		}
		console.Print(hex.Dump(data))
		return nil
	}),
}

var configWriteCmd = cli.Command{
	Name:      "write",
	Usage:     "write hex encoded bytes at offset; the stored checksum is updated",
	ArgsUsage: "<offset> <hex data>",
	Flags: []cli.Flag{
		ebidFlag,
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: withDevice(func(c *cli.Context, d *device) error {
		if c.NArg() != 2 {
			return console.Exit(1, "expected 2 arguments, got %d", c.NArg())
		}
		offset, _, err := intArgs(c.Args().Get(0), "0")
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		data, err := hex.DecodeString(strings.TrimPrefix(c.Args().Get(1), "0x"))
		if err != nil {
			return console.Exit(1, "could not decode data: %v", err)
		}
		ebid := byte(c.Uint("ebid"))
		ok, err := console.Confirm(fmt.Sprintf("write %d bytes at %d of block 0x%02X on %s?", len(data), offset, ebid, d.cfg.Name), c.Bool("yes"))
		if err != nil || !ok {
			console.PInfof(console.PictoStop, "aborted")
			return nil
		}
		if err := d.core.WriteConfig(c.Context, ebid, offset, data); err != nil {
			return console.Exit(1, "could not write config: %s", console.Red(err))
		}
		console.PInfof(console.PictoWrench, "wrote %d bytes", len(data))
		return nil
	}),
}

var configVerifyCmd = cli.Command{
	Name:  "verify",
	Usage: "compare the calculated and stored block checksum",
	Flags: []cli.Flag{ebidFlag},
	Action: withDevice(func(c *cli.Context, d *device) error {
		var calculated, stored uint16
		var match bool
		err := holding(c.Context, d, touch.ModeDiagnostic, func(ctx context.Context) error {
			var err error
			calculated, stored, match, err = d.core.VerifyConfigBlockCRC(ctx, byte(c.Uint("ebid")))
			return err
		})
		if err != nil {
			return console.Exit(1, "could not verify checksum: %s", console.Red(err))
		}
		status := console.Green("match")
		if !match {
			status = console.Red("mismatch")
		}
		console.PInfof(console.PictoKey, "calculated 0x%04X stored 0x%04X %s", calculated, stored, status)
		if !match {
			return console.Exit(2, "stored checksum is stale")
		}
		return nil
	}),
}

var configCRCCmd = cli.Command{
	Name:  "crc",
	Usage: "print the block checksum reported in operational mode",
	Flags: []cli.Flag{ebidFlag},
	Action: withDevice(func(c *cli.Context, d *device) error {
		var crc uint16
		err := holding(c.Context, d, touch.ModeOperational, func(ctx context.Context) error {
			var err error
			crc, err = d.core.BlockCRC(ctx, byte(c.Uint("ebid")))
			return err
		})
		if err != nil {
			return console.Exit(1, "could not read checksum: %s", console.Red(err))
		}
		console.PInfof(console.PictoKey, "0x%04X", crc)
		return nil
	}),
}

var configInfoCmd = cli.Command{
	Name:  "info",
	Usage: "print configuration version, length and row size",
	Action: withDevice(func(c *cli.Context, d *device) error {
		var rowSize int
		err := holding(c.Context, d, touch.ModeDiagnostic, func(ctx context.Context) error {
			var err error
			rowSize, err = d.core.ConfigRowSize(ctx)
			return err
		})
		if err != nil {
			return console.Exit(1, "could not read row size: %s", console.Red(err))
		}
		return printYAML(struct {
			touch.ConfigInfo `yaml:",inline"`
			RowSize          int `yaml:"rowSize"`
		}{d.core.ConfigInfo(), rowSize})
	}),
}

func intArgs(a, b string) (int, int, error) {
	var x, y int
	if _, err := fmt.Sscan(a, &x); err != nil {
		return 0, 0, fmt.Errorf("invalid number %q", a)
	}
	if _, err := fmt.Sscan(b, &y); err != nil {
		return 0, 0, fmt.Errorf("invalid number %q", b)
	}
	if x < 0 || y < 0 {
		return 0, 0, fmt.Errorf("negative offset or length")
	}
	return x, y, nil
}
