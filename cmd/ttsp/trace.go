package main

import (
	"errors"
	"io"

	"github.com/mklimuk/ttsp/cmd/ttsp/console"
	"github.com/mklimuk/ttsp/trace"
	"github.com/urfave/cli/v2"
)

var traceCmd = cli.Command{
	Name:  "trace",
	Usage: "recorded bus transfers",
	Subcommands: cli.Commands{
		&traceDumpCmd,
	},
}

var traceDumpCmd = cli.Command{
	Name:      "dump",
	ArgsUsage: "<file>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "session"},
		&cli.StringFlag{Name: "register", Usage: "only transfers covering this register"},
		&cli.BoolFlag{Name: "errors", Usage: "only failed transfers"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return console.Exit(1, "expected 1 argument, got %d", c.NArg())
		}
		filter := trace.Filter{
			Session:    c.String("session"),
			Device:     c.String("device"),
			ErrorsOnly: c.Bool("errors"),
		}
		if r := c.String("register"); r != "" {
			reg, err := parseByte(r)
			if err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			addr := uint16(reg)
			filter.Register = &addr
		}
		r, err := trace.OpenReader(c.Args().Get(0), filter)
		if err != nil {
			return console.Exit(1, "could not open trace: %s", console.Red(err))
		}
		defer r.Close()
		session := ""
		for {
			e, err := r.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return console.Exit(1, "corrupted trace: %s", console.Red(err))
			}
			if e.Session != session {
				session = e.Session
				console.PInfof(console.PictoScroll, "session %s %s", console.Bold(session), e.Device)
			}
			if e.Error != "" {
				console.Print(console.Red(e.String()))
				continue
			}
			console.Print(e.String())
		}
	},
}
