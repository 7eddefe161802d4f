package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/mklimuk/ttsp/cmd/ttsp/console"
	"github.com/mklimuk/ttsp/config"
	"github.com/mklimuk/ttsp/ttspctx"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"
)

var version string
var commit string
var date string

func main() {
	os.Exit(run())
}

func run() int {
	app := cli.NewApp()
	app.Name = "ttsp"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", version, date, commit)
	app.Usage = "TrueTouch controller cli"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging and frame dumps",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   config.DefaultPath,
			Usage:   "device configuration file",
			EnvVars: []string{"TTSP_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "device",
			Aliases: []string{"d"},
			Usage:   "configured device name, may be omitted when only one is configured",
		},
		&cli.StringFlag{
			Name:  "trace",
			Usage: "record every register transfer to this file",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stdout, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if ctx.Bool("verbose") {
			charm.SetLevel(chlog.DebugLevel)
			console.Trace = true
		}
		slog.SetDefault(slog.New(charm))
		ctx.Context = ttspctx.SetVerbose(ctx.Context, ctx.Bool("verbose"))
		return nil
	}
	app.Commands = cli.Commands{
		&infoCmd,
		&watchCmd,
		&sleepCmd,
		&wakeCmd,
		&restartCmd,
		&calibrateCmd,
		&configCmd,
		&paramCmd,
		&scanTypeCmd,
		&scanCmd,
		&traceCmd,
		&usbCmd,
		&mcp2221Cmd,
		&gpioCmd,
	}
	err := app.Run(os.Args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			log.Printf("unexpected error: %v", err)
			return exerr.ExitCode()
		}
		log.Printf("unexpected error: %v", err)
		return 1
	}
	return 0
}
