package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/mklimuk/ttsp/cmd/dev/cmd"
)

func main() {
	var debug bool
	root := &cobra.Command{
		Use:   "dev",
		Short: "Build and check the ttsp cli",
		PersistentPreRun: func(*cobra.Command, []string) {
			slog.SetDefault(slog.New(devLogger(debug)))
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.AddCommand(cmd.BuildCmd(), cmd.TestCmd(), cmd.LintCmd(), cmd.CheckCmd())

	if err := root.Execute(); err != nil {
		slog.Error("dev command failed", "error", err)
		os.Exit(1)
	}
}

func devLogger(debug bool) *log.Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "dev",
		Level:           log.InfoLevel,
	})
	l.SetColorProfile(termenv.TrueColor)
	if debug {
		l.SetLevel(log.DebugLevel)
		l.SetReportCaller(true)
	}
	return l
}
