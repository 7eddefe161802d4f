package cmd

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/gophertribe/devtool/build"
	"github.com/spf13/cobra"
)

type platform struct {
	os, arch string
}

// boards the cli is deployed on next to the panel
var targets = map[string]platform{
	"host":   {runtime.GOOS, runtime.GOARCH},
	"nanopi": {"linux", "arm64"},
	"rpi":    {"linux", "arm"},
}

func targetNames() string {
	names := make([]string, 0, len(targets))
	for n := range targets {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// BuildCmd builds dist/ttsp. The MCP2221 bridge goes through hidapi,
// so cross builds run in the cgo toolchain image.
func BuildCmd() *cobra.Command {
	var (
		target  string
		version string
		noCache bool
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the ttsp cli",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ok := targets[target]
			if !ok {
				return fmt.Errorf("unknown target %q, use one of: %s", target, targetNames())
			}
			out := "dist/ttsp"
			if target != "host" {
				out = fmt.Sprintf("dist/ttsp-%s-%s", p.os, p.arch)
			}
			native := p.os == runtime.GOOS && p.arch == runtime.GOARCH
			if native || cmd.Flags().Changed("in-container") {
				return build.GoBuild(out, "./cmd/ttsp", build.GoBuildOpts{
					Version:       version,
					InjectVersion: true,
					ConfigPackage: "main",
					EnableCgo:     true,
					Arch:          p.arch,
					OS:            p.os,
				})
			}
			return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", p.os, p.arch),
				[]string{"build", "--target", target, "--version", version, "--in-container"},
				build.DockerBuildOpts{
					NoCache: noCache,
					Image:   "gophertribe/gobuild:1.25-bookworm",
				})
		},
	}
	cmd.Flags().StringVar(&target, "target", "host", "board to build for: "+targetNames())
	cmd.Flags().StringVar(&version, "version", "latest", "version stamped into the binary")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "do not use the docker build cache")
	cmd.Flags().Bool("in-container", false, "build directly, used inside the toolchain image")
	_ = cmd.Flags().MarkHidden("in-container")
	return cmd
}
