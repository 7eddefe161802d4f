package cmd

import (
	"fmt"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

// TestCmd runs the unit tests. Every touch session scenario runs against
// the simulated controller, so no hardware is needed.
func TestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Run unit tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Test(); err != nil {
				return fmt.Errorf("failed to run tests: %w", err)
			}
			return nil
		},
	}
}

func LintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Run linting",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Lint(); err != nil {
				return fmt.Errorf("failed to run linting: %w", err)
			}
			return nil
		},
	}
}

// CheckCmd lints, then tests.
func CheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run linting and unit tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Lint(); err != nil {
				return fmt.Errorf("lint: %w", err)
			}
			if err := test.Test(); err != nil {
				return fmt.Errorf("test: %w", err)
			}
			return nil
		},
	}
}
