package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func qualityCmd(use, what string, run func() error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: "Run " + what,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(); err != nil {
				return fmt.Errorf("failed to run %s: %w", what, err)
			}
			return nil
		},
	}
}

func TestCmd() *cobra.Command {
	return qualityCmd("test", "tests", func() error { return test.Test() })
}

func LintCmd() *cobra.Command {
	return qualityCmd("lint", "linting", func() error { return test.Lint() })
}

func IntegrationTestCmd() *cobra.Command {
	return qualityCmd("integration-test", "integration testing", func() error { return test.Integ() })
}

// SmokeCmd runs the poll loop against the simulated bus.
func SmokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run the poll loop for a few iterations on the simulated bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := cmd.Flags().GetInt("iterations")
			if err != nil {
				return fmt.Errorf("could not get iterations flag: %w", err)
			}
			run := exec.CommandContext(cmd.Context(), "go", "run", mainPackage,
				"run", "--adapter", "sim", "--iterations", strconv.Itoa(n), "--interval", "100ms")
			run.Stdout = os.Stdout
			run.Stderr = os.Stderr
			slog.Info("running smoke test", "iterations", n)
			if err := run.Run(); err != nil {
				return fmt.Errorf("smoke run failed: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().Int("iterations", 5, "number of poll iterations")
	return cmd
}
