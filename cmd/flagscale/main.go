// Command flagscale runs, tests, stops, queries and auto-tunes train,
// inference, serve, compress and rl jobs from a YAML config.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "0.0.0"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "flagscale",
		Short:         "FlagScale CLI - comprehensive toolkit for large model lifecycle.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetVersionTemplate("flagscale version {{.Version}}\n")

	root.AddCommand(
		newRunCmd(),
		newTrainCmd(),
		newServeCmd(),
		newInferenceCmd(),
		newRLCmd(),
		newCompressCmd(),
		newAPICmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "flagscale version %s\n", version)
		},
	}
}
