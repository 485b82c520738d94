// Command searchkit serves and queries a searchkit deployment described by a
// YAML configuration file and SEARCHKIT_* environment overrides.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "searchkit",
		Short:         "Resilient search over a cache and a primary store",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("SEARCHKIT_CONFIG"), "path to the YAML configuration")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		searchCmd(&configPath),
		healthCmd(&configPath),
		invalidateCmd(&configPath),
		indexCmd(&configPath),
	)

	return rootCmd
}
