// Package cmd implements the knockgate command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"grimm.is/knockgate/internal/brand"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           brand.BinaryName,
	Short:         brand.Description,
	Long:          brand.Tagline + ".\n\nClients open a URL with their passcode; the gateway adds their address to\nthe device white list and bans addresses that probe anything else.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", brand.GetConfigPath(), "configuration file (HCL, JSON or YAML)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", brand.BinaryName, err)
		os.Exit(1)
	}
}
