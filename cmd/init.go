package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"grimm.is/knockgate/internal/brand"
	"grimm.is/knockgate/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example configuration file",
	Long:  "Write an example configuration to --config. An existing file is never overwritten.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Example(brand.GetStateDir(), brand.GetLogDir())
		if err := config.SaveFile(cfg, configPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Example configuration written to %s\nEdit the device and user sections, then run: %s check\n", configPath, brand.BinaryName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
