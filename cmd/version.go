package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"grimm.is/knockgate/internal/brand"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit %s, built %s, %s)\n",
			brand.Name, brand.Version, brand.GitCommit, brand.BuildTime, brand.BuildArch)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
