package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"grimm.is/knockgate/internal/brand"
	"grimm.is/knockgate/internal/config"
)

var reloadPidFile string

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask the running gateway to reload its configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunReload(cmd.OutOrStdout(), configPath, reloadPidFile)
	},
}

func init() {
	reloadCmd.Flags().StringVar(&reloadPidFile, "pid-file", brand.GetPidPath(), "pid file written by serve")
	rootCmd.AddCommand(reloadCmd)
}

// RunReload validates the configuration file, then sends SIGHUP to the
// running gateway. An invalid file is never signalled.
func RunReload(out io.Writer, path, pidFile string) error {
	fmt.Fprintf(out, "Validating configuration: %s\n", path)
	if _, err := config.LoadFile(path); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	fmt.Fprintln(out, "Configuration is valid.")

	pid, err := readPidFile(pidFile)
	if err != nil {
		return err
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	fmt.Fprintf(out, "Sending SIGHUP to process %d...\n", pid)
	if err := process.Signal(unix.SIGHUP); err != nil {
		return fmt.Errorf("failed to signal process: %w", err)
	}
	fmt.Fprintln(out, "Reload signal sent successfully.")
	return nil
}
