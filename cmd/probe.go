package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/knockgate/internal/config"
	"grimm.is/knockgate/internal/coordinator"
	"grimm.is/knockgate/internal/device"
	"grimm.is/knockgate/internal/logging"
	"grimm.is/knockgate/internal/routeros"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that the device accepts commands",
	Long:  "Connect to the configured device and write a marker line to its log.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		trace, _ := cmd.Flags().GetBool("trace")
		logger := logging.New(logging.Config{Level: logging.LevelDebug, Output: os.Stderr})

		gw, err := coordinator.DeviceGateway(logger, trace)(cfg.Device)
		if err != nil {
			return err
		}
		defer gw.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
		defer cancel()
		if err := gw.Probe(ctx); err != nil {
			return fmt.Errorf("%w\n%s", err, probeHint(err, cfg.Device))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is reachable; %q written to its log\n", cfg.Device.Host, device.ProbeMessage)
		return nil
	},
}

func init() {
	probeCmd.Flags().Bool("trace", false, "print every word exchanged with the device")
	rootCmd.AddCommand(probeCmd)
}

// probeHint suggests what to check for a failed probe.
func probeHint(err error, dev *config.Device) string {
	var netErr net.Error
	var opErr *net.OpError
	switch {
	case errors.Is(err, routeros.ErrLoginRejected):
		return "check device.username and device.password; the user needs the api and write policies"
	case errors.Is(err, device.ErrPushRejected):
		return "the device refused the command; check the user's policies"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Sprintf("no answer from %s within %s; check routing and firewall rules towards the device", dev.Host, probeTimeout.Truncate(time.Second))
	case errors.As(err, &opErr):
		if dev.IsRouterOS() {
			return fmt.Sprintf("cannot reach %s; make sure the api service is enabled (/ip service enable %s)", dev.Host, apiService(dev))
		}
		return fmt.Sprintf("cannot reach %s; check device.host and device.ssh_port", dev.Host)
	default:
		return "check the device section of the configuration"
	}
}

func apiService(dev *config.Device) string {
	if dev.IsSecure() {
		return "api-ssl"
	}
	return "api"
}
