package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"grimm.is/knockgate/internal/clock"
	"grimm.is/knockgate/internal/config"
	"grimm.is/knockgate/internal/credentials"
)

var checkCmd = &cobra.Command{
	Use:   "check [config-file]",
	Short: "Validate a configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) == 1 {
			path = args[0]
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		urls, _ := cmd.Flags().GetBool("urls")
		return RunCheck(cmd.OutOrStdout(), path, CheckOptions{Verbose: verbose, KnockURLs: urls})
	},
}

func init() {
	checkCmd.Flags().BoolP("verbose", "v", false, "print the effective configuration")
	checkCmd.Flags().Bool("urls", false, "print each user's knock URL (contains the passcode)")
	rootCmd.AddCommand(checkCmd)
}

// CheckOptions selects the extra output of RunCheck.
type CheckOptions struct {
	Verbose   bool // redacted effective configuration and the users table
	KnockURLs bool // url_prefix based knock URL per user, passcodes in clear
}

// RunCheck validates the configuration file syntax and semantics.
func RunCheck(out io.Writer, path string, opts CheckOptions) error {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	gen := cfg.General

	fmt.Fprintln(out, "Configuration valid!")
	fmt.Fprintf(out, "Listen:    %s\n", gen.ListenAddress())
	fmt.Fprintf(out, "Device:    %s (%s)\n", cfg.Device.Host, cfg.Device.DeviceType)
	fmt.Fprintf(out, "Lists:     %s / %s\n", gen.WhiteList, gen.BlackList)
	fmt.Fprintf(out, "Threshold: %d\n", gen.BlackThreshold)
	fmt.Fprintf(out, "Users:     %d\n", len(cfg.Users))

	if opts.Verbose {
		data, err := config.GenerateHCL(cfg.Redacted())
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		out.Write(data)
		fmt.Fprintln(out)

		users, err := credentials.New(cfg.Users)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, usersTable(users.Users(), clock.Now()))
	}
	if opts.KnockURLs {
		fmt.Fprintln(out)
		fmt.Fprintln(out, knockURLTable(gen, cfg.Users))
	}
	return nil
}
