package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/knockgate/internal/audit"
	"grimm.is/knockgate/internal/config"
	"grimm.is/knockgate/internal/reputation"
)

var errNoStateDir = errors.New("general.state_dir is not set; nothing is persisted")

var (
	addressesStatus string

	journalSince   time.Duration
	journalAddress string
	journalUser    string
	journalLimit   int
)

var addressesCmd = &cobra.Command{
	Use:   "addresses",
	Short: "List known addresses from the saved state",
	Long: `List the address records saved by the running gateway. The listing
reflects the last periodic save, not live state; use the admin
endpoint /addresses for that.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addressesStatus != "" && !validStatus(addressesStatus) {
			return fmt.Errorf("unknown status %q (want one of %s)", addressesStatus, statusNames())
		}
		dir, err := stateDir(configPath)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, stateFileName)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("no saved state: %w", err)
		}
		p, err := openPersister(path)
		if err != nil {
			return err
		}
		defer p.Close()

		snap, err := p.Load()
		if err != nil {
			return err
		}
		records := snap.Records
		sort.Slice(records, func(i, j int) bool { return records[i].LastSeen.After(records[j].LastSeen) })
		fmt.Fprintln(cmd.OutOrStdout(), addressesTable(records, addressesStatus))
		return nil
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recent decisions from the journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := stateDir(configPath)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, journalFileName)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("no journal (is general.journal enabled?): %w", err)
		}
		store, err := audit.NewStore(path, 0)
		if err != nil {
			return err
		}
		defer store.Close()

		f := audit.Filter{Address: journalAddress, User: journalUser, Limit: journalLimit}
		if journalSince > 0 {
			f.Since = time.Now().Add(-journalSince)
		}
		events, err := store.Query(f)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), journalTable(events))
		return nil
	},
}

func init() {
	addressesCmd.Flags().StringVar(&addressesStatus, "status", "", "only show addresses with this status ("+statusNames()+")")

	journalCmd.Flags().DurationVar(&journalSince, "since", 24*time.Hour, "how far back to look (0 for everything)")
	journalCmd.Flags().StringVar(&journalAddress, "address", "", "only this client address")
	journalCmd.Flags().StringVar(&journalUser, "user", "", "only this user")
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 50, "maximum number of events")

	rootCmd.AddCommand(addressesCmd, journalCmd)
}

func stateDir(path string) (string, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return "", err
	}
	if cfg.General.StateDir == "" {
		return "", errNoStateDir
	}
	return cfg.General.StateDir, nil
}

func validStatus(s string) bool {
	for _, st := range reputation.Statuses {
		if string(st) == s {
			return true
		}
	}
	return false
}

func statusNames() string {
	names := make([]string, len(reputation.Statuses))
	for i, st := range reputation.Statuses {
		names[i] = string(st)
	}
	return strings.Join(names, ", ")
}
