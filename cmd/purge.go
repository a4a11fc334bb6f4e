package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/courierd/app/plugins"
	"github.com/kilianp07/courierd/core/notify"
	"github.com/kilianp07/courierd/infra/logger"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove notifications older than the retention window",
	Long: `Runs one retention sweep against the configured persistent mailbox and
prints what was removed. Presence lives in the server process and is not
touched.`,
	RunE: runPurge,
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Storage.Mailbox.Type == "memory" {
		return fmt.Errorf("purge needs a persistent mailbox, storage.mailbox.type is %q", cfg.Storage.Mailbox.Type)
	}
	pol := cfg.Dispatch.Policy()
	mb, err := plugins.NewMailbox(cfg.Storage.Mailbox, pol.MailboxCapacity)
	if err != nil {
		return fmt.Errorf("mailbox: %w", err)
	}
	defer func() { _ = mb.Close() }()

	sw, err := notify.NewSweeper(mb, nil, pol, logger.New("purge"), nil)
	if err != nil {
		return err
	}
	res, err := sw.PurgeExpired(context.Background())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
