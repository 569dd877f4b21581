// Backup command: one maintenance pass of the backup writer. Interrupt
// signals cancel between batches, leaving the checkpoint consistent for the
// next pass.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/mediadex/internal/backup"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run one backup maintenance pass over all stable-id volumes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		st, logs, err := openIndex(log)
		if err != nil {
			return err
		}
		defer func() {
			_ = st.Close()
			_ = logs.Close()
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		writer := backup.NewWriter(log, st, logs)
		if err := writer.RunPass(ctx); err != nil {
			return err
		}
		fmt.Println("backup pass complete")
		return nil
	},
}
