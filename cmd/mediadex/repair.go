// Repair command: explicitly replay the backup log into the store for every
// stable-id volume. Rows already present keep their ids; collisions are
// reported, not overwritten.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/mediadex/internal/backup"
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Replay the backup log into the store for stable-id volumes",
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

		rec := backup.NewRecovery(log, logs)
		for _, volume := range st.MountedVolumes() {
			if !st.StableIDsEnabled(volume) {
				continue
			}
			stats, err := rec.Recover(st, volume)
			if err != nil {
				fmt.Printf("%s: backup unavailable: %v\n", volume, err)
				continue
			}
			fmt.Printf("%s: recovered %d, skipped dirty %d, collisions %d\n",
				volume, stats.Recovered, stats.SkippedDirty, stats.Collisions)
		}
		return nil
	},
}
