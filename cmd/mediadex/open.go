// Open command: migrate the store to the latest schema, recovering from the
// backup log when the migration was destructive.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open the store, migrating the schema and recovering if needed",
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

		stamp, err := st.GetOrCreateUUID()
		if err != nil {
			return err
		}
		fmt.Printf("schema version: %d\n", st.Version())
		fmt.Printf("uuid: %s\n", stamp)
		for _, volume := range st.MountedVolumes() {
			if stats, ok := st.RecoveryStats(volume); ok {
				fmt.Printf("%s: recovered %d, skipped dirty %d, collisions %d\n",
					volume, stats.Recovered, stats.SkippedDirty, stats.Collisions)
			}
		}
		return nil
	},
}
