// Status command: schema version, uuid stamp, and per-volume counters.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print store version, uuid stamp, and per-volume counts",
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
			count, err := st.CountRows(volume)
			if err != nil {
				return err
			}
			gen, err := st.Generation(volume)
			if err != nil {
				return err
			}
			checkpoint, err := st.BackupCheckpoint(volume)
			if err != nil {
				return err
			}
			mode := "stable ids off"
			if st.StableIDsEnabled(volume) {
				mode = "stable ids on"
			}
			fmt.Printf("%s: %d rows, generation %d, backup checkpoint %d (%s)\n",
				volume, count, gen, checkpoint, mode)
		}
		return nil
	},
}
