// Root command for the mediadex CLI.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/mediadex/internal/backup"
	"github.com/mesh-intelligence/mediadex/internal/paths"
	"github.com/mesh-intelligence/mediadex/internal/store"
	"github.com/mesh-intelligence/mediadex/pkg/types"
)

// Version is the CLI version string.
const Version = "0.1.0"

// Global flag values.
var (
	flagConfigDir string
	flagDataDir   string
	flagVerbose   bool
)

// cfg is the effective configuration, loaded by PersistentPreRunE.
var cfg types.Config

var rootCmd = &cobra.Command{
	Use:     "mediadex",
	Short:   "Mediadex maintains the persistent relational store behind a shared media index",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configDir, err := paths.ResolveConfigDir(flagConfigDir)
		if err != nil {
			return err
		}
		loaded, err := loadConfig(configDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dataDir, err := paths.ResolveDataDir(flagDataDir, loaded.DataDir)
		if err != nil {
			return err
		}
		cfg = loaded
		cfg.DataDir = dataDir
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "configuration directory (default: platform config dir)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default: $(CWD)/.mediadex-db)")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(statusCmd)
}

// newLogger builds the CLI logger; --verbose switches to the development
// encoder with debug output.
func newLogger() (*zap.Logger, error) {
	if flagVerbose {
		return zap.NewDevelopment()
	}
	logCfg := zap.NewProductionConfig()
	logCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return logCfg.Build()
}

// openIndex opens the store with recovery wired in, plus the backup log set
// for commands that need it. The caller closes both.
func openIndex(log *zap.Logger) (*store.Store, *backup.Logs, error) {
	logs := backup.NewLogs(log, cfg.DataDir)
	rec := backup.NewRecovery(log, logs)
	st, err := store.Open(cfg, store.Options{
		Logger:  log,
		Recover: rec.Recover,
	})
	if err != nil {
		_ = logs.Close()
		return nil, nil, err
	}
	return st, logs, nil
}
