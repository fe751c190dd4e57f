package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanalite/tanalite/internal/config"
	"github.com/tanalite/tanalite/internal/db"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	flagConfig string
	flagDB     string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tanalite",
	Short: "Mirror a Tana workspace export into a queryable SQLite store",
	Long: `tanalite syncs a Tana JSON export into a local SQLite database with
full-text search over field values.

The store is rebuilt incrementally: each sync diffs the export against
per-node checksums and only touches what changed. Supertag and field
metadata is extracted from the export's structural tuples.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagDB != "" {
			cfg.Database = flagDB
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.config/tanalite/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "override database path")
}

// openStore opens the configured database. ":memory:" opens a
// throwaway store, useful for dry runs.
func openStore() (*db.DB, error) {
	if cfg.Database == ":memory:" {
		return db.OpenMemory()
	}
	return db.Open(cfg.Database)
}

// newLogger returns a logger writing to the rotating log file, falling
// back to stderr when the file cannot be opened.
func newLogger() *log.Logger {
	var w io.Writer = os.Stderr
	if cfg.Log.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		}
	}
	return log.New(w, "[tanalite] ", log.LstdFlags)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
