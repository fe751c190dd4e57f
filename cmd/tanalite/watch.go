package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tanalite/tanalite/internal/db"
	"github.com/tanalite/tanalite/internal/sync"
	"github.com/tanalite/tanalite/internal/ui"
	"github.com/tanalite/tanalite/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a directory and sync exports as they land",
	Long: `Watch a directory for export files and sync each one after it
settles. Writes are debounced so a half-written export is never synced.

Runs in the foreground until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := cfg.ExportDir
		if len(args) == 1 {
			dir = args[0]
		}
		if _, err := os.Stat(dir); err != nil {
			fatalf("export directory: %v", err)
		}

		database, err := openStore()
		if err != nil {
			fatalf("opening database: %v", err)
		}
		defer database.Close()

		logger := newLogger()
		engine := sync.New(database, logger)
		engine.SetRetryConfig(db.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		})

		w, err := watch.New(cfg.Watch.Debounce)
		if err != nil {
			fatalf("creating watcher: %v", err)
		}
		if err := w.Start(dir); err != nil {
			fatalf("starting watcher: %v", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Watching %s (Ctrl+C to stop)\n", ui.RenderAccent("tanalite"), dir)
		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nStopping")
				if err := w.Stop(); err != nil {
					logger.Printf("watcher shutdown: %v", err)
				}
				return

			case trig := <-w.Triggers():
				fmt.Printf("%s Export changed: %s\n", ui.RenderDim("•"), trig.Path)
				res, err := engine.Sync(ctx, trig.Path, sync.Options{})
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s Sync failed: %v\n", ui.RenderErr("✗"), err)
					continue
				}
				fmt.Printf("%s Synced %d nodes (+%d ~%d -%d)\n", ui.RenderPass("✓"),
					res.NodesIndexed, res.NodesAdded, res.NodesModified, res.NodesDeleted)

			case err := <-w.Errors():
				fmt.Fprintf(os.Stderr, "%s Watcher error: %v\n", ui.RenderWarn("⚠"), err)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
