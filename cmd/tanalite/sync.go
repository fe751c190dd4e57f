package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanalite/tanalite/internal/db"
	"github.com/tanalite/tanalite/internal/sync"
	"github.com/tanalite/tanalite/internal/ui"
)

var (
	flagForce    bool
	flagSyncJSON bool
)

var syncCmd = &cobra.Command{
	Use:   "sync <export.json>",
	Short: "Sync an export file into the store",
	Long: `Sync a Tana JSON export into the SQLite store.

By default the sync is incremental: nodes whose checksum is unchanged
are skipped. A store with nodes but no checksums (created by an older
version) triggers a full reindex automatically. Use --force to rebuild
everything regardless.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		database, err := openStore()
		if err != nil {
			fatalf("opening database: %v", err)
		}
		defer database.Close()

		engine := sync.New(database, newLogger())
		engine.SetRetryConfig(db.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		})

		res, err := engine.Sync(context.Background(), args[0], sync.Options{Force: flagForce})
		if err != nil {
			fatalf("sync failed: %v", err)
		}

		if flagSyncJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				fatalf("encoding result: %v", err)
			}
			return
		}

		mode := "incremental"
		if res.FullReindex {
			mode = "full"
		}
		fmt.Printf("%s Sync complete (%s) in %v\n", ui.RenderPass("✓"), mode,
			(time.Duration(res.DurationMs) * time.Millisecond).Round(time.Millisecond))
		fmt.Printf("   Nodes: %d (+%d ~%d -%d)\n", res.NodesIndexed,
			res.NodesAdded, res.NodesModified, res.NodesDeleted)
		fmt.Printf("   Supertags: %d  Tag applications: %d\n",
			res.SupertagsIndexed, res.TagApplicationsIndexed)
		fmt.Printf("   Field values: %d  References: %d\n",
			res.FieldValuesIndexed, res.ReferencesIndexed)
		if res.EmbeddingsCleaned > 0 {
			fmt.Printf("   Embeddings cleaned: %d\n", res.EmbeddingsCleaned)
		}
	},
}

func init() {
	syncCmd.Flags().BoolVar(&flagForce, "force", false, "force a full reindex")
	syncCmd.Flags().BoolVar(&flagSyncJSON, "json", false, "print the sync result as JSON")
	rootCmd.AddCommand(syncCmd)
}
