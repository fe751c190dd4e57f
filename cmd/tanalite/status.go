package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanalite/tanalite/internal/query"
	"github.com/tanalite/tanalite/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store status",
	Long: `Display the current state of the SQLite store.

Shows the store location and size, last synced export file and time,
and row counts for the main tables.`,
	Run: func(cmd *cobra.Command, args []string) {
		info, err := os.Stat(cfg.Database)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Store not initialized at %s\n", ui.RenderWarn("⚠"), cfg.Database)
			fmt.Printf("   Run 'tanalite sync <export.json>' to create it\n\n")
			return
		}
		if err != nil {
			fatalf("checking store: %v", err)
		}

		database, err := openStore()
		if err != nil {
			fatalf("opening database: %v", err)
		}
		defer database.Close()

		st, err := query.New(database).GetStatus(context.Background())
		if err != nil {
			fatalf("reading status: %v", err)
		}

		fmt.Printf("\n%s Store Status\n\n", ui.RenderAccent("tanalite"))
		fmt.Printf("Location: %s\n", cfg.Database)
		fmt.Printf("Size: %s\n", humanSize(info.Size()))
		fmt.Printf("Schema version: %d\n", st.SchemaVersion)
		if st.LastSyncAt > 0 {
			fmt.Printf("Last sync: %s (%s)\n",
				time.UnixMilli(st.LastSyncAt).Format("2006-01-02 15:04:05"),
				st.LastExportFile)
		} else {
			fmt.Printf("Last sync: never\n")
		}
		fmt.Printf("Nodes: %d\n", st.TotalNodes)
		fmt.Printf("Supertags: %d\n", st.Supertags)
		fmt.Printf("Field values: %d\n", st.FieldValues)
		fmt.Printf("References: %d\n", st.References)
		fmt.Println()
	},
}

func humanSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
