package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanalite/tanalite/internal/query"
	"github.com/tanalite/tanalite/internal/ui"
)

var flagSearchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Full-text search over field values",
	Long: `Search field values with SQLite FTS5 and print matches in
relevance order. Query terms are matched as whole words; quoting and
FTS operators are not interpreted.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		database, err := openStore()
		if err != nil {
			fatalf("opening database: %v", err)
		}
		defer database.Close()

		q := strings.Join(args, " ")
		hits, err := query.New(database).SearchFieldValues(context.Background(), q, flagSearchLimit)
		if err != nil {
			fatalf("search failed: %v", err)
		}
		if len(hits) == 0 {
			fmt.Printf("No matches for %q\n", q)
			return
		}

		for _, h := range hits {
			fmt.Printf("%s  %s: %s\n", ui.RenderDim(h.ParentID),
				ui.RenderAccent(h.FieldName), h.ValueText)
		}
	},
}

func init() {
	searchCmd.Flags().IntVar(&flagSearchLimit, "limit", 50, "maximum number of hits")
	rootCmd.AddCommand(searchCmd)
}
