package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanalite/tanalite/internal/query"
	"github.com/tanalite/tanalite/internal/ui"
)

var nodeCmd = &cobra.Command{
	Use:   "node <id>",
	Short: "Show a node with its tags and fields",
	Long: `Print one node: its name, timestamps, directly applied
supertags, field values, and the nearest tagged ancestor when the node
itself is untagged.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		database, err := openStore()
		if err != nil {
			fatalf("opening database: %v", err)
		}
		defer database.Close()

		store := query.New(database)
		ctx := context.Background()

		n, err := store.GetNode(ctx, args[0])
		if errors.Is(err, query.ErrNotFound) {
			fatalf("node %s not found", args[0])
		}
		if err != nil {
			fatalf("reading node: %v", err)
		}

		fmt.Printf("\n%s %s\n", ui.RenderAccent(n.ID), n.Name)
		fmt.Printf("Created: %s\n", time.UnixMilli(n.CreatedAt).Format("2006-01-02 15:04:05"))
		if n.UpdatedAt > 0 {
			fmt.Printf("Updated: %s\n", time.UnixMilli(n.UpdatedAt).Format("2006-01-02 15:04:05"))
		}
		if n.DoneAt > 0 {
			fmt.Printf("Done: %s\n", time.UnixMilli(n.DoneAt).Format("2006-01-02 15:04:05"))
		}
		if n.ParentID != "" {
			fmt.Printf("Parent: %s\n", n.ParentID)
		}

		tags, err := store.Tags(ctx, n.ID)
		if err != nil {
			fatalf("reading tags: %v", err)
		}
		for _, t := range tags {
			fmt.Printf("Tag: %s\n", ui.RenderAccent("#"+t.TagName))
		}
		if len(tags) == 0 {
			anc, ancTags, err := store.NearestTaggedAncestor(ctx, n.ID)
			if err != nil {
				fatalf("walking ancestors: %v", err)
			}
			if anc != nil {
				for _, t := range ancTags {
					fmt.Printf("Context: %s under %s\n",
						ui.RenderAccent("#"+t.TagName), ui.RenderDim(anc.ID))
				}
			}
		}

		fields, err := store.NodeFields(ctx, n.ID)
		if err != nil {
			fatalf("reading fields: %v", err)
		}
		for _, f := range fields {
			fmt.Printf("%s: %s\n", ui.RenderAccent(f.FieldName), f.ValueText)
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(nodeCmd)
}
