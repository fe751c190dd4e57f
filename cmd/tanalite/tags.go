package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanalite/tanalite/internal/query"
	"github.com/tanalite/tanalite/internal/ui"
)

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List supertags with usage counts",
	Run: func(cmd *cobra.Command, args []string) {
		database, err := openStore()
		if err != nil {
			fatalf("opening database: %v", err)
		}
		defer database.Close()

		tags, err := query.New(database).Supertags(context.Background())
		if err != nil {
			fatalf("listing supertags: %v", err)
		}
		if len(tags) == 0 {
			fmt.Println("No supertags in store")
			return
		}
		for _, t := range tags {
			fmt.Printf("%s  %s (%d)\n", ui.RenderDim(t.TagID),
				ui.RenderAccent("#"+t.TagName), t.Uses)
		}
	},
}

var flagFieldsAll bool

var fieldsCmd = &cobra.Command{
	Use:   "fields <tag-id>",
	Short: "Show the field schema of a supertag",
	Long: `Show the fields a supertag declares. With --all, inherited
fields from parent supertags are included; a field declared at multiple
levels resolves to the nearest declaration.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		database, err := openStore()
		if err != nil {
			fatalf("opening database: %v", err)
		}
		defer database.Close()

		store := query.New(database)
		ctx := context.Background()

		var fields []query.SchemaField
		if flagFieldsAll {
			fields, err = store.AllFields(ctx, args[0])
		} else {
			fields, err = store.OwnFields(ctx, args[0])
		}
		if err != nil {
			fatalf("reading fields: %v", err)
		}
		if len(fields) == 0 {
			fmt.Printf("No fields declared by %s\n", args[0])
			return
		}

		for _, f := range fields {
			line := fmt.Sprintf("%s (%s)", ui.RenderAccent(f.FieldName), f.DataType)
			if f.TargetTagName != "" {
				line += fmt.Sprintf(" -> #%s", f.TargetTagName)
			}
			if f.DefaultValueText != "" {
				line += fmt.Sprintf(" = %q", f.DefaultValueText)
			}
			if f.Inherited {
				line += ui.RenderDim(fmt.Sprintf("  [from #%s]", f.TagName))
			}
			fmt.Println(line)
		}
	},
}

func init() {
	fieldsCmd.Flags().BoolVar(&flagFieldsAll, "all", false, "include inherited fields")
	rootCmd.AddCommand(tagsCmd)
	rootCmd.AddCommand(fieldsCmd)
}
