package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanalite/tanalite/internal/config"
	"github.com/tanalite/tanalite/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Write the default configuration to the config path (or the
path given with --config). Refuses to overwrite an existing file.`,
	Run: func(cmd *cobra.Command, args []string) {
		path := flagConfig
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.WriteDefault(path); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
