package main

import (
	"github.com/spf13/cobra"
)

var corpusPath string

var rootCmd = &cobra.Command{
	Use:   "storyctl",
	Short: "Generate children's stories from the story corpus",
	Long: `storyctl runs the story synthesis engine locally.

It uses the corpus compiled into the binary unless --corpus points at a
YAML override, and renders stories as text, JSON, markdown or HTML.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&corpusPath, "corpus", "", "corpus YAML file (default: embedded corpus)",
	)

	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(themesCmd)
	rootCmd.AddCommand(versionCmd)
}
