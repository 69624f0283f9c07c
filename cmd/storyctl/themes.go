package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kidsdream/api/internal/domain"
)

var themesCmd = &cobra.Command{
	Use:   "themes",
	Short: "List the themes and age groups the corpus supports",
	RunE: func(cmd *cobra.Command, args []string) error {
		corpus, err := loadCorpus()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tLABEL")
		for _, theme := range corpus.Themes() {
			fmt.Fprintf(w, "%s\t%s\n", theme.Key, theme.Label)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		groups := make([]string, 0, 3)
		for _, group := range domain.AgeGroups() {
			groups = append(groups, string(group))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nAge groups: %s\n", strings.Join(groups, ", "))
		return nil
	},
}
