package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/semantic-memory/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories by meaning",
		Long:  "Rank stored memories by similarity to the query. Results below the threshold are dropped.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().StringP("project", "p", "", "Filter by project")
	cmd.Flags().IntP("limit", "l", 0, "Max results (default: default_limit from config)")
	cmd.Flags().Float64("threshold", 0, "Minimum similarity (default: similarity_threshold from config)")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	project, _ := cmd.Flags().GetString("project")
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	params := memory.SearchParams{Query: query, Project: project, Limit: limit}
	if cmd.Flags().Changed("threshold") {
		t, _ := cmd.Flags().GetFloat64("threshold")
		params.Threshold = &t
	}

	a := mustOpenApp()
	defer a.Close()

	results, err := a.svc.Search(cmd.Context(), params)
	if err != nil {
		exitErr("search", err)
	}

	printResult(cmd.OutOrStdout(), results, func(w io.Writer) {
		for _, r := range results {
			fmt.Fprintf(w, "%.4f  %s  %s\n", r.Score, r.ID, r.Text)
		}
	})
}
