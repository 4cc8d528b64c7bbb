package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	stats, err := a.svc.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	printResult(cmd.OutOrStdout(), stats, func(w io.Writer) {
		fmt.Fprintf(w, "memories: %d active, %d archived\n", stats.ActiveMemories, stats.ArchivedMemories)
		for _, p := range stats.Projects {
			name := p.Project
			if name == "" {
				name = "(none)"
			}
			fmt.Fprintf(w, "  %-20s %d\n", name, p.Count)
		}
	})
}
