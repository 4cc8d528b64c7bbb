package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long:  "Export active memories as a JSON array, newest first. Filter by project with -p. Embeddings are not exported.",
		Run:   runExport,
	}

	cmd.Flags().StringP("project", "p", "", "Filter by project")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	project, _ := cmd.Flags().GetString("project")

	a := mustOpenApp()
	defer a.Close()

	records, err := a.svc.Export(cmd.Context(), project)
	if err != nil {
		exitErr("export", err)
	}

	printResult(cmd.OutOrStdout(), records, nil)
}
