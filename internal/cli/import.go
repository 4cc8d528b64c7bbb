package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/semantic-memory/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import memories from JSON",
		Long:  "Import memories from a JSON array on stdin. Expects the format produced by export; text already stored is skipped.",
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}

	records, err := parseImport(data)
	if err != nil {
		exitErr("parse json", err)
	}

	a := mustOpenApp()
	defer a.Close()

	res, err := a.svc.Import(cmd.Context(), records)
	if err != nil {
		exitErr("import", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"created":%d,"duplicates":%d}`+"\n", res.Created, res.Duplicates)
}

func parseImport(data []byte) ([]memory.SaveParams, error) {
	var records []memory.ExportRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	// Exports are newest first; save oldest first so relative order survives.
	params := make([]memory.SaveParams, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		params = append(params, memory.SaveParams{Text: r.Text, Project: r.Project, Tags: r.Tags})
	}
	return params, nil
}
