package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/semantic-memory/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "save [text]",
		Short: "Save a memory",
		Long:  "Save a memory. Text can be a positional arg or piped via stdin. Saving text that is already stored returns the existing id.",
		Run:   runSave,
	}

	cmd.Flags().StringP("project", "p", "", "Project name")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")

	RootCmd.AddCommand(cmd)
}

func runSave(cmd *cobra.Command, args []string) {
	project, _ := cmd.Flags().GetString("project")
	tagsStr, _ := cmd.Flags().GetString("tags")

	text, err := readText(args, os.Stdin)
	if err != nil {
		exitErr("save", err)
	}
	if strings.TrimSpace(text) == "" {
		exitErr("save", fmt.Errorf("text is required (positional arg or stdin)"))
	}

	a := mustOpenApp()
	defer a.Close()

	res, err := a.svc.Save(cmd.Context(), memory.SaveParams{
		Text:    text,
		Project: project,
		Tags:    parseTags(tagsStr),
	})
	if err != nil {
		exitErr("save", err)
	}

	printResult(cmd.OutOrStdout(), res, func(w io.Writer) {
		fmt.Fprintf(w, "%s %s\n", res.Reason, res.ID)
	})
}
