package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	archive := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a memory",
		Long:  "Archive a memory. Archived memories are hidden from search and no longer block saving the same text.",
		Args:  cobra.ExactArgs(1),
		Run:   func(cmd *cobra.Command, args []string) { runSetArchived(cmd, args[0], true) },
	}
	unarchive := &cobra.Command{
		Use:   "unarchive <id>",
		Short: "Restore an archived memory",
		Args:  cobra.ExactArgs(1),
		Run:   func(cmd *cobra.Command, args []string) { runSetArchived(cmd, args[0], false) },
	}

	RootCmd.AddCommand(archive, unarchive)
}

func runSetArchived(cmd *cobra.Command, id string, archived bool) {
	a := mustOpenApp()
	defer a.Close()

	var err error
	if archived {
		err = a.svc.Archive(cmd.Context(), id)
	} else {
		err = a.svc.Unarchive(cmd.Context(), id)
	}
	if err != nil {
		exitErr(cmd.Name(), err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q,"archived":%t}`+"\n", id, archived)
}
