package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/semantic-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a memory by id",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	RootCmd.AddCommand(cmd)
}

type memoryView struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	ContentHash string   `json:"content_hash"`
	Project     string   `json:"project,omitempty"`
	Tags        []string `json:"tags"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	Archived    bool     `json:"archived"`
	Dims        int      `json:"dims"`
}

func runGet(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	m, err := a.svc.Get(cmd.Context(), args[0])
	if err != nil {
		exitErr("get", err)
	}

	v := toView(m)
	printResult(cmd.OutOrStdout(), v, func(w io.Writer) {
		fmt.Fprintf(w, "%s  %s  [%s]\n%s\n", v.ID, v.CreatedAt, strings.Join(v.Tags, ","), v.Text)
	})
}

func toView(m *model.Memory) memoryView {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	return memoryView{
		ID:          m.ID,
		Text:        m.Text,
		ContentHash: m.ContentHash,
		Project:     m.Project,
		Tags:        tags,
		CreatedAt:   model.FormatTimestamp(m.CreatedAt),
		UpdatedAt:   model.FormatTimestamp(m.UpdatedAt),
		Archived:    m.Archived,
		Dims:        len(m.Embedding),
	}
}
