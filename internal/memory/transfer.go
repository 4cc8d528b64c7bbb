package memory

import (
	"context"
	"fmt"

	"github.com/rcliao/semantic-memory/internal/store"
)

// ExportRecord is the portable form of a memory. Embeddings are omitted and
// recomputed on import.
type ExportRecord struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Project   string   `json:"project,omitempty"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"created_at"`
}

// ImportResult counts the outcome of an Import.
type ImportResult struct {
	Created    int `json:"created"`
	Duplicates int `json:"duplicates"`
}

// Export returns active memories, newest first, optionally for one project.
func (s *Service) Export(ctx context.Context, project string) ([]ExportRecord, error) {
	memories, err := s.store.ListAll(ctx, store.ListFilter{Project: project})
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}

	out := make([]ExportRecord, 0, len(memories))
	for i := range memories {
		r := toResult(&memories[i], 0)
		out = append(out, ExportRecord{
			ID:        r.ID,
			Text:      r.Text,
			Project:   r.Project,
			Tags:      r.Tags,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// Import saves each record in order. Records already present are counted as
// duplicates. It stops at the first failure and reports what was done so far.
func (s *Service) Import(ctx context.Context, records []SaveParams) (ImportResult, error) {
	var res ImportResult
	for i, p := range records {
		r, err := s.Save(ctx, p)
		if err != nil {
			return res, fmt.Errorf("import record %d: %w", i, err)
		}
		if r.WasDuplicate {
			res.Duplicates++
		} else {
			res.Created++
		}
	}
	s.logger.Info("import complete", "created", res.Created, "duplicates", res.Duplicates)
	return res, nil
}
