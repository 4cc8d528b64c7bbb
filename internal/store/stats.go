package store

import (
	"context"
	"os"
)

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	st := &Stats{DBPath: s.dbPath, Projects: []ProjectStats{}}
	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN archived = 0 THEN 1 ELSE 0 END), 0) FROM memories`,
	).Scan(&st.TotalMemories, &st.ActiveMemories)
	if err != nil {
		return nil, &StorageError{Op: "count memories", Err: err}
	}
	st.ArchivedMemories = st.TotalMemories - st.ActiveMemories

	rows, err := db.QueryContext(ctx, `
		SELECT COALESCE(project, ''), COUNT(*) AS cnt
		FROM memories WHERE archived = 0
		GROUP BY project ORDER BY cnt DESC, project`)
	if err != nil {
		return nil, &StorageError{Op: "count projects", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var p ProjectStats
		if err := rows.Scan(&p.Project, &p.Count); err != nil {
			return nil, &StorageError{Op: "scan project stats", Err: err}
		}
		st.Projects = append(st.Projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "project stats rows", Err: err}
	}
	return st, nil
}
