package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/rcliao/semantic-memory/internal/model"
	"github.com/rcliao/semantic-memory/internal/store"
)

const uniqueViolation = "23505"

const activeHashIndex = "uq_memories_active_hash"

// PGStore implements store.Store on PostgreSQL.
type PGStore struct {
	mu sync.RWMutex
	db *sqlx.DB
}

var _ store.Store = (*PGStore)(nil)

// NewPGStore migrates the schema and opens a pooled connection.
func NewPGStore(dsn string, logger *slog.Logger) (*PGStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := Migrate(dsn, logger); err != nil {
		return nil, err
	}
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	logger.Info("postgres connected", "dsn_len", len(dsn))
	return &PGStore{db: sqlx.NewDb(db, "pgx")}, nil
}

func (s *PGStore) conn() (*sqlx.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, store.ErrNotConnected
	}
	return s.db, nil
}

// memoryRow mirrors the memories table.
type memoryRow struct {
	ID          string         `db:"id"`
	Text        string         `db:"text"`
	ContentHash string         `db:"content_hash"`
	Embedding   []byte         `db:"embedding"`
	Project     sql.NullString `db:"project"`
	Tags        string         `db:"tags"`
	CreatedAt   int64          `db:"created_at"`
	UpdatedAt   int64          `db:"updated_at"`
	Archived    bool           `db:"archived"`
}

func (r memoryRow) toModel() (model.Memory, error) {
	emb, err := store.DecodeEmbedding(r.Embedding)
	if err != nil {
		return model.Memory{}, err
	}
	tags, err := store.DecodeTags(r.Tags)
	if err != nil {
		return model.Memory{}, err
	}
	return model.Memory{
		ID:          r.ID,
		Text:        r.Text,
		ContentHash: r.ContentHash,
		Embedding:   emb,
		Project:     r.Project.String,
		Tags:        tags,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		Archived:    r.Archived,
	}, nil
}

const memoryColumns = `id, text, content_hash, embedding, project, tags, created_at, updated_at, archived`

func (s *PGStore) Insert(ctx context.Context, m *model.Memory) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	_, err = db.NamedExecContext(ctx,
		`INSERT INTO memories (`+memoryColumns+`)
		 VALUES (:id, :text, :content_hash, :embedding, :project, :tags, :created_at, :updated_at, :archived)`,
		memoryRow{
			ID:          m.ID,
			Text:        m.Text,
			ContentHash: m.ContentHash,
			Embedding:   store.EncodeEmbedding(m.Embedding),
			Project:     sql.NullString{String: m.Project, Valid: m.Project != ""},
			Tags:        store.EncodeTags(m.Tags),
			CreatedAt:   m.CreatedAt,
			UpdatedAt:   m.UpdatedAt,
			Archived:    m.Archived,
		})
	if err != nil {
		if isActiveHashConflict(err) {
			return fmt.Errorf("insert memory %s: %w", m.ID, store.ErrDuplicate)
		}
		return &store.StorageError{Op: "insert memory", Err: err}
	}
	return nil
}

func (s *PGStore) FindByHash(ctx context.Context, hash string) (*model.Memory, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var row memoryRow
	err = db.GetContext(ctx, &row,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE content_hash = $1 AND NOT archived
		 ORDER BY created_at DESC, id DESC LIMIT 1`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &store.StorageError{Op: "find by hash", Err: err}
	}
	m, err := row.toModel()
	if err != nil {
		return nil, &store.StorageError{Op: "decode memory", Err: err}
	}
	return &m, nil
}

func (s *PGStore) ListAll(ctx context.Context, f store.ListFilter) ([]model.Memory, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	where := []string{"NOT archived"}
	var args []any
	if f.Project != "" {
		args = append(args, f.Project)
		where = append(where, fmt.Sprintf("project = $%d", len(args)))
	}

	var rows []memoryRow
	err = db.SelectContext(ctx, &rows,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, &store.StorageError{Op: "list memories", Err: err}
	}

	memories := make([]model.Memory, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, &store.StorageError{Op: "decode memory", Err: err}
		}
		memories = append(memories, m)
	}
	return memories, nil
}

func (s *PGStore) Get(ctx context.Context, id string) (*model.Memory, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var row memoryRow
	err = db.GetContext(ctx, &row, `SELECT `+memoryColumns+` FROM memories WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, &store.StorageError{Op: "get memory", Err: err}
	}
	m, err := row.toModel()
	if err != nil {
		return nil, &store.StorageError{Op: "decode memory", Err: err}
	}
	return &m, nil
}

func (s *PGStore) Archive(ctx context.Context, id string) error {
	return s.setArchived(ctx, id, true)
}

func (s *PGStore) Unarchive(ctx context.Context, id string) error {
	return s.setArchived(ctx, id, false)
}

func (s *PGStore) setArchived(ctx context.Context, id string, archived bool) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `UPDATE memories SET archived = $1 WHERE id = $2`, archived, id)
	if err != nil {
		if isActiveHashConflict(err) {
			return fmt.Errorf("unarchive %s: %w", id, store.ErrDuplicate)
		}
		return &store.StorageError{Op: "set archived", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return nil
}

func (s *PGStore) Stats(ctx context.Context) (*store.Stats, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	st := &store.Stats{Projects: []store.ProjectStats{}}
	err = db.QueryRowxContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT archived) FROM memories`,
	).Scan(&st.TotalMemories, &st.ActiveMemories)
	if err != nil {
		return nil, &store.StorageError{Op: "count memories", Err: err}
	}
	st.ArchivedMemories = st.TotalMemories - st.ActiveMemories

	err = db.SelectContext(ctx, &st.Projects, `
		SELECT COALESCE(project, '') AS project, COUNT(*) AS count
		FROM memories WHERE NOT archived
		GROUP BY project ORDER BY count DESC, project`)
	if err != nil {
		return nil, &store.StorageError{Op: "count projects", Err: err}
	}

	if err := db.GetContext(ctx, &st.DBSizeBytes, `SELECT pg_database_size(current_database())`); err != nil {
		return nil, &store.StorageError{Op: "database size", Err: err}
	}
	return st, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return &store.StorageError{Op: "ping", Err: err}
	}
	return nil
}

func (s *PGStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func isActiveHashConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == activeHashIndex
}
