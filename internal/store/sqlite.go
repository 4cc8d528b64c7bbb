package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rcliao/semantic-memory/internal/model"
)

const defaultBusyTimeout = 5000

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite database at the given path.
// busyTimeout is in milliseconds; 0 selects the default.
func NewSQLiteStore(dbPath string, busyTimeout int) (*SQLiteStore, error) {
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(%d)", dbPath, busyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite serialises writes; one shared connection for every request.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, dbPath: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// schemaStatements are idempotent and executed in order.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id           TEXT PRIMARY KEY,
		text         TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		embedding    BLOB,
		project      TEXT,
		tags         TEXT NOT NULL DEFAULT '[]',
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL,
		archived     INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_hash ON memories(content_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_memories_active_hash ON memories(content_hash) WHERE archived = 0`,
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// conn returns the live handle or ErrNotConnected.
func (s *SQLiteStore) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrNotConnected
	}
	return s.db, nil
}

const memoryColumns = `id, text, content_hash, embedding, project, tags, created_at, updated_at, archived`

func (s *SQLiteStore) Insert(ctx context.Context, m *model.Memory) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO memories (`+memoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Text, m.ContentHash, EncodeEmbedding(m.Embedding), nullString(m.Project),
		EncodeTags(m.Tags), m.CreatedAt, m.UpdatedAt, boolInt(m.Archived))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert memory %s: %w", m.ID, ErrDuplicate)
		}
		return &StorageError{Op: "insert memory", Err: err}
	}
	return nil
}

func (s *SQLiteStore) FindByHash(ctx context.Context, hash string) (*model.Memory, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE content_hash = ? AND archived = 0
		 ORDER BY created_at DESC, id DESC LIMIT 1`, hash)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "find by hash", Err: err}
	}
	return &m, nil
}

func (s *SQLiteStore) ListAll(ctx context.Context, f ListFilter) ([]model.Memory, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	where := []string{"archived = 0"}
	var args []any
	if f.Project != "" {
		where = append(where, "project = ?")
		args = append(args, f.Project)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, &StorageError{Op: "list memories", Err: err}
	}
	defer rows.Close()

	var memories []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, &StorageError{Op: "scan memory", Err: err}
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list rows", Err: err}
	}
	return memories, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Memory, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	m, err := scanMemory(db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, &StorageError{Op: "get memory", Err: err}
	}
	return &m, nil
}

func (s *SQLiteStore) Archive(ctx context.Context, id string) error {
	return s.setArchived(ctx, id, true)
}

func (s *SQLiteStore) Unarchive(ctx context.Context, id string) error {
	return s.setArchived(ctx, id, false)
}

func (s *SQLiteStore) setArchived(ctx context.Context, id string, archived bool) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx,
		`UPDATE memories SET archived = ? WHERE id = ?`, boolInt(archived), id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("unarchive %s: %w", id, ErrDuplicate)
		}
		return &StorageError{Op: "set archived", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

// scanMemory maps one memories row (memoryColumns order) to a model.Memory.
func scanMemory(row scanner) (model.Memory, error) {
	var m model.Memory
	var project sql.NullString
	var embedding []byte
	var tags string
	var archived int64

	err := row.Scan(&m.ID, &m.Text, &m.ContentHash, &embedding, &project,
		&tags, &m.CreatedAt, &m.UpdatedAt, &archived)
	if err != nil {
		return m, err
	}

	if m.Embedding, err = DecodeEmbedding(embedding); err != nil {
		return m, err
	}
	if m.Tags, err = DecodeTags(tags); err != nil {
		return m, err
	}
	m.Project = project.String
	m.Archived = archived != 0
	return m, nil
}

// isUniqueViolation reports whether err is the active content hash index
// rejecting a row. Primary key collisions are not duplicates.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE &&
		se.Code() != sqlite3.SQLITE_CONSTRAINT {
		return false
	}
	return strings.Contains(err.Error(), "memories.content_hash")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
