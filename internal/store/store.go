// Package store provides the memory storage interface and SQLite implementation.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rcliao/semantic-memory/internal/model"
)

var (
	// ErrNotConnected is returned when the store is used before it is
	// opened or after it is closed.
	ErrNotConnected = errors.New("store not connected")

	// ErrStorage matches any *StorageError.
	ErrStorage = errors.New("storage error")

	// ErrDuplicate is returned by Insert when a non-archived record with the
	// same content hash already exists.
	ErrDuplicate = errors.New("duplicate content hash")

	// ErrNotFound is returned when a memory id does not exist.
	ErrNotFound = errors.New("memory not found")
)

// StorageError wraps an I/O failure from the backing database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// ListFilter restricts ListAll. An empty Project matches all projects.
type ListFilter struct {
	Project string
}

// Stats holds database statistics.
type Stats struct {
	DBPath           string         `json:"db_path,omitempty"`
	DBSizeBytes      int64          `json:"db_size_bytes,omitempty"`
	TotalMemories    int            `json:"total_memories"`
	ActiveMemories   int            `json:"active_memories"`
	ArchivedMemories int            `json:"archived_memories"`
	Projects         []ProjectStats `json:"projects"`
}

// ProjectStats holds per-project counts of active memories.
type ProjectStats struct {
	Project string `json:"project"`
	Count   int    `json:"count"`
}

// Store defines the memory storage interface.
type Store interface {
	// Insert appends a new record. It does not check for duplicates beyond
	// the unique index on non-archived content hashes.
	Insert(ctx context.Context, m *model.Memory) error

	// FindByHash returns the newest non-archived record with the given
	// content hash, or nil if there is none.
	FindByHash(ctx context.Context, hash string) (*model.Memory, error)

	// ListAll returns non-archived records, newest first.
	ListAll(ctx context.Context, f ListFilter) ([]model.Memory, error)

	// Get returns a record by id regardless of archive state.
	Get(ctx context.Context, id string) (*model.Memory, error)

	// Archive soft-deletes a record.
	Archive(ctx context.Context, id string) error

	// Unarchive restores an archived record.
	Unarchive(ctx context.Context, id string) error

	// Stats returns record counts.
	Stats(ctx context.Context) (*Stats, error)

	// Ping checks the connection.
	Ping(ctx context.Context) error

	// Close closes the store.
	Close() error
}
