package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rcliao/semantic-memory/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"), 0)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testMemory(id, text, hash, project string, createdAt int64) *model.Memory {
	return &model.Memory{
		ID:          id,
		Text:        text,
		ContentHash: hash,
		Embedding:   []float32{0.5, -0.25, 1},
		Project:     project,
		Tags:        []string{"b", "a"},
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	in := testMemory("01A", "hello", "h1", "proj", 100)
	in.Embedding = []float32{0.1, 0.2, 0.30000001, -1e-7}
	if err := s.Insert(ctx, in); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Get(ctx, "01A")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Text != "hello" || got.ContentHash != "h1" || got.Project != "proj" {
		t.Errorf("unexpected record %+v", got)
	}
	if got.CreatedAt != 100 || got.UpdatedAt != 100 {
		t.Errorf("unexpected timestamps %d/%d", got.CreatedAt, got.UpdatedAt)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "b" || got.Tags[1] != "a" {
		t.Errorf("tag order not preserved: %v", got.Tags)
	}
	if len(got.Embedding) != len(in.Embedding) {
		t.Fatalf("embedding length %d, want %d", len(got.Embedding), len(in.Embedding))
	}
	for i := range in.Embedding {
		if got.Embedding[i] != in.Embedding[i] {
			t.Errorf("embedding[%d] = %v, want %v", i, got.Embedding[i], in.Embedding[i])
		}
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertEmptyProjectAndTags(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := testMemory("01A", "x", "h", "", 1)
	m.Tags = nil
	if err := s.Insert(ctx, m); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, _ := s.Get(ctx, "01A")
	if got.Project != "" {
		t.Errorf("expected empty project, got %q", got.Project)
	}
	if got.Tags == nil || len(got.Tags) != 0 {
		t.Errorf("expected empty non-nil tags, got %#v", got.Tags)
	}
}

func TestInsertDuplicateHash(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Insert(ctx, testMemory("01A", "same", "h", "", 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := s.Insert(ctx, testMemory("01B", "same", "h", "", 2))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Archived rows free the hash.
	if err := s.Archive(ctx, "01A"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := s.Insert(ctx, testMemory("01B", "same", "h", "", 2)); err != nil {
		t.Fatalf("insert after archive: %v", err)
	}
	if err := s.Unarchive(ctx, "01A"); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate on unarchive, got %v", err)
	}
}

func TestInsertPrimaryKeyCollision(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Insert(ctx, testMemory("01A", "one", "h1", "", 1))
	err := s.Insert(ctx, testMemory("01A", "two", "h2", "", 2))
	if err == nil {
		t.Fatal("expected error on id collision")
	}
	if errors.Is(err, ErrDuplicate) {
		t.Error("id collision must not be reported as a content duplicate")
	}
	if !errors.Is(err, ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}

func TestFindByHash(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	got, err := s.FindByHash(ctx, "nope")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil for absent hash; got %v, %v", got, err)
	}

	s.Insert(ctx, testMemory("01A", "x", "h", "", 1))
	got, err = s.FindByHash(ctx, "h")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got == nil || got.ID != "01A" {
		t.Fatalf("expected 01A, got %+v", got)
	}

	s.Archive(ctx, "01A")
	got, _ = s.FindByHash(ctx, "h")
	if got != nil {
		t.Errorf("archived record should not be found, got %s", got.ID)
	}
}

func TestListAllOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Insert(ctx, testMemory("01A", "a", "ha", "alpha", 10))
	s.Insert(ctx, testMemory("01B", "b", "hb", "beta", 30))
	s.Insert(ctx, testMemory("01C", "c", "hc", "alpha", 20))
	// Same second as 01B; id breaks the tie.
	s.Insert(ctx, testMemory("01D", "d", "hd", "", 30))

	all, err := s.ListAll(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"01D", "01B", "01C", "01A"}
	if len(all) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(all))
	}
	for i, id := range want {
		if all[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, all[i].ID, id)
		}
	}

	alpha, _ := s.ListAll(ctx, ListFilter{Project: "alpha"})
	if len(alpha) != 2 || alpha[0].ID != "01C" || alpha[1].ID != "01A" {
		t.Errorf("unexpected alpha listing: %+v", alpha)
	}

	none, err := s.ListAll(ctx, ListFilter{Project: "gamma"})
	if err != nil {
		t.Fatalf("list gamma: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no records, got %d", len(none))
	}

	s.Archive(ctx, "01D")
	all, _ = s.ListAll(ctx, ListFilter{})
	if len(all) != 3 || all[0].ID != "01B" {
		t.Errorf("archived record still listed: %+v", all)
	}
}

func TestArchiveUnknown(t *testing.T) {
	s := newTestStore(t)
	if err := s.Archive(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Insert(ctx, testMemory("01A", "a", "ha", "alpha", 1))
	s.Insert(ctx, testMemory("01B", "b", "hb", "alpha", 2))
	s.Insert(ctx, testMemory("01C", "c", "hc", "", 3))
	s.Insert(ctx, testMemory("01D", "d", "hd", "beta", 4))
	s.Archive(ctx, "01D")

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalMemories != 4 || st.ActiveMemories != 3 || st.ArchivedMemories != 1 {
		t.Errorf("unexpected counts %+v", st)
	}
	if len(st.Projects) != 2 {
		t.Fatalf("expected 2 project rows, got %+v", st.Projects)
	}
	if st.Projects[0].Project != "alpha" || st.Projects[0].Count != 2 {
		t.Errorf("unexpected top project %+v", st.Projects[0])
	}
	if st.DBSizeBytes == 0 {
		t.Error("expected non-zero db size")
	}
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}

	if err := s.Insert(ctx, testMemory("01A", "a", "h", "", 1)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("insert: expected ErrNotConnected, got %v", err)
	}
	if _, err := s.FindByHash(ctx, "h"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("find: expected ErrNotConnected, got %v", err)
	}
	if _, err := s.ListAll(ctx, ListFilter{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("list: expected ErrNotConnected, got %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ping: expected ErrNotConnected, got %v", err)
	}
}

func TestCreatesDBDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	s, err := NewSQLiteStore(filepath.Join(dir, "memory.db"), 0)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("expected db dir to exist: %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.db")

	s, err := NewSQLiteStore(path, 0)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	s.Insert(ctx, testMemory("01A", "persist", "h", "", 1))
	s.Close()

	s, err = NewSQLiteStore(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.FindByHash(ctx, "h")
	if err != nil || got == nil || got.Text != "persist" {
		t.Errorf("expected persisted record, got %+v, %v", got, err)
	}
}

func TestCodec(t *testing.T) {
	if EncodeEmbedding(nil) != nil {
		t.Error("nil embedding should encode to nil")
	}
	if _, err := DecodeEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
	if got := EncodeTags(nil); got != "[]" {
		t.Errorf("EncodeTags(nil) = %q", got)
	}
	tags, err := DecodeTags(`["x","y"]`)
	if err != nil || len(tags) != 2 || tags[1] != "y" {
		t.Errorf("DecodeTags = %v, %v", tags, err)
	}
}
