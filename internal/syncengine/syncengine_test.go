package syncengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ronkoch2-code/code-standards-auditor/internal/graphstore"
	"github.com/ronkoch2-code/code-standards-auditor/internal/logging"
	"github.com/ronkoch2-code/code-standards-auditor/internal/model"
	"github.com/sirupsen/logrus"
)

type fakeStore struct {
	upserts []string // file sources passed to UpsertStandard
	deleted []string // file sources passed to DeleteStandardsWithSource
}

func (s *fakeStore) Connect(ctx context.Context) error { return nil }
func (s *fakeStore) Close(ctx context.Context) error    { return nil }

func (s *fakeStore) UpsertStandard(ctx context.Context, draft model.StandardDraft, fileSource string) (model.Standard, error) {
	s.upserts = append(s.upserts, fileSource)
	return model.Standard{Name: draft.Name, Language: draft.Language, FileSource: fileSource}, nil
}

func (s *fakeStore) FindByNaturalKey(ctx context.Context, language string, category model.Category, name string) (model.Standard, bool, error) {
	return model.Standard{}, false, nil
}

func (s *fakeStore) FindByCriteria(ctx context.Context, c graphstore.Criteria) ([]model.Standard, error) {
	return nil, nil
}

func (s *fakeStore) SemanticSearch(ctx context.Context, query string, limit int, threshold float64) ([]graphstore.SearchResult, error) {
	return nil, nil
}

func (s *fakeStore) RecordViolation(ctx context.Context, v model.Violation) error { return nil }
func (s *fakeStore) UpsertPattern(ctx context.Context, p model.CodePattern) error { return nil }

func (s *fakeStore) EvolvePatternToStandard(ctx context.Context, patternID string, draft model.StandardDraft) (model.Standard, error) {
	return model.Standard{}, nil
}

func (s *fakeStore) FindDuplicates(ctx context.Context) (map[string][]model.Standard, error) {
	return nil, nil
}

func (s *fakeStore) CleanupDuplicates(ctx context.Context, keep string) (int, error) { return 0, nil }

func (s *fakeStore) DeleteStandardsWithSource(ctx context.Context, fileSource string) (int, error) {
	s.deleted = append(s.deleted, fileSource)
	return 1, nil
}

func (s *fakeStore) CountStandards(ctx context.Context) (int, error) {
	return len(s.upserts), nil
}

func testLogger() *logging.ContextLogger {
	l := logrus.New()
	l.SetOutput(discard{})
	return logging.NewContextLogger(l, nil)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscover_OneLevelLanguageFlatGlob(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "go", "style.md"), "# Style\n\n**Standards**:\n- Use gofmt on every file before committing\n")
	writeFile(t, filepath.Join(root, "go", "nested", "deep.md"), "# Deep\n\n- Should not be discovered\n")
	writeFile(t, filepath.Join(root, "python", "testing.md"), "# Testing\n\n- Write tests for every public function\n")
	writeFile(t, filepath.Join(root, ".hidden.md"), "# Hidden\n")

	e := New(root, filepath.Join(root, "index.json"), nil, testLogger())
	found, err := e.Discover()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(found) != 2 {
		t.Fatalf("expected 2 discovered files (nested dir not recursed, hidden skipped), got %d: %+v", len(found), found)
	}
}

func TestClassify_AddedModifiedDeleted(t *testing.T) {
	d1 := discovered{path: "/a.md", mtime: 100, hash: "h1"}
	idx := index{Files: map[string]model.FileMetadata{
		"/b.md": {Path: "/b.md", LastModified: 1, ContentHash: "old"},
	}}

	changes := classify([]discovered{d1}, idx, false)
	if changes["/a.md"] != ChangeAdded {
		t.Errorf("expected /a.md added, got %s", changes["/a.md"])
	}
	if changes["/b.md"] != ChangeDeleted {
		t.Errorf("expected /b.md deleted, got %s", changes["/b.md"])
	}
}

func TestClassify_ForceReclassifiesAllAsModified(t *testing.T) {
	d1 := discovered{path: "/a.md", mtime: 100, hash: "h1"}
	idx := index{Files: map[string]model.FileMetadata{
		"/a.md": {Path: "/a.md", LastModified: 100, ContentHash: "h1"},
	}}

	changes := classify([]discovered{d1}, idx, true)
	if changes["/a.md"] != ChangeModified {
		t.Errorf("expected force to reclassify unchanged file as modified, got %s", changes["/a.md"])
	}
}

func TestClassify_UnchangedFileProducesNoEntry(t *testing.T) {
	d1 := discovered{path: "/a.md", mtime: 100, hash: "h1"}
	idx := index{Files: map[string]model.FileMetadata{
		"/a.md": {Path: "/a.md", LastModified: 100, ContentHash: "h1"},
	}}

	changes := classify([]discovered{d1}, idx, false)
	if _, exists := changes["/a.md"]; exists {
		t.Errorf("expected unchanged file to produce no classification, got %s", changes["/a.md"])
	}
}

func TestPersistIndex_AtomicWriteThenReload(t *testing.T) {
	root := t.TempDir()
	indexPath := filepath.Join(root, "index.json")
	e := New(root, indexPath, nil, testLogger())

	idx := index{Files: map[string]model.FileMetadata{
		"/a.md": {Path: "/a.md", LastModified: 1, ContentHash: "abc", StandardsCount: 2},
	}}
	if err := e.persistIndex(idx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e2 := New(root, indexPath, nil, testLogger())
	if err := e2.LoadIndex(); err != nil {
		t.Fatalf("unexpected error loading index: %v", err)
	}
	if e2.idx.Files["/a.md"].StandardsCount != 2 {
		t.Errorf("expected reloaded index to preserve standards_count, got %+v", e2.idx.Files["/a.md"])
	}
}

func TestLoadIndex_MissingFileIsNotError(t *testing.T) {
	root := t.TempDir()
	e := New(root, filepath.Join(root, "missing.json"), nil, testLogger())
	if err := e.LoadIndex(); err != nil {
		t.Errorf("expected missing index file to be tolerated, got %v", err)
	}
}

func TestSyncAll_AddedFileUpsertsAndPersists(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "go", "a.md"), "# A\n\n**Standards**:\n- Use descriptive names for exported identifiers\n- Handle every returned error explicitly\n")

	store := &fakeStore{}
	e := New(root, filepath.Join(root, "index.json"), store, testLogger())

	stats, err := e.SyncAll(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Added != 1 {
		t.Errorf("expected 1 added file, got %d", stats.Added)
	}
	if len(store.upserts) == 0 {
		t.Error("expected at least one standard upserted")
	}

	status, err := e.Status(context.Background())
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if status.FilesTracked != 1 {
		t.Errorf("expected 1 tracked file, got %d", status.FilesTracked)
	}
}

func TestSyncAll_ModifiedFileDeletesThenReadds(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "go", "a.md")
	writeFile(t, path, "# A\n\n**Standards**:\n- Use descriptive names for exported identifiers\n")

	store := &fakeStore{}
	e := New(root, filepath.Join(root, "index.json"), store, testLogger())
	if _, err := e.SyncAll(context.Background(), false); err != nil {
		t.Fatalf("unexpected error on first sync: %v", err)
	}

	writeFile(t, path, "# A\n\n**Standards**:\n- Always validate external input before use\n")
	// force mtime forward so HasChanged fires even on fast filesystems.
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	stats, err := e.SyncAll(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error on second sync: %v", err)
	}
	if stats.Modified != 1 {
		t.Errorf("expected 1 modified file, got %d", stats.Modified)
	}
	if stats.StandardsDeleted != 1 {
		t.Errorf("expected 1 standard deleted before the re-add, got %d", stats.StandardsDeleted)
	}
	if len(store.deleted) != 1 {
		t.Errorf("expected modified file to delete prior standards first, got %d deletes", len(store.deleted))
	}
}

func TestSyncAll_DeletedFileRemovesStandardsAndIndexEntry(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "go", "a.md")
	writeFile(t, path, "# A\n\n**Standards**:\n- Use descriptive names for exported identifiers\n")

	store := &fakeStore{}
	e := New(root, filepath.Join(root, "index.json"), store, testLogger())
	if _, err := e.SyncAll(context.Background(), false); err != nil {
		t.Fatalf("unexpected error on first sync: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	stats, err := e.SyncAll(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error on second sync: %v", err)
	}
	if stats.Deleted != 1 {
		t.Errorf("expected 1 deleted file, got %d", stats.Deleted)
	}
	if stats.StandardsDeleted != 1 {
		t.Errorf("expected 1 standard deleted, got %d", stats.StandardsDeleted)
	}

	status, err := e.Status(context.Background())
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if status.FilesTracked != 0 {
		t.Errorf("expected 0 tracked files after deletion, got %d", status.FilesTracked)
	}
}

func TestScheduledSync_SkipsOverlappingTick(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "go", "a.md"), "# A\n\n- Use descriptive names for exported identifiers\n")

	store := &fakeStore{}
	e := New(root, filepath.Join(root, "index.json"), store, testLogger())
	s := NewScheduledSync(e, testLogger())

	s.running.Lock()
	done := make(chan struct{})
	go func() {
		s.tick(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tick should return promptly when skipped")
	}
	s.running.Unlock()
}
