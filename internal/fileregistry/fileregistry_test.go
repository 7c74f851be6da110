package fileregistry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nhagar/dataset-db/internal/layout"
)

func writeParquetStub(t *testing.T, base string, datasetID uint32, prefix string, part int) {
	t.Helper()
	path := layout.RecordPath(base, datasetID, prefix, part, ".parquet")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("stub"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanAssignsSequentialIDs(t *testing.T) {
	base := t.TempDir()
	writeParquetStub(t, base, 1, "3a", 0)
	writeParquetStub(t, base, 1, "3a", 1)
	writeParquetStub(t, base, 2, "ff", 0)

	r, err := Scan(base, ".parquet")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}

	seen := make(map[uint32]bool)
	for _, e := range r.All() {
		if seen[e.FileID] {
			t.Errorf("duplicate file_id %d", e.FileID)
		}
		seen[e.FileID] = true
	}
}

func TestFileIDAndFilePathRoundTrip(t *testing.T) {
	base := t.TempDir()
	writeParquetStub(t, base, 1, "3a", 0)

	r, err := Scan(base, ".parquet")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	entries := r.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]

	path, ok := r.FilePath(e.FileID)
	if !ok || path != e.RelPath {
		t.Errorf("FilePath(%d) = (%q, %v), want (%q, true)", e.FileID, path, ok, e.RelPath)
	}

	id, ok := r.FileID(e.RelPath)
	if !ok || id != e.FileID {
		t.Errorf("FileID(%q) = (%d, %v), want (%d, true)", e.RelPath, id, ok, e.FileID)
	}

	if _, ok := r.FilePath(999); ok {
		t.Error("expected not-found for unregistered file_id")
	}
}

func TestScanIncrementalKeepsExistingIDsAndAppendsNew(t *testing.T) {
	base := t.TempDir()
	writeParquetStub(t, base, 1, "3a", 0)

	first, err := Scan(base, ".parquet")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	originalEntry := first.All()[0]

	writeParquetStub(t, base, 1, "3a", 1)
	writeParquetStub(t, base, 2, "bb", 0)

	second, err := ScanIncremental(base, ".parquet", first)
	if err != nil {
		t.Fatalf("ScanIncremental failed: %v", err)
	}

	if second.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", second.Len())
	}

	id, ok := second.FileID(originalEntry.RelPath)
	if !ok || id != originalEntry.FileID {
		t.Errorf("incremental scan reassigned existing file: got (%d, %v), want (%d, true)", id, ok, originalEntry.FileID)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	base := t.TempDir()
	writeParquetStub(t, base, 1, "3a", 0)
	writeParquetStub(t, base, 2, "ff", 0)

	r, err := Scan(base, ".parquet")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "files.tsv.zst")
	if err := Save(r, path, 6); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Len() != r.Len() {
		t.Fatalf("Len() after round trip = %d, want %d", loaded.Len(), r.Len())
	}
	for _, want := range r.All() {
		got, ok := loaded.Info(want.FileID)
		if !ok || got != want {
			t.Errorf("Info(%d) after round trip = (%+v, %v), want (%+v, true)", want.FileID, got, ok, want)
		}
	}
}

func TestScanMissingURLsDirIsEmpty(t *testing.T) {
	base := t.TempDir()
	r, err := Scan(base, ".parquet")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d entries", r.Len())
	}
}
