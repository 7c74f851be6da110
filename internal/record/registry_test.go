package record

import (
	"path/filepath"
	"testing"
)

func TestRegisterAssignsStableIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.tsv.zst")

	r, err := OpenDatasetRegistry(path)
	if err != nil {
		t.Fatalf("OpenDatasetRegistry failed: %v", err)
	}

	idA, err := r.Register("common-crawl-2024")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	idB, err := r.Register("wikipedia-dump")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if idA == idB {
		t.Fatal("distinct dataset names received the same id")
	}

	again, err := r.Register("common-crawl-2024")
	if err != nil {
		t.Fatalf("re-Register failed: %v", err)
	}
	if again != idA {
		t.Errorf("re-Register returned %d, want %d (stable id)", again, idA)
	}
}

func TestRegistryPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.tsv.zst")

	r1, err := OpenDatasetRegistry(path)
	if err != nil {
		t.Fatalf("OpenDatasetRegistry failed: %v", err)
	}
	id, err := r1.Register("common-crawl-2024")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	r2, err := OpenDatasetRegistry(path)
	if err != nil {
		t.Fatalf("reopen OpenDatasetRegistry failed: %v", err)
	}
	got, ok := r2.IDFor("common-crawl-2024")
	if !ok {
		t.Fatal("dataset not found after reopen")
	}
	if got != id {
		t.Errorf("reopened id = %d, want %d", got, id)
	}

	nextID, err := r2.Register("new-dataset")
	if err != nil {
		t.Fatalf("Register on reopened registry failed: %v", err)
	}
	if nextID == id {
		t.Error("new dataset collided with existing id after reopen")
	}
}

func TestIDForUnknownDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.tsv.zst")
	r, err := OpenDatasetRegistry(path)
	if err != nil {
		t.Fatalf("OpenDatasetRegistry failed: %v", err)
	}
	if _, ok := r.IDFor("never-registered"); ok {
		t.Error("expected ok=false for unregistered dataset")
	}
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.tsv.zst")
	r, err := OpenDatasetRegistry(path)
	if err != nil {
		t.Fatalf("OpenDatasetRegistry failed: %v", err)
	}
	if _, err := r.Register(""); err == nil {
		t.Error("expected error registering empty dataset name")
	}
}
