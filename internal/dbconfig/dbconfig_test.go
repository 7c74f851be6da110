package dbconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := Defaults()
	if cfg != want {
		t.Errorf("Load(\"\") = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadFromTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
log_level = "debug"

[storage]
base_path = "/data/urls"
domain_prefix_chars = 3

[index]
postings_shards = 256
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Storage.BasePath != "/data/urls" {
		t.Errorf("Storage.BasePath = %q", cfg.Storage.BasePath)
	}
	if cfg.Storage.DomainPrefixChars != 3 {
		t.Errorf("Storage.DomainPrefixChars = %d, want 3", cfg.Storage.DomainPrefixChars)
	}
	if cfg.Index.PostingsShards != 256 {
		t.Errorf("Index.PostingsShards = %d, want 256", cfg.Index.PostingsShards)
	}
	// Untouched section keeps its defaults.
	if cfg.Ingestion.MaxWorkers != Defaults().Ingestion.MaxWorkers {
		t.Errorf("Ingestion.MaxWorkers = %d, want default %d", cfg.Ingestion.MaxWorkers, Defaults().Ingestion.MaxWorkers)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STORAGE_BASE_PATH", "/env/data")
	t.Setenv("INDEX_POSTINGS_SHARDS", "42")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.BasePath != "/env/data" {
		t.Errorf("Storage.BasePath = %q, want /env/data", cfg.Storage.BasePath)
	}
	if cfg.Index.PostingsShards != 42 {
		t.Errorf("Index.PostingsShards = %d, want 42", cfg.Index.PostingsShards)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error loading a nonexistent config file")
	}
}
