// Package manifest implements atomic index versioning (C7), translated
// from original_source's index/manifest.py. The on-disk format is TOML
// rather than the original's JSON (SPEC_FULL.md §4 treats the manifest as
// a textual key-value tree, and TOML is what this module's stack reaches
// for there), written via a temp-file-then-rename so readers never observe
// a partial manifest. A single-writer advisory lock guards concurrent
// builds over the same base path.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"

	"github.com/nhagar/dataset-db/internal/dberrors"
)

// Version describes one built, publishable snapshot of the index.
type Version struct {
	Version      string    `toml:"version"`
	DomainsTxt   string    `toml:"domains_txt"`
	DomainsMphf  string    `toml:"domains_mphf"`
	D2DRoar      string    `toml:"d2d_roar"`
	PostingsBase string    `toml:"postings_base"`
	FilesTSV     string    `toml:"files_tsv"`
	ParquetRoot  string    `toml:"parquet_root"`
	Cardinality  string    `toml:"cardinality"`
	NumShards    int       `toml:"num_shards"`
	CreatedAt    time.Time `toml:"created_at"`
}

type manifestDoc struct {
	CurrentVersion string    `toml:"current_version"`
	Versions       []Version `toml:"versions"`
}

// Manifest tracks the set of built index versions and which one is live.
type Manifest struct {
	basePath       string
	manifestPath   string
	currentVersion string
	versions       []Version
}

func pathFor(basePath string) string {
	return filepath.Join(basePath, "index", "manifest.toml")
}

// Open loads the manifest at basePath/index/manifest.toml, or returns an
// empty Manifest if none exists yet.
func Open(basePath string) (*Manifest, error) {
	m := &Manifest{basePath: basePath, manifestPath: pathFor(basePath)}

	data, err := os.ReadFile(m.manifestPath)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", m.manifestPath, err)
	}

	var doc manifestDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: manifest: parse %s: %v", dberrors.ErrFormatInvalid, m.manifestPath, err)
	}
	m.currentVersion = doc.CurrentVersion
	m.versions = doc.Versions
	return m, nil
}

// Save writes the manifest atomically via a temp file and rename.
func (m *Manifest) Save() error {
	doc := manifestDoc{CurrentVersion: m.currentVersion, Versions: m.versions}
	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.manifestPath), 0o755); err != nil {
		return fmt.Errorf("manifest: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.manifestPath), "manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("manifest: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, m.manifestPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: rename temp file: %w", err)
	}
	return nil
}

// AddVersion adds v to the manifest, replacing any existing entry with
// the same Version identifier.
func (m *Manifest) AddVersion(v Version) {
	filtered := m.versions[:0:0]
	for _, existing := range m.versions {
		if existing.Version != v.Version {
			filtered = append(filtered, existing)
		}
	}
	m.versions = append(filtered, v)
}

// SetCurrentVersion flips the live version, failing if it isn't present.
func (m *Manifest) SetCurrentVersion(version string) error {
	if _, ok := m.GetVersion(version); !ok {
		return fmt.Errorf("manifest: version %q not found", version)
	}
	m.currentVersion = version
	return nil
}

// GetVersion looks up a specific version by identifier.
func (m *Manifest) GetVersion(version string) (Version, bool) {
	for _, v := range m.versions {
		if v.Version == version {
			return v, true
		}
	}
	return Version{}, false
}

// CurrentVersion returns the live version, if one has been set.
func (m *Manifest) CurrentVersion() (Version, bool) {
	if m.currentVersion == "" {
		return Version{}, false
	}
	return m.GetVersion(m.currentVersion)
}

// ListVersions returns every version identifier, oldest first.
func (m *Manifest) ListVersions() []string {
	sorted := append([]Version(nil), m.versions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
	ids := make([]string, len(sorted))
	for i, v := range sorted {
		ids[i] = v.Version
	}
	return ids
}

// NewVersionFromBuild constructs the Version record for a freshly built
// index, following this module's fixed artifact layout under
// index/<version>/.
func NewVersionFromBuild(version string, numShards int, createdAt time.Time) Version {
	return Version{
		Version:      version,
		DomainsTxt:   fmt.Sprintf("index/%s/domains.txt.zst", version),
		DomainsMphf:  fmt.Sprintf("index/%s/domains.mphf", version),
		D2DRoar:      fmt.Sprintf("index/%s/domain_to_datasets.roar", version),
		PostingsBase: fmt.Sprintf("index/%s/postings/{shard:04d}/postings.{idx,dat}.zst", version),
		FilesTSV:     fmt.Sprintf("index/%s/files.tsv.zst", version),
		ParquetRoot:  "urls/",
		Cardinality:  fmt.Sprintf("index/%s/cardinality.cbor", version),
		NumShards:    numShards,
		CreatedAt:    createdAt,
	}
}

// PublishVersion records v in the manifest, flips the current version to
// it, and saves atomically.
func (m *Manifest) PublishVersion(v Version) error {
	m.AddVersion(v)
	if err := m.SetCurrentVersion(v.Version); err != nil {
		return err
	}
	return m.Save()
}

// CleanupOldVersions drops manifest entries beyond the keepLastN most
// recently created, returning the identifiers removed. It does not touch
// on-disk artifacts; callers are responsible for reclaiming those
// separately once the manifest no longer references them.
func (m *Manifest) CleanupOldVersions(keepLastN int) []string {
	if len(m.versions) <= keepLastN {
		return nil
	}
	sorted := append([]Version(nil), m.versions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })

	kept := sorted[:keepLastN]
	removed := sorted[keepLastN:]

	removedIDs := make([]string, len(removed))
	for i, v := range removed {
		removedIDs[i] = v.Version
	}

	m.versions = kept
	return removedIDs
}

// lockPath is the advisory lock file guarding concurrent builders over
// the same base path.
func lockPath(basePath string) string {
	return filepath.Join(basePath, "index", ".build.lock")
}

// BuildLock is a single-writer advisory lock: at most one builder may
// hold it for a given base path at a time.
type BuildLock struct {
	fl *flock.Flock
}

// AcquireBuildLock attempts to take the build lock for basePath without
// blocking. It returns dberrors.ErrBuildConflict if another builder
// already holds it.
func AcquireBuildLock(basePath string) (*BuildLock, error) {
	path := lockPath(basePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("manifest: create lock dir: %w", err)
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("manifest: acquire build lock: %w", err)
	}
	if !locked {
		return nil, dberrors.ErrBuildConflict
	}
	return &BuildLock{fl: fl}, nil
}

// Release gives up the build lock.
func (l *BuildLock) Release() error {
	return l.fl.Unlock()
}
