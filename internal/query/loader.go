// Package query implements the index-loading and query-serving path
// (C9), translated from original_source's api/loader.py (IndexLoader)
// and api/query.py (QueryService). A Loader pins one published manifest
// version in memory; to pick up a newly published one, callers call Load
// again for a fresh Loader.
package query

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nhagar/dataset-db/internal/cardinality"
	"github.com/nhagar/dataset-db/internal/dberrors"
	"github.com/nhagar/dataset-db/internal/domaindict"
	"github.com/nhagar/dataset-db/internal/fileregistry"
	"github.com/nhagar/dataset-db/internal/manifest"
	"github.com/nhagar/dataset-db/internal/membership"
	"github.com/nhagar/dataset-db/internal/mphf"
)

const lruCacheSize = 1000

// Loader holds one version's worth of loaded index structures plus small
// LRU caches in front of the hot lookup paths (domain_id and
// datasets-for-domain), mirroring the original's @lru_cache decorators.
type Loader struct {
	basePath  string
	version   string
	numShards int

	dict       *domaindict.Dictionary
	table      *mphf.Table
	membership *membership.Index
	files      *fileregistry.Registry

	domainIDCache *lru.Cache[string, int32]
	datasetsCache *lru.Cache[uint32, []uint32]

	cardinalityPath string
	cardinalityOnce sync.Once
	cardinalityEst  *cardinality.Estimator
}

// Load reads the currently published version's artifacts from basePath's
// manifest and returns a ready-to-query Loader.
func Load(basePath string) (*Loader, error) {
	m, err := manifest.Open(basePath)
	if err != nil {
		return nil, fmt.Errorf("query: open manifest: %w", err)
	}
	v, ok := m.CurrentVersion()
	if !ok {
		return nil, fmt.Errorf("query: %w: no published version", dberrors.ErrVersionCorrupt)
	}
	return LoadVersion(basePath, v)
}

// LoadVersion loads a specific manifest version's artifacts, bypassing
// whatever is currently marked current.
func LoadVersion(basePath string, v manifest.Version) (*Loader, error) {
	domains, err := domaindict.Read(filepath.Join(basePath, v.DomainsTxt))
	if err != nil {
		return nil, fmt.Errorf("query: %w: domain dict: %v", dberrors.ErrVersionCorrupt, err)
	}
	table, err := mphf.Load(filepath.Join(basePath, v.DomainsMphf))
	if err != nil {
		return nil, fmt.Errorf("query: %w: mphf: %v", dberrors.ErrVersionCorrupt, err)
	}
	membershipIdx, err := membership.Load(filepath.Join(basePath, v.D2DRoar))
	if err != nil {
		return nil, fmt.Errorf("query: %w: membership: %v", dberrors.ErrVersionCorrupt, err)
	}
	files, err := fileregistry.Load(filepath.Join(basePath, v.FilesTSV))
	if err != nil {
		return nil, fmt.Errorf("query: %w: file registry: %v", dberrors.ErrVersionCorrupt, err)
	}

	domainIDCache, err := lru.New[string, int32](lruCacheSize)
	if err != nil {
		return nil, fmt.Errorf("query: create domain id cache: %w", err)
	}
	datasetsCache, err := lru.New[uint32, []uint32](lruCacheSize)
	if err != nil {
		return nil, fmt.Errorf("query: create datasets cache: %w", err)
	}

	return &Loader{
		basePath:        basePath,
		version:         v.Version,
		numShards:       v.NumShards,
		dict:            domaindict.New(domains),
		table:           table,
		membership:      membershipIdx,
		files:           files,
		domainIDCache:   domainIDCache,
		datasetsCache:   datasetsCache,
		cardinalityPath: filepath.Join(basePath, v.Cardinality),
	}, nil
}

// Version reports the manifest version identifier this Loader was built
// from.
func (l *Loader) Version() string {
	return l.version
}

// LookupDomainID resolves domain to its domain_id via the MPHF, caching
// recent lookups.
func (l *Loader) LookupDomainID(domain string) (uint32, bool) {
	if id, ok := l.domainIDCache.Get(domain); ok {
		return uint32(id), id >= 0
	}
	id, ok := l.table.Lookup(domain)
	if !ok {
		l.domainIDCache.Add(domain, -1)
		return 0, false
	}
	l.domainIDCache.Add(domain, int32(id))
	return id, true
}

// DomainString returns the domain string for domainID, if it is within
// range of the loaded dictionary.
func (l *Loader) DomainString(domainID uint32) (string, bool) {
	return l.dict.DomainFor(int32(domainID))
}

// DatasetsForDomain returns the sorted dataset_ids containing domainID,
// caching recent lookups.
func (l *Loader) DatasetsForDomain(domainID uint32) []uint32 {
	if cached, ok := l.datasetsCache.Get(domainID); ok {
		return cached
	}
	ids := l.membership.Datasets(domainID)
	l.datasetsCache.Add(domainID, ids)
	return ids
}

// FilePath resolves a file_id to its relative record-file path.
func (l *Loader) FilePath(fileID uint32) (string, bool) {
	return l.files.FilePath(fileID)
}

// BasePath returns the storage root this loader was opened against.
func (l *Loader) BasePath() string {
	return l.basePath
}

// NumShards returns the postings shard count this loader's version was
// built with, recorded in the manifest at publish time.
func (l *Loader) NumShards() int {
	return l.numShards
}

// cardinalityEstimator lazily loads the version's cardinality artifact.
// A missing file is treated as "no estimates available" rather than an
// error, since cardinality is an optional, additive artifact (spec
// §open-questions #2).
func (l *Loader) cardinalityEstimator() *cardinality.Estimator {
	l.cardinalityOnce.Do(func() {
		f, err := os.Open(l.cardinalityPath)
		if err != nil {
			return
		}
		defer f.Close()
		est, err := cardinality.Load(f)
		if err != nil {
			return
		}
		l.cardinalityEst = est
	})
	return l.cardinalityEst
}
