// Package builder orchestrates a full or incremental build of the index
// components (C2-C7) over a base path's record files, translated from
// original_source's index/builder.py (IndexBuilder.build_all). Progress
// is reported to an injected io.Writer, one line per step, the way the
// teacher's internal/collector.go reports progress to stderr during
// collection.
package builder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/nhagar/dataset-db/internal/cardinality"
	"github.com/nhagar/dataset-db/internal/dberrors"
	"github.com/nhagar/dataset-db/internal/domaindict"
	"github.com/nhagar/dataset-db/internal/fileregistry"
	"github.com/nhagar/dataset-db/internal/manifest"
	"github.com/nhagar/dataset-db/internal/membership"
	"github.com/nhagar/dataset-db/internal/mphf"
	"github.com/nhagar/dataset-db/internal/postings"
	"github.com/nhagar/dataset-db/internal/record"
)

// Builder coordinates the per-version construction of every index
// artifact rooted at basePath.
type Builder struct {
	basePath         string
	numShards        int
	compressionLevel int
	progress         io.Writer
}

// New returns a Builder. numShards sets the postings shard count;
// compressionLevel is applied to the dictionary, perfect-hash, file
// registry, and postings artifacts (the membership file is written at the
// zstd default level); progress receives one line per build step
// (io.Discard to silence it).
func New(basePath string, numShards, compressionLevel int, progress io.Writer) *Builder {
	if progress == nil {
		progress = io.Discard
	}
	return &Builder{basePath: basePath, numShards: numShards, compressionLevel: compressionLevel, progress: progress}
}

// Stats summarizes one built version's artifact sizes.
type Stats struct {
	NumDomains            int
	NumFiles              int
	NumDomainDatasetPairs int
	NumPostingsShards     int
}

func (b *Builder) logf(format string, args ...any) {
	fmt.Fprintf(b.progress, format+"\n", args...)
}

func versionDir(basePath, version string) string {
	return filepath.Join(basePath, "index", version)
}

// BuildAll builds every index artifact from scratch over every record
// file found under basePath/urls, publishing the result as version (an
// RFC3339 UTC timestamp if version is empty).
func (b *Builder) BuildAll(version string) (string, Stats, error) {
	lock, existingManifest, err := b.acquireAndCheckShards()
	if err != nil {
		return "", Stats{}, err
	}
	defer lock.Release()
	return b.buildFull(version, existingManifest, nil)
}

// BuildIncremental builds a new version incorporating only files not
// already present in the previous published version's file registry,
// optionally narrowed to datasetIDs. Per §4.8: with no previous version
// it delegates to a full build; with no new matching files it returns the
// previous version unchanged (S3), without a manifest rewrite.
func (b *Builder) BuildIncremental(datasetIDs []uint32) (string, Stats, error) {
	lock, existingManifest, err := b.acquireAndCheckShards()
	if err != nil {
		return "", Stats{}, err
	}
	defer lock.Release()

	version := time.Now().UTC().Format("2006-01-02T15:04:05Z")

	prev, ok := existingManifest.CurrentVersion()
	if !ok {
		return b.buildFull(version, existingManifest, datasetIDs)
	}
	return b.buildIncremental(version, prev, existingManifest, datasetIDs)
}

// acquireAndCheckShards takes the single-writer build lock and enforces
// that b.numShards agrees with the previous version's recorded shard
// count, if any.
func (b *Builder) acquireAndCheckShards() (*manifest.BuildLock, *manifest.Manifest, error) {
	lock, err := manifest.AcquireBuildLock(b.basePath)
	if err != nil {
		return nil, nil, err
	}
	existingManifest, err := manifest.Open(b.basePath)
	if err != nil {
		lock.Release()
		return nil, nil, fmt.Errorf("builder: open manifest: %w", err)
	}
	if prev, ok := existingManifest.CurrentVersion(); ok && prev.NumShards != b.numShards {
		lock.Release()
		return nil, nil, fmt.Errorf("%w: postings shard count changed from %d to %d for the same base path",
			dberrors.ErrConfigInvalid, prev.NumShards, b.numShards)
	}
	return lock, existingManifest, nil
}

// buildFull builds every artifact from scratch over every (optionally
// dataset-filtered) record file found under basePath/urls.
func (b *Builder) buildFull(version string, existingManifest *manifest.Manifest, datasetFilter []uint32) (string, Stats, error) {
	if version == "" {
		version = time.Now().UTC().Format("2006-01-02T15:04:05Z")
	}

	b.logf("building index version %s", version)
	dir := versionDir(b.basePath, version)

	b.logf("step 1/6: scanning file registry")
	reg, err := fileregistry.Scan(b.basePath, ".parquet")
	if err != nil {
		return "", Stats{}, fmt.Errorf("builder: scan file registry: %w", err)
	}
	entries := filterEntries(reg.All(), datasetFilter)

	b.logf("step 2/6: building domain dictionary")
	domains, err := domaindict.ExtractUniqueDomains(recordPaths(b.basePath, entries), b.progress)
	if err != nil {
		return "", Stats{}, fmt.Errorf("builder: extract domains: %w", err)
	}
	if err := domaindict.Write(filepath.Join(dir, "domains.txt.zst"), domains, b.compressionLevel); err != nil {
		return "", Stats{}, fmt.Errorf("builder: write domain dict: %w", err)
	}
	dict := domaindict.New(domains)

	b.logf("step 3/6: building perfect-hash index (%d domains)", dict.Len())
	table := mphf.Build(domains)
	if err := mphf.Save(table, filepath.Join(dir, "domains.mphf"), b.compressionLevel); err != nil {
		return "", Stats{}, fmt.Errorf("builder: save mphf: %w", err)
	}

	b.logf("step 4/6: saving file registry (%d files)", reg.Len())
	if err := fileregistry.Save(reg, filepath.Join(dir, "files.tsv.zst"), b.compressionLevel); err != nil {
		return "", Stats{}, fmt.Errorf("builder: save file registry: %w", err)
	}

	b.logf("step 5/6: scanning record files for memberships and postings")
	memberships, postingsIdx, card, err := b.scanRecordFiles(entries, dict)
	if err != nil {
		return "", Stats{}, err
	}

	membershipIdx := membership.BuildFromMemberships(memberships)
	if err := membership.Save(membershipIdx, filepath.Join(dir, "domain_to_datasets.roar")); err != nil {
		return "", Stats{}, fmt.Errorf("builder: save membership: %w", err)
	}

	if _, err := postings.Save(postingsIdx, b.basePath, version, b.compressionLevel); err != nil {
		return "", Stats{}, fmt.Errorf("builder: save postings: %w", err)
	}

	card.Finalize()
	if err := saveCardinality(card, filepath.Join(dir, "cardinality.cbor")); err != nil {
		return "", Stats{}, fmt.Errorf("builder: save cardinality: %w", err)
	}

	b.logf("step 6/6: publishing manifest")
	v := manifest.NewVersionFromBuild(version, b.numShards, time.Now().UTC())
	if err := existingManifest.PublishVersion(v); err != nil {
		return "", Stats{}, fmt.Errorf("builder: publish manifest: %w", err)
	}

	b.logf("successfully built index version %s", version)

	return version, Stats{
		NumDomains:            dict.Len(),
		NumFiles:              reg.Len(),
		NumDomainDatasetPairs: pairCount(membershipIdx),
		NumPostingsShards:     b.numShards,
	}, nil
}

// buildIncremental implements §4.8's incremental build steps 2-5: find the
// files new since prev, and if there are any, extend (never rebuild) C5,
// merge-extend C2/C4/C6, and publish. Prior file_ids, domain_ids, and
// postings for already-registered files are carried over unchanged.
func (b *Builder) buildIncremental(version string, prev manifest.Version, existingManifest *manifest.Manifest, datasetFilter []uint32) (string, Stats, error) {
	prevDir := versionDir(b.basePath, prev.Version)

	prevReg, err := fileregistry.Load(filepath.Join(prevDir, "files.tsv.zst"))
	if err != nil {
		return "", Stats{}, fmt.Errorf("builder: load previous file registry: %w", err)
	}

	b.logf("building incremental index version %s from %s", version, prev.Version)
	b.logf("step 1/5: scanning for new files")
	mergedReg, err := fileregistry.ScanIncremental(b.basePath, ".parquet", prevReg)
	if err != nil {
		return "", Stats{}, fmt.Errorf("builder: scan file registry: %w", err)
	}
	newEntries := filterEntries(newEntriesSince(prevReg, mergedReg), datasetFilter)

	if len(newEntries) == 0 {
		b.logf("no new files found; version %s unchanged", prev.Version)
		return prev.Version, b.Stats(prev.Version), nil
	}

	dir := versionDir(b.basePath, version)

	prevDomains, err := domaindict.Read(filepath.Join(prevDir, "domains.txt.zst"))
	if err != nil {
		return "", Stats{}, fmt.Errorf("builder: load previous domain dictionary: %w", err)
	}
	prevMembership, err := membership.Load(filepath.Join(prevDir, "domain_to_datasets.roar"))
	if err != nil {
		return "", Stats{}, fmt.Errorf("builder: load previous membership index: %w", err)
	}
	prevPostings, err := postings.Load(b.basePath, prev.Version, prev.NumShards)
	if err != nil {
		return "", Stats{}, fmt.Errorf("builder: load previous postings index: %w", err)
	}

	b.logf("step 2/5: extending domain dictionary (%d new files)", len(newEntries))
	newDomains, err := domaindict.ExtractUniqueDomains(recordPaths(b.basePath, newEntries), b.progress)
	if err != nil {
		return "", Stats{}, fmt.Errorf("builder: extract domains: %w", err)
	}
	domains := domaindict.MergeSorted(prevDomains, newDomains)
	if err := domaindict.Write(filepath.Join(dir, "domains.txt.zst"), domains, b.compressionLevel); err != nil {
		return "", Stats{}, fmt.Errorf("builder: write domain dict: %w", err)
	}
	dict := domaindict.New(domains)

	b.logf("step 3/5: rebuilding perfect-hash index (%d domains)", dict.Len())
	table := mphf.Build(domains)
	if err := mphf.Save(table, filepath.Join(dir, "domains.mphf"), b.compressionLevel); err != nil {
		return "", Stats{}, fmt.Errorf("builder: save mphf: %w", err)
	}

	b.logf("step 4/5: saving extended file registry (%d files)", mergedReg.Len())
	if err := fileregistry.Save(mergedReg, filepath.Join(dir, "files.tsv.zst"), b.compressionLevel); err != nil {
		return "", Stats{}, fmt.Errorf("builder: save file registry: %w", err)
	}

	b.logf("step 5/5: scanning new files and merging memberships/postings")
	newMemberships, newPostings, newCard, err := b.scanRecordFiles(newEntries, dict)
	if err != nil {
		return "", Stats{}, err
	}

	membershipIdx := membership.Merge(prevMembership, newMemberships)
	if err := membership.Save(membershipIdx, filepath.Join(dir, "domain_to_datasets.roar")); err != nil {
		return "", Stats{}, fmt.Errorf("builder: save membership: %w", err)
	}

	mergedPostings, err := postings.Merge(prevPostings, newPostings)
	if err != nil {
		return "", Stats{}, fmt.Errorf("builder: merge postings: %w", err)
	}
	if _, err := postings.Save(mergedPostings, b.basePath, version, b.compressionLevel); err != nil {
		return "", Stats{}, fmt.Errorf("builder: save postings: %w", err)
	}

	prevCardFile, err := os.Open(filepath.Join(prevDir, "cardinality.cbor"))
	if err != nil {
		return "", Stats{}, fmt.Errorf("builder: open previous cardinality sketch: %w", err)
	}
	prevCard, err := cardinality.Load(prevCardFile)
	prevCardFile.Close()
	if err != nil {
		return "", Stats{}, fmt.Errorf("builder: load previous cardinality sketch: %w", err)
	}
	if err := prevCard.Merge(newCard); err != nil {
		return "", Stats{}, fmt.Errorf("builder: merge cardinality sketch: %w", err)
	}
	if err := saveCardinality(prevCard, filepath.Join(dir, "cardinality.cbor")); err != nil {
		return "", Stats{}, fmt.Errorf("builder: save cardinality: %w", err)
	}

	v := manifest.NewVersionFromBuild(version, b.numShards, time.Now().UTC())
	if err := existingManifest.PublishVersion(v); err != nil {
		return "", Stats{}, fmt.Errorf("builder: publish manifest: %w", err)
	}

	b.logf("successfully built incremental index version %s", version)

	return version, Stats{
		NumDomains:            dict.Len(),
		NumFiles:              mergedReg.Len(),
		NumDomainDatasetPairs: pairCount(membershipIdx),
		NumPostingsShards:     b.numShards,
	}, nil
}

// newEntriesSince returns the entries in merged that are not registered
// (by relative path) in prev, the "new files" §4.8 step 2 computes.
func newEntriesSince(prev, merged *fileregistry.Registry) []fileregistry.Entry {
	var out []fileregistry.Entry
	for _, e := range merged.All() {
		if _, ok := prev.FileID(e.RelPath); !ok {
			out = append(out, e)
		}
	}
	return out
}

// pairCount sums, across every domain, the number of datasets it appears
// in, i.e. the total domain-dataset membership pair count.
func pairCount(idx *membership.Index) int {
	total := 0
	for _, domainID := range idx.DomainIDs() {
		total += idx.DatasetCount(domainID)
	}
	return total
}

func recordPaths(basePath string, entries []fileregistry.Entry) []string {
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, filepath.Join(basePath, "urls", e.RelPath))
	}
	return paths
}

func saveCardinality(card *cardinality.Estimator, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return cardinality.Save(card, f)
}

func filterEntries(entries []fileregistry.Entry, datasetIDs []uint32) []fileregistry.Entry {
	if datasetIDs == nil {
		return entries
	}
	allowed := make(map[uint32]struct{}, len(datasetIDs))
	for _, id := range datasetIDs {
		allowed[id] = struct{}{}
	}
	out := entries[:0:0]
	for _, e := range entries {
		if _, ok := allowed[e.DatasetID]; ok {
			out = append(out, e)
		}
	}
	return out
}

func (b *Builder) scanRecordFiles(entries []fileregistry.Entry, dict *domaindict.Dictionary) (map[uint32]map[uint32]struct{}, *postings.Index, *cardinality.Estimator, error) {
	memberships := make(map[uint32]map[uint32]struct{})
	postingsIdx := postings.Empty(b.numShards)
	card := cardinality.New()

	for i, e := range entries {
		path := filepath.Join(b.basePath, "urls", e.RelPath)
		f, err := record.OpenFile(path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("builder: open %s: %w", path, err)
		}

		for rg := 0; rg < f.NumRowGroups(); rg++ {
			rows, err := f.ReadRowGroup(rg)
			if err != nil {
				f.Close()
				return nil, nil, nil, fmt.Errorf("builder: read row group %d of %s: %w", rg, path, err)
			}
			for _, r := range rows {
				domainID, ok := dict.IDFor(r.Domain)
				if !ok {
					continue
				}
				did := uint32(domainID)
				if memberships[did] == nil {
					memberships[did] = make(map[uint32]struct{})
				}
				memberships[did][r.DatasetID] = struct{}{}
				postingsIdx.Add(did, r.DatasetID, e.FileID, uint32(rg))
				card.AddURLID(did, r.DatasetID, r.URLID)
			}
		}
		f.Close()

		if (i+1)%100 == 0 {
			b.logf("  scanned %d/%d files", i+1, len(entries))
			runtime.GC()
		}
	}

	return memberships, postingsIdx, card, nil
}

// Stats reads back the published artifacts for version and reports their
// sizes, the way the original's get_stats inspects each artifact
// independently and treats any that fail to load as zero-valued.
func (b *Builder) Stats(version string) Stats {
	stats := Stats{NumPostingsShards: b.numShards}
	dir := versionDir(b.basePath, version)

	if domains, err := domaindict.Read(filepath.Join(dir, "domains.txt.zst")); err == nil {
		stats.NumDomains = len(domains)
	}
	if reg, err := fileregistry.Load(filepath.Join(dir, "files.tsv.zst")); err == nil {
		stats.NumFiles = reg.Len()
	}
	if idx, err := membership.Load(filepath.Join(dir, "domain_to_datasets.roar")); err == nil {
		stats.NumDomainDatasetPairs = pairCount(idx)
	}
	return stats
}

// NewVersionID generates a random version identifier for callers that
// don't want a timestamp-based one (e.g. concurrent test builds).
func NewVersionID() string {
	return uuid.New().String()
}
