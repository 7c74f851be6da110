// Package domaindict builds and serves the sorted domain universe for one
// version (C2), translated from original_source's index/domain_dict.py.
package domaindict

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/nhagar/dataset-db/internal/record"
)

// ExtractUniqueDomains reads the domain column of every record file in
// files and returns the sorted set of distinct values. A file that fails
// to open or read is logged to warn and skipped rather than aborting the
// build; if every file fails, the result is an empty slice.
func ExtractUniqueDomains(files []string, warn io.Writer) ([]string, error) {
	seen := make(map[string]struct{})
	for _, path := range files {
		if err := collectDomains(path, seen); err != nil {
			if warn != nil {
				fmt.Fprintf(warn, "domaindict: skipping %s: %v\n", path, err)
			}
			continue
		}
	}
	return sortedKeys(seen), nil
}

func collectDomains(path string, into map[string]struct{}) error {
	rf, err := record.OpenFile(path)
	if err != nil {
		return err
	}
	defer rf.Close()

	for i := 0; i < rf.NumRowGroups(); i++ {
		rows, err := rf.ReadRowGroup(i)
		if err != nil {
			return err
		}
		for _, r := range rows {
			into[r.Domain] = struct{}{}
		}
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MergeSorted appends, in sorted order, every domain in newDomains that is
// not already present in oldDomains. oldDomains is never reordered, which
// is what keeps domain_id stable across incremental builds.
func MergeSorted(oldDomains, newDomains []string) []string {
	existing := make(map[string]struct{}, len(oldDomains))
	for _, d := range oldDomains {
		existing[d] = struct{}{}
	}

	var trulyNew []string
	for _, d := range newDomains {
		if _, ok := existing[d]; !ok {
			trulyNew = append(trulyNew, d)
			existing[d] = struct{}{}
		}
	}
	sort.Strings(trulyNew)

	merged := make([]string, 0, len(oldDomains)+len(trulyNew))
	merged = append(merged, oldDomains...)
	merged = append(merged, trulyNew...)
	return merged
}

// Write serializes domains as newline-delimited text (with a trailing
// newline) compressed at the given zstd level.
func Write(path string, domains []string, level int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("domaindict: create dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("domaindict: create %s: %w", path, err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(encoderLevel(level)))
	if err != nil {
		return fmt.Errorf("domaindict: compress: %w", err)
	}
	w := bufio.NewWriter(zw)
	for _, d := range domains {
		if _, err := w.WriteString(d); err != nil {
			zw.Close()
			return fmt.Errorf("domaindict: write: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			zw.Close()
			return fmt.Errorf("domaindict: write: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		zw.Close()
		return fmt.Errorf("domaindict: flush: %w", err)
	}
	return zw.Close()
}

// Read loads a domain dictionary written by Write. An empty file (zero
// bytes, or only a trailing newline) yields an empty, non-nil slice.
func Read(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("domaindict: open %s: %w", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("domaindict: decompress %s: %w", path, err)
	}
	defer zr.Close()

	domains := make([]string, 0)
	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		domains = append(domains, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("domaindict: scan %s: %w", path, err)
	}
	return domains, nil
}

// encoderLevel maps the config's 1-22 zstd compression-level scale onto
// the coarser SpeedX levels klauspost/compress/zstd actually exposes.
func encoderLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 6:
		return zstd.SpeedDefault
	case level <= 12:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// Dictionary is an in-memory, read-only view of one version's domain
// universe, giving O(1) id<->domain lookups in both directions. The id of
// a domain is its index in the ordered list.
type Dictionary struct {
	domains []string
	byName  map[string]int32
}

// New builds a Dictionary from an ordered domain list (as produced by
// ExtractUniqueDomains or MergeSorted, or loaded via Read).
func New(domains []string) *Dictionary {
	byName := make(map[string]int32, len(domains))
	for i, d := range domains {
		byName[d] = int32(i)
	}
	return &Dictionary{domains: domains, byName: byName}
}

// Len returns the number of domains in the universe.
func (d *Dictionary) Len() int {
	return len(d.domains)
}

// IDFor returns the domain_id for domain, and whether it was found.
func (d *Dictionary) IDFor(domain string) (int32, bool) {
	id, ok := d.byName[domain]
	return id, ok
}

// DomainFor returns the domain string at id, and whether id is in range.
func (d *Dictionary) DomainFor(id int32) (string, bool) {
	if id < 0 || int(id) >= len(d.domains) {
		return "", false
	}
	return d.domains[id], true
}

// All returns the full ordered domain list. Callers must not mutate it.
func (d *Dictionary) All() []string {
	return d.domains
}
