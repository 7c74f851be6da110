// Package fileregistry implements the stable, append-only file_id
// registry (C5): file_id <-> (dataset_id, domain_prefix, relative_path),
// translated from original_source's index/file_registry.py.
package fileregistry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/nhagar/dataset-db/internal/layout"
)

// Entry describes one registered record file.
type Entry struct {
	FileID       uint32
	DatasetID    uint32
	DomainPrefix string
	RelPath      string
}

// Registry is a read-only, append-only file_id <-> path mapping.
type Registry struct {
	byID    []Entry
	byPath  map[string]uint32
	idIndex map[uint32]int
}

// Empty returns a registry with no entries, the starting point for a
// full build or the base case of an incremental one.
func Empty() *Registry {
	return &Registry{byPath: make(map[string]uint32), idIndex: make(map[uint32]int)}
}

func (r *Registry) append(e Entry) {
	r.idIndex[e.FileID] = len(r.byID)
	r.byID = append(r.byID, e)
	r.byPath[e.RelPath] = e.FileID
}

// Scan walks basePath/urls via internal/layout and assigns sequential
// file_ids (starting at 0) to every record file found, in
// (dataset_id, domain_prefix, part number) order.
func Scan(basePath string, ext string) (*Registry, error) {
	return scanFrom(basePath, ext, Empty())
}

// ScanIncremental extends prev with any record files not already present
// in it, assigning them file_ids starting at max(existing)+1. Already
// registered files are left untouched and keep their original file_id.
func ScanIncremental(basePath string, ext string, prev *Registry) (*Registry, error) {
	return scanFrom(basePath, ext, prev)
}

func scanFrom(basePath, ext string, base *Registry) (*Registry, error) {
	r := Empty()
	for _, e := range base.byID {
		r.append(e)
	}

	var nextID uint32
	for _, e := range r.byID {
		if e.FileID+1 > nextID {
			nextID = e.FileID + 1
		}
	}

	partitions, err := layout.ListPartitions(basePath)
	if err != nil {
		return nil, fmt.Errorf("fileregistry: list partitions: %w", err)
	}

	for _, p := range partitions {
		files, err := layout.ListFiles(basePath, p.DatasetID, p.DomainPrefix, ext)
		if err != nil {
			return nil, fmt.Errorf("fileregistry: list files: %w", err)
		}
		for _, abs := range files {
			rel, err := filepath.Rel(filepath.Join(basePath, "urls"), abs)
			if err != nil {
				return nil, fmt.Errorf("fileregistry: relativize %s: %w", abs, err)
			}
			rel = filepath.ToSlash(rel)
			if _, exists := r.byPath[rel]; exists {
				continue
			}
			r.append(Entry{FileID: nextID, DatasetID: p.DatasetID, DomainPrefix: p.DomainPrefix, RelPath: rel})
			nextID++
		}
	}

	return r, nil
}

// FilePath returns the relative path registered for fileID.
func (r *Registry) FilePath(fileID uint32) (string, bool) {
	e, ok := r.Info(fileID)
	if !ok {
		return "", false
	}
	return e.RelPath, true
}

// Info returns the full entry for fileID.
func (r *Registry) Info(fileID uint32) (Entry, bool) {
	i, ok := r.idIndex[fileID]
	if !ok {
		return Entry{}, false
	}
	return r.byID[i], true
}

// FileID returns the file_id registered for relPath.
func (r *Registry) FileID(relPath string) (uint32, bool) {
	id, ok := r.byPath[relPath]
	return id, ok
}

// Len returns the number of registered files.
func (r *Registry) Len() int {
	return len(r.byID)
}

// All returns every registered entry, ordered by file_id.
func (r *Registry) All() []Entry {
	out := append([]Entry(nil), r.byID...)
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out
}

const tsvHeader = "file_id\tdataset_id\tdomain_prefix\tparquet_rel_path"

// Save writes the registry as a zstd-compressed TSV.
func Save(r *Registry, path string, compressionLevel int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("fileregistry: create dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fileregistry: create %s: %w", path, err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(encoderLevel(compressionLevel)))
	if err != nil {
		return fmt.Errorf("fileregistry: compress: %w", err)
	}
	w := bufio.NewWriter(zw)

	if _, err := fmt.Fprintln(w, tsvHeader); err != nil {
		return err
	}
	for _, e := range r.All() {
		if _, err := fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", e.FileID, e.DatasetID, e.DomainPrefix, e.RelPath); err != nil {
			return err
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("fileregistry: flush: %w", err)
	}
	return zw.Close()
}

// Load reads a registry previously written by Save.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fileregistry: open %s: %w", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("fileregistry: decompress %s: %w", path, err)
	}
	defer zr.Close()

	r := Empty()
	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		return r, nil
	}
	if scanner.Text() != tsvHeader {
		return nil, fmt.Errorf("fileregistry: unexpected header %q in %s", scanner.Text(), path)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			return nil, fmt.Errorf("fileregistry: malformed row %q in %s", line, path)
		}
		fileID, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("fileregistry: bad file_id %q: %w", fields[0], err)
		}
		datasetID, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("fileregistry: bad dataset_id %q: %w", fields[1], err)
		}
		r.append(Entry{
			FileID:       uint32(fileID),
			DatasetID:    uint32(datasetID),
			DomainPrefix: fields[2],
			RelPath:      fields[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("fileregistry: scan %s: %w", path, err)
	}

	return r, nil
}

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
