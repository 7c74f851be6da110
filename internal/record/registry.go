package record

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// DatasetRegistry assigns and durably remembers stable dataset_id values
// for dataset names, so that repeated ingestion runs over the same dataset
// reuse the same id (original_source's ingestion/dataset_registry.py).
//
// The on-disk form is a zstd-compressed TSV of "name\tid" lines, one per
// registered dataset, rewritten atomically via a temp file and rename.
type DatasetRegistry struct {
	path string

	mu     sync.RWMutex
	byName map[string]uint32
	nextID uint32
}

// OpenDatasetRegistry loads the registry at path, creating an empty one in
// memory if the file does not yet exist. The file is written by Register,
// each time it assigns a new id.
func OpenDatasetRegistry(path string) (*DatasetRegistry, error) {
	r := &DatasetRegistry{
		path:   path,
		byName: make(map[string]uint32),
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("record: open dataset registry %s: %w", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("record: decompress dataset registry %s: %w", path, err)
	}
	defer zr.Close()

	scanner := bufio.NewScanner(zr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("record: malformed dataset registry line %q", line)
		}
		id, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("record: malformed dataset registry id %q: %w", parts[1], err)
		}
		r.byName[parts[0]] = uint32(id)
		if uint32(id)+1 > r.nextID {
			r.nextID = uint32(id) + 1
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("record: scan dataset registry %s: %w", path, err)
	}
	return r, nil
}

// Register returns the existing dataset_id for name, assigning and
// persisting a new one if name has not been seen before.
func (r *DatasetRegistry) Register(name string) (uint32, error) {
	if name == "" {
		return 0, fmt.Errorf("record: dataset name must be non-empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byName[name]; ok {
		return id, nil
	}
	if uint64(r.nextID)+1 > 1<<32 {
		return 0, fmt.Errorf("record: dataset id overflow (max uint32)")
	}
	id := r.nextID
	r.byName[name] = id
	r.nextID++

	if err := r.saveLocked(); err != nil {
		delete(r.byName, name)
		r.nextID--
		return 0, err
	}
	return id, nil
}

// IDFor looks up an already-registered dataset's id.
func (r *DatasetRegistry) IDFor(name string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// All returns a copy of the full name -> id mapping.
func (r *DatasetRegistry) All() map[string]uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint32, len(r.byName))
	for k, v := range r.byName {
		out[k] = v
	}
	return out
}

func (r *DatasetRegistry) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("record: create dataset registry dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".dataset-registry-*.tmp")
	if err != nil {
		return fmt.Errorf("record: create temp dataset registry: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	zw, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("record: compress dataset registry: %w", err)
	}

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)

	w := bufio.NewWriter(zw)
	for _, name := range names {
		if _, err := fmt.Fprintf(w, "%s\t%d\n", name, r.byName[name]); err != nil {
			zw.Close()
			tmp.Close()
			return fmt.Errorf("record: write dataset registry entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		zw.Close()
		tmp.Close()
		return fmt.Errorf("record: flush dataset registry: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("record: close zstd writer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("record: close temp dataset registry: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("record: publish dataset registry: %w", err)
	}
	return nil
}
