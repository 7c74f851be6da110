// Package membership implements the domain_id -> roaring bitmap of
// dataset_ids index (C4), translated from original_source's
// index/membership.py. The on-disk DTDR format is wrapped in zstd, unlike
// the original's uncompressed file, matching this module's convention
// that every durable binary artifact is compressed (SPEC_FULL.md §4).
package membership

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zstd"
)

const (
	magic   = "DTDR"
	version = uint32(1)
)

// Index is a read-only domain_id -> set-of-dataset_ids membership table.
type Index struct {
	bitmaps map[uint32]*roaring.Bitmap
}

// Empty returns an index with no memberships, useful as the starting
// point for an incremental merge with no previous version.
func Empty() *Index {
	return &Index{bitmaps: make(map[uint32]*roaring.Bitmap)}
}

// BuildFromMemberships constructs an Index from a domain_id -> set of
// dataset_ids map, as produced by scanning record files.
func BuildFromMemberships(memberships map[uint32]map[uint32]struct{}) *Index {
	idx := Empty()
	for domainID, datasetIDs := range memberships {
		bm := roaring.New()
		for dsID := range datasetIDs {
			bm.Add(dsID)
		}
		idx.bitmaps[domainID] = bm
	}
	return idx
}

// Merge returns a new Index combining old (the previous version) with
// additions (domain_id -> newly observed dataset_ids), without mutating
// either input.
func Merge(old *Index, additions map[uint32]map[uint32]struct{}) *Index {
	merged := Empty()
	for domainID, bm := range old.bitmaps {
		merged.bitmaps[domainID] = bm.Clone()
	}
	for domainID, datasetIDs := range additions {
		bm, ok := merged.bitmaps[domainID]
		if !ok {
			bm = roaring.New()
			merged.bitmaps[domainID] = bm
		}
		for dsID := range datasetIDs {
			bm.Add(dsID)
		}
	}
	return merged
}

// Datasets returns the sorted dataset_ids containing domainID, or nil if
// domainID has no recorded memberships.
func (idx *Index) Datasets(domainID uint32) []uint32 {
	bm, ok := idx.bitmaps[domainID]
	if !ok {
		return nil
	}
	return bm.ToArray()
}

// DatasetCount returns the number of datasets containing domainID.
func (idx *Index) DatasetCount(domainID uint32) int {
	bm, ok := idx.bitmaps[domainID]
	if !ok {
		return 0
	}
	return int(bm.GetCardinality())
}

// Contains reports whether domainID appears in datasetID.
func (idx *Index) Contains(domainID, datasetID uint32) bool {
	bm, ok := idx.bitmaps[domainID]
	if !ok {
		return false
	}
	return bm.Contains(datasetID)
}

// NumDomains returns the count of domains with at least one recorded
// membership.
func (idx *Index) NumDomains() int {
	return len(idx.bitmaps)
}

// DomainIDs returns every domain_id with at least one recorded
// membership, sorted ascending.
func (idx *Index) DomainIDs() []uint32 {
	ids := make([]uint32, 0, len(idx.bitmaps))
	for id := range idx.bitmaps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Save writes the index in the DTDR format:
//
//	[magic][version:u32][n_domains:u64][index_offset:u64]
//	[bitmaps... concatenated, each the roaring serialization]
//	[index: n_domains entries of (domain_id:u32, bitmap_start:u64, bitmap_len:u32)]
//
// sorted by domain_id, then zstd-compressed as a whole.
func Save(idx *Index, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("membership: create dir: %w", err)
	}

	domainIDs := make([]uint32, 0, len(idx.bitmaps))
	for id := range idx.bitmaps {
		domainIDs = append(domainIDs, id)
	}
	sort.Slice(domainIDs, func(i, j int) bool { return domainIDs[i] < domainIDs[j] })

	var body []byte
	type indexEntry struct {
		domainID uint32
		start    uint64
		length   uint32
	}
	entries := make([]indexEntry, 0, len(domainIDs))
	for _, id := range domainIDs {
		serialized, err := idx.bitmaps[id].ToBytes()
		if err != nil {
			return fmt.Errorf("membership: serialize bitmap for domain %d: %w", id, err)
		}
		// bitmap_start is absolute: the 24-byte header precedes the body.
		entries = append(entries, indexEntry{domainID: id, start: uint64(24) + uint64(len(body)), length: uint32(len(serialized))})
		body = append(body, serialized...)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("membership: create %s: %w", path, err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("membership: compress: %w", err)
	}
	w := bufio.NewWriter(zw)

	if _, err := w.WriteString(magic); err != nil {
		return err
	}
	if err := writeU32(w, version); err != nil {
		return err
	}
	if err := writeU64(w, uint64(len(domainIDs))); err != nil {
		return err
	}
	// index_offset: header (4+4+8+8) + len(body)
	indexOffset := uint64(24) + uint64(len(body))
	if err := writeU64(w, indexOffset); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeU32(w, e.domainID); err != nil {
			return err
		}
		if err := writeU64(w, e.start); err != nil {
			return err
		}
		if err := writeU32(w, e.length); err != nil {
			return err
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("membership: flush: %w", err)
	}
	return zw.Close()
}

// Load reads an Index previously written by Save.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("membership: open %s: %w", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("membership: decompress %s: %w", path, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("membership: read %s: %w", path, err)
	}

	if len(data) < 24 {
		return nil, fmt.Errorf("membership: %s too short to be a valid DTDR file", path)
	}
	if string(data[0:4]) != magic {
		return nil, fmt.Errorf("membership: bad magic %q in %s", data[0:4], path)
	}
	v := binary.LittleEndian.Uint32(data[4:8])
	if v != version {
		return nil, fmt.Errorf("membership: unsupported version %d in %s", v, path)
	}
	nDomains := binary.LittleEndian.Uint64(data[8:16])
	indexOffset := binary.LittleEndian.Uint64(data[16:24])

	if indexOffset > uint64(len(data)) {
		return nil, fmt.Errorf("membership: index_offset %d beyond file length %d", indexOffset, len(data))
	}

	idx := Empty()
	offset := indexOffset
	for i := uint64(0); i < nDomains; i++ {
		if offset+16 > uint64(len(data)) {
			return nil, fmt.Errorf("membership: truncated index entry %d", i)
		}
		domainID := binary.LittleEndian.Uint32(data[offset : offset+4])
		start := binary.LittleEndian.Uint64(data[offset+4 : offset+12])
		length := binary.LittleEndian.Uint32(data[offset+12 : offset+16])
		offset += 16

		if start+uint64(length) > uint64(len(data)) {
			return nil, fmt.Errorf("membership: bitmap for domain %d out of range", domainID)
		}
		bm := roaring.New()
		if _, err := bm.FromBuffer(data[start : start+uint64(length)]); err != nil {
			return nil, fmt.Errorf("membership: deserialize bitmap for domain %d: %w", domainID, err)
		}
		idx.bitmaps[domainID] = bm
	}

	return idx, nil
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}
