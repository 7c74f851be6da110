// Package postings implements the sharded (domain_id, dataset_id) ->
// [(file_id, row_group)] index (C6), translated from original_source's
// index/postings.py. Postings are sharded by domain_id mod num_shards to
// keep any one shard file manageable, and each shard is a pair of
// zstd-compressed files: an index (PDX1) and a payload blob (PDD1).
package postings

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/nhagar/dataset-db/internal/varint"
)

const (
	magicIdx = "PDX1"
	magicDat = "PDD1"
	version  = uint32(1)

	// DefaultNumShards matches the original implementation's default.
	DefaultNumShards = 1024
)

// Pointer identifies one row group of one record file.
type Pointer struct {
	FileID   uint32
	RowGroup uint32
}

// Key identifies a posting list.
type Key struct {
	DomainID  uint32
	DatasetID uint32
}

// Index is an in-memory postings table, keyed by (domain_id, dataset_id),
// as accumulated by a scan over record files before sharding and saving.
type Index struct {
	numShards int
	postings  map[Key][]Pointer
}

// Empty returns an Index with no postings and the given shard count, the
// starting point for a full build or the base of an incremental merge.
func Empty(numShards int) *Index {
	if numShards <= 0 {
		numShards = DefaultNumShards
	}
	return &Index{numShards: numShards, postings: make(map[Key][]Pointer)}
}

// NumShards returns the shard count this index was built with.
func (idx *Index) NumShards() int {
	return idx.numShards
}

// Add records that domainID appears in dataset datasetID's file fileID,
// row group rowGroup. Pointers are deduplicated per key.
func (idx *Index) Add(domainID, datasetID, fileID, rowGroup uint32) {
	key := Key{DomainID: domainID, DatasetID: datasetID}
	ptr := Pointer{FileID: fileID, RowGroup: rowGroup}
	for _, existing := range idx.postings[key] {
		if existing == ptr {
			return
		}
	}
	idx.postings[key] = append(idx.postings[key], ptr)
}

// Lookup returns the row-group pointers recorded for (domainID, datasetID).
func (idx *Index) Lookup(domainID, datasetID uint32) []Pointer {
	return idx.postings[Key{DomainID: domainID, DatasetID: datasetID}]
}

// Merge returns a new Index combining old (the previous version) with
// additions, without mutating either input. Both indexes must share the
// same shard count.
func Merge(old *Index, additions *Index) (*Index, error) {
	if old.numShards != additions.numShards {
		return nil, fmt.Errorf("postings: shard count mismatch: %d vs %d", old.numShards, additions.numShards)
	}
	merged := Empty(old.numShards)
	for key, ptrs := range old.postings {
		merged.postings[key] = append([]Pointer(nil), ptrs...)
	}
	for key, ptrs := range additions.postings {
		for _, p := range ptrs {
			merged.Add(key.DomainID, key.DatasetID, p.FileID, p.RowGroup)
		}
	}
	return merged, nil
}

func shardOf(domainID uint32, numShards int) int {
	return int(domainID) % numShards
}

// ShardDir returns the directory holding one shard's idx/dat pair.
func ShardDir(basePath, indexVersion string, shard int) string {
	return filepath.Join(basePath, "index", indexVersion, "postings", fmt.Sprintf("%04d", shard))
}

// Save writes idx to basePath/index/indexVersion/postings/, one
// subdirectory per non-empty shard, each holding postings.idx.zst and
// postings.dat.zst. It returns the shard directories written.
func Save(idx *Index, basePath, indexVersion string, compressionLevel int) ([]string, error) {
	type entry struct {
		key  Key
		ptrs []Pointer
	}
	shardEntries := make(map[int][]entry, idx.numShards)
	for key, ptrs := range idx.postings {
		shard := shardOf(key.DomainID, idx.numShards)
		shardEntries[shard] = append(shardEntries[shard], entry{key: key, ptrs: ptrs})
	}

	var written []string
	shards := make([]int, 0, len(shardEntries))
	for s := range shardEntries {
		shards = append(shards, s)
	}
	sort.Ints(shards)

	for _, shard := range shards {
		entries := shardEntries[shard]
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].key.DomainID != entries[j].key.DomainID {
				return entries[i].key.DomainID < entries[j].key.DomainID
			}
			return entries[i].key.DatasetID < entries[j].key.DatasetID
		})

		dir := ShardDir(basePath, indexVersion, shard)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("postings: create shard dir %s: %w", dir, err)
		}

		var dat []byte
		type idxEntry struct {
			key          Key
			payloadStart uint64
			payloadLen   uint32
		}
		idxEntries := make([]idxEntry, 0, len(entries))
		for _, e := range entries {
			sort.Slice(e.ptrs, func(i, j int) bool {
				if e.ptrs[i].FileID != e.ptrs[j].FileID {
					return e.ptrs[i].FileID < e.ptrs[j].FileID
				}
				return e.ptrs[i].RowGroup < e.ptrs[j].RowGroup
			})

			var payload []byte
			payload = varint.Encode(payload, uint64(len(e.ptrs)))
			for _, p := range e.ptrs {
				payload = varint.Encode(payload, uint64(p.FileID))
				payload = varint.Encode(payload, uint64(p.RowGroup))
			}

			idxEntries = append(idxEntries, idxEntry{
				key:          e.key,
				payloadStart: uint64(len(dat)),
				payloadLen:   uint32(len(payload)),
			})
			dat = append(dat, payload...)
		}

		if err := writeShardFile(filepath.Join(dir, "postings.dat.zst"), compressionLevel, func(w io.Writer) error {
			if _, err := io.WriteString(w, magicDat); err != nil {
				return err
			}
			if err := writeU32(w, version); err != nil {
				return err
			}
			_, err := w.Write(dat)
			return err
		}); err != nil {
			return nil, err
		}

		datOffset := uint64(len(magicDat) + 4)
		if err := writeShardFile(filepath.Join(dir, "postings.idx.zst"), compressionLevel, func(w io.Writer) error {
			if _, err := io.WriteString(w, magicIdx); err != nil {
				return err
			}
			if err := writeU32(w, version); err != nil {
				return err
			}
			if err := writeU64(w, uint64(len(idxEntries))); err != nil {
				return err
			}
			if err := writeU64(w, datOffset); err != nil {
				return err
			}
			for _, e := range idxEntries {
				if err := writeU64(w, uint64(e.key.DomainID)); err != nil {
					return err
				}
				if err := writeU32(w, e.key.DatasetID); err != nil {
					return err
				}
				if err := writeU64(w, e.payloadStart); err != nil {
					return err
				}
				if err := writeU32(w, e.payloadLen); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return nil, err
		}

		written = append(written, dir)
	}

	return written, nil
}

func writeShardFile(path string, compressionLevel int, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("postings: create %s: %w", path, err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(encoderLevel(compressionLevel)))
	if err != nil {
		return fmt.Errorf("postings: compress %s: %w", path, err)
	}
	bw := bufio.NewWriter(zw)
	if err := fn(bw); err != nil {
		return fmt.Errorf("postings: write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("postings: flush %s: %w", path, err)
	}
	return zw.Close()
}

// Shard is a single loaded shard, mapping (domain_id, dataset_id) to its
// raw payload bytes. Payloads are decoded lazily via Pointers.
type Shard struct {
	payloads map[Key][]byte
}

// LoadShard reads one shard's idx/dat pair. It returns a Shard with zero
// entries, not an error, if the shard's files don't exist (empty shard).
func LoadShard(basePath, indexVersion string, shard int) (*Shard, error) {
	dir := ShardDir(basePath, indexVersion, shard)
	idxPath := filepath.Join(dir, "postings.idx.zst")
	datPath := filepath.Join(dir, "postings.dat.zst")

	if _, err := os.Stat(idxPath); os.IsNotExist(err) {
		return &Shard{payloads: map[Key][]byte{}}, nil
	}

	idxData, err := readZstdFile(idxPath)
	if err != nil {
		return nil, err
	}
	datData, err := readZstdFile(datPath)
	if err != nil {
		return nil, err
	}

	if len(idxData) < 24 || string(idxData[0:4]) != magicIdx {
		return nil, fmt.Errorf("postings: bad magic in %s", idxPath)
	}
	v := binary.LittleEndian.Uint32(idxData[4:8])
	if v != version {
		return nil, fmt.Errorf("postings: unsupported version %d in %s", v, idxPath)
	}
	nEntries := binary.LittleEndian.Uint64(idxData[8:16])
	// dat_offset at idxData[16:24] is the magic+version prefix length in
	// the .dat file; payload offsets recorded below are relative to it.
	datOffset := binary.LittleEndian.Uint64(idxData[16:24])
	if datOffset > uint64(len(datData)) {
		return nil, fmt.Errorf("postings: dat_offset %d beyond %s length", datOffset, datPath)
	}

	payloads := make(map[Key][]byte, nEntries)
	offset := 24
	for i := uint64(0); i < nEntries; i++ {
		if offset+24 > len(idxData) {
			return nil, fmt.Errorf("postings: truncated index entry %d in %s", i, idxPath)
		}
		domainID := binary.LittleEndian.Uint64(idxData[offset : offset+8])
		datasetID := binary.LittleEndian.Uint32(idxData[offset+8 : offset+12])
		payloadStart := binary.LittleEndian.Uint64(idxData[offset+12 : offset+20])
		payloadLen := binary.LittleEndian.Uint32(idxData[offset+20 : offset+24])
		offset += 24

		start := datOffset + payloadStart
		end := start + uint64(payloadLen)
		if end > uint64(len(datData)) {
			return nil, fmt.Errorf("postings: payload for domain %d out of range in %s", domainID, datPath)
		}
		payloads[Key{DomainID: uint32(domainID), DatasetID: datasetID}] = datData[start:end]
	}

	return &Shard{payloads: payloads}, nil
}

// Lookup decodes the pointer list for (domainID, datasetID), or nil if
// absent from this shard.
func (s *Shard) Lookup(domainID, datasetID uint32) ([]Pointer, error) {
	payload, ok := s.payloads[Key{DomainID: domainID, DatasetID: datasetID}]
	if !ok {
		return nil, nil
	}
	return decodePayload(payload)
}

func decodePayload(payload []byte) ([]Pointer, error) {
	count, offset, err := varint.Decode(payload, 0)
	if err != nil {
		return nil, fmt.Errorf("postings: decode payload count: %w", err)
	}
	ptrs := make([]Pointer, 0, count)
	for i := uint64(0); i < count; i++ {
		fileID, next, err := varint.Decode(payload, offset)
		if err != nil {
			return nil, fmt.Errorf("postings: decode file_id: %w", err)
		}
		offset = next
		rowGroup, next2, err := varint.Decode(payload, offset)
		if err != nil {
			return nil, fmt.Errorf("postings: decode row_group: %w", err)
		}
		offset = next2
		ptrs = append(ptrs, Pointer{FileID: uint32(fileID), RowGroup: uint32(rowGroup)})
	}
	return ptrs, nil
}

// Load reconstructs the full in-memory Index for indexVersion by reading
// every one of its numShards on-disk shards, the starting point for an
// incremental Merge. Shards with no files on disk contribute nothing.
func Load(basePath, indexVersion string, numShards int) (*Index, error) {
	idx := Empty(numShards)
	for shard := 0; shard < numShards; shard++ {
		s, err := LoadShard(basePath, indexVersion, shard)
		if err != nil {
			return nil, err
		}
		for key, payload := range s.payloads {
			ptrs, err := decodePayload(payload)
			if err != nil {
				return nil, fmt.Errorf("postings: decode shard %d payload for domain %d: %w", shard, key.DomainID, err)
			}
			for _, p := range ptrs {
				idx.Add(key.DomainID, key.DatasetID, p.FileID, p.RowGroup)
			}
		}
	}
	return idx, nil
}

// Lookup loads the shard holding domainID on demand and returns its
// pointer list for (domainID, datasetID). Callers querying many domains
// from the same shard should use LoadShard directly and reuse the result.
func Lookup(basePath, indexVersion string, numShards int, domainID, datasetID uint32) ([]Pointer, error) {
	shard, err := LoadShard(basePath, indexVersion, shardOf(domainID, numShards))
	if err != nil {
		return nil, err
	}
	return shard.Lookup(domainID, datasetID)
}

func readZstdFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("postings: open %s: %w", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("postings: decompress %s: %w", path, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("postings: read %s: %w", path, err)
	}
	return data, nil
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
