// Package mphf implements the two-level domain-to-id hash table (C3):
// a primary hash64->id map with a collision map keyed by the same hash,
// disambiguated by a 16-bit tag plus exact string comparison. Translated
// from original_source's index/mphf.py (SimpleMPHF).
package mphf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
)

const (
	magic   = "MPHF"
	version = uint32(1)
)

type collisionEntry struct {
	tag      uint16
	domain   string
	domainID uint32
}

// Table is a read-only, concurrency-safe domain->domain_id lookup built
// from one version's domain dictionary.
type Table struct {
	primary   map[uint64]uint32
	collision map[uint64][]collisionEntry
}

// Build constructs a Table from domains in dictionary order; domains[i]'s
// domain_id is i.
func Build(domains []string) *Table {
	t := &Table{
		primary:   make(map[uint64]uint32, len(domains)),
		collision: make(map[uint64][]collisionEntry),
	}

	for id, domain := range domains {
		h := hash64(domain)
		tag := uint16(h >> 48)

		if existingID, ok := t.primary[h]; ok {
			if _, isCollision := t.collision[h]; !isCollision {
				existingDomain := domains[existingID]
				existingTag := uint16(hash64(existingDomain) >> 48)
				t.collision[h] = []collisionEntry{{tag: existingTag, domain: existingDomain, domainID: existingID}}
			}
			t.collision[h] = append(t.collision[h], collisionEntry{tag: tag, domain: domain, domainID: uint32(id)})
			continue
		}
		t.primary[h] = uint32(id)
	}

	return t
}

func hash64(domain string) uint64 {
	return xxh3.HashString(domain)
}

// Lookup returns the domain_id for domain, or ok=false if domain was not
// part of the build set.
func (t *Table) Lookup(domain string) (uint32, bool) {
	h := hash64(domain)
	tag := uint16(h >> 48)

	if entries, ok := t.collision[h]; ok {
		for _, e := range entries {
			if e.tag == tag && e.domain == domain {
				return e.domainID, true
			}
		}
		return 0, false
	}

	if id, ok := t.primary[h]; ok {
		return id, true
	}
	return 0, false
}

// NumCollisions reports how many distinct hash values own a collision
// list, exposed mainly for tests and build-time diagnostics.
func (t *Table) NumCollisions() int {
	return len(t.collision)
}

// Save writes the table to path as a zstd-compressed MPHF-format blob.
func Save(t *Table, path string, compressionLevel int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mphf: create dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("mphf: create %s: %w", path, err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(encoderLevel(compressionLevel)))
	if err != nil {
		return fmt.Errorf("mphf: compress: %w", err)
	}
	w := bufio.NewWriter(zw)

	numDirect := uint64(len(t.primary))
	numCollisions := uint32(len(t.collision))

	if _, err := w.WriteString(magic); err != nil {
		return err
	}
	if err := writeU32(w, version); err != nil {
		return err
	}
	if err := writeU64(w, numDirect); err != nil {
		return err
	}
	if err := writeU32(w, numCollisions); err != nil {
		return err
	}

	primaryHashes := make([]uint64, 0, len(t.primary))
	for h := range t.primary {
		primaryHashes = append(primaryHashes, h)
	}
	sort.Slice(primaryHashes, func(i, j int) bool { return primaryHashes[i] < primaryHashes[j] })
	for _, h := range primaryHashes {
		if err := writeU64(w, h); err != nil {
			return err
		}
		if err := writeU32(w, t.primary[h]); err != nil {
			return err
		}
	}

	collisionHashes := make([]uint64, 0, len(t.collision))
	for h := range t.collision {
		collisionHashes = append(collisionHashes, h)
	}
	sort.Slice(collisionHashes, func(i, j int) bool { return collisionHashes[i] < collisionHashes[j] })
	for _, h := range collisionHashes {
		entries := t.collision[h]
		if err := writeU64(w, h); err != nil {
			return err
		}
		if err := writeU16(w, uint16(len(entries))); err != nil {
			return err
		}
		for _, e := range entries {
			if err := writeU16(w, e.tag); err != nil {
				return err
			}
			domainBytes := []byte(e.domain)
			if err := writeU16(w, uint16(len(domainBytes))); err != nil {
				return err
			}
			if _, err := w.Write(domainBytes); err != nil {
				return err
			}
			if err := writeU32(w, e.domainID); err != nil {
				return err
			}
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("mphf: flush: %w", err)
	}
	return zw.Close()
}

// Load reads a table previously written by Save.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mphf: open %s: %w", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("mphf: decompress %s: %w", path, err)
	}
	defer zr.Close()
	r := bufio.NewReader(zr)

	magicBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, magicBuf); err != nil {
		return nil, fmt.Errorf("mphf: read magic: %w", err)
	}
	if string(magicBuf) != magic {
		return nil, fmt.Errorf("mphf: bad magic %q in %s", magicBuf, path)
	}

	v, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("mphf: read version: %w", err)
	}
	if v != version {
		return nil, fmt.Errorf("mphf: unsupported version %d in %s", v, path)
	}

	numDirect, err := readU64(r)
	if err != nil {
		return nil, fmt.Errorf("mphf: read num_direct: %w", err)
	}
	numCollisions, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("mphf: read num_collisions: %w", err)
	}

	t := &Table{
		primary:   make(map[uint64]uint32, numDirect),
		collision: make(map[uint64][]collisionEntry, numCollisions),
	}

	for i := uint64(0); i < numDirect; i++ {
		h, err := readU64(r)
		if err != nil {
			return nil, fmt.Errorf("mphf: read primary hash %d: %w", i, err)
		}
		id, err := readU32(r)
		if err != nil {
			return nil, fmt.Errorf("mphf: read primary id %d: %w", i, err)
		}
		t.primary[h] = id
	}

	for i := uint32(0); i < numCollisions; i++ {
		h, err := readU64(r)
		if err != nil {
			return nil, fmt.Errorf("mphf: read collision hash %d: %w", i, err)
		}
		n, err := readU16(r)
		if err != nil {
			return nil, fmt.Errorf("mphf: read collision count %d: %w", i, err)
		}
		entries := make([]collisionEntry, 0, n)
		for j := uint16(0); j < n; j++ {
			tag, err := readU16(r)
			if err != nil {
				return nil, fmt.Errorf("mphf: read tag: %w", err)
			}
			domainLen, err := readU16(r)
			if err != nil {
				return nil, fmt.Errorf("mphf: read domain length: %w", err)
			}
			domainBytes := make([]byte, domainLen)
			if _, err := io.ReadFull(r, domainBytes); err != nil {
				return nil, fmt.Errorf("mphf: read domain: %w", err)
			}
			domainID, err := readU32(r)
			if err != nil {
				return nil, fmt.Errorf("mphf: read domain id: %w", err)
			}
			entries = append(entries, collisionEntry{tag: tag, domain: string(domainBytes), domainID: domainID})
		}
		t.collision[h] = entries
	}

	return t, nil
}

func writeU16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
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

func readU16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
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
