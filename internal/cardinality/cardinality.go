// Package cardinality provides an optional, approximate per-(domain_id,
// dataset_id) URL-count estimator built on HyperLogLog, adapted from the
// teacher's internal/dataset.go and internal/store.go: the same
// HLLWrapper/CBOR-tag technique, reused here keyed by domain and dataset
// instead of by domain and client IP.
package cardinality

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/segmentio/go-hll"
)

// HLLWrapper wraps hll.Hll to provide CBOR marshaling as a binary blob,
// identical in shape to the teacher's wrapper.
type HLLWrapper struct {
	*hll.Hll
}

// MarshalCBOR encodes the HLL's raw byte representation as CBOR bytes.
func (hw HLLWrapper) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(hw.ToBytes())
}

// UnmarshalCBOR decodes a CBOR-encoded []byte back into an HLLWrapper.
func (hw *HLLWrapper) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	h, err := hll.FromBytes(raw)
	if err != nil {
		return err
	}
	hw.Hll = &h
	return nil
}

// InitDefaults configures the package-wide HLL precision. Callers should
// invoke this once at startup, before building or loading any Estimator,
// the same way the teacher's InitStats does for its own HLLs.
func InitDefaults() error {
	return hll.Defaults(hll.Settings{
		Log2m:             14,
		Regwidth:          5,
		ExplicitThreshold: 0,
		SparseEnabled:     true,
	})
}

// Key identifies one (domain, dataset) pair being counted.
type Key struct {
	DomainID  uint32 `cbor:"domain_id"`
	DatasetID uint32 `cbor:"dataset_id"`
}

type entry struct {
	Key   Key         `cbor:"key"`
	Hll   *HLLWrapper `cbor:"hll"`
	Count uint64      `cbor:"count"`
}

// Estimator tracks approximate distinct URL counts per (domain_id,
// dataset_id), built incrementally as record files are scanned.
type Estimator struct {
	entries map[Key]*entry
}

// New returns an empty Estimator.
func New() *Estimator {
	return &Estimator{entries: make(map[Key]*entry)}
}

// AddURLID records one observed url_id for (domainID, datasetID).
func (e *Estimator) AddURLID(domainID, datasetID uint32, urlID int64) {
	key := Key{DomainID: domainID, DatasetID: datasetID}
	ent, ok := e.entries[key]
	if !ok {
		ent = &entry{Key: key, Hll: &HLLWrapper{Hll: &hll.Hll{}}}
		e.entries[key] = ent
	}
	ent.Hll.AddRaw(uint64(urlID))
}

// Finalize computes the cardinality estimate for every tracked key. It
// must be called before Estimate returns a populated count.
func (e *Estimator) Finalize() {
	for _, ent := range e.entries {
		ent.Count = ent.Hll.Cardinality()
	}
}

// Estimate returns the estimated distinct URL count for (domainID,
// datasetID), or 0 if nothing has been recorded for it.
func (e *Estimator) Estimate(domainID, datasetID uint32) uint64 {
	ent, ok := e.entries[Key{DomainID: domainID, DatasetID: datasetID}]
	if !ok {
		return 0
	}
	return ent.Count
}

// Merge folds additions into e in place, unioning HLLs for shared keys.
func (e *Estimator) Merge(additions *Estimator) error {
	for key, addEnt := range additions.entries {
		ent, ok := e.entries[key]
		if !ok {
			e.entries[key] = &entry{Key: key, Hll: addEnt.Hll}
			continue
		}
		if err := ent.Hll.StrictUnion(*addEnt.Hll.Hll); err != nil {
			return fmt.Errorf("cardinality: union for domain %d dataset %d: %w", key.DomainID, key.DatasetID, err)
		}
	}
	return nil
}

// wireFormat is the CBOR-encoded document written to disk: a flat list
// of entries, matching the teacher's single-record-per-file CBOR
// convention (WriteDNSMagFile) rather than a nested map.
type wireFormat struct {
	Entries []entry `cbor:"entries"`
}

// Save serializes every key's estimate as a CBOR document.
func Save(e *Estimator, w io.Writer) error {
	e.Finalize()
	doc := wireFormat{Entries: make([]entry, 0, len(e.entries))}
	for _, ent := range e.entries {
		doc.Entries = append(doc.Entries, *ent)
	}
	return cbor.NewEncoder(w).Encode(doc)
}

// Load reads an Estimator previously written by Save.
func Load(r io.Reader) (*Estimator, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("cardinality: read: %w", err)
	}
	var doc wireFormat
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("cardinality: decode: %w", err)
	}
	e := New()
	for _, ent := range doc.Entries {
		copy := ent
		e.entries[ent.Key] = &copy
	}
	return e, nil
}
