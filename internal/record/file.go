package record

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"
)

// File is an open record file, read lazily by row group so that a query
// only pays for the row groups it actually needs (spec §4.9).
type File struct {
	f  *os.File
	pf *parquet.File
}

// OpenFile opens the record file at path for row-group-granular reads.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("record: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("record: stat %s: %w", path, err)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("record: read footer of %s: %w", path, err)
	}
	return &File{f: f, pf: pf}, nil
}

// Close releases the underlying file descriptor.
func (rf *File) Close() error {
	return rf.f.Close()
}

// NumRowGroups reports how many row groups the file contains.
func (rf *File) NumRowGroups() int {
	return len(rf.pf.RowGroups())
}

// NumRows reports the total record count across all row groups.
func (rf *File) NumRows() int64 {
	return rf.pf.NumRows()
}

// RowGroupDomainIDs returns the distinct domain_id values present in row
// group idx. It decodes every row of the group to collect them.
func (rf *File) RowGroupDomainIDs(idx int) (map[int64]struct{}, error) {
	rows, err := rf.readRowGroup(idx)
	if err != nil {
		return nil, err
	}
	ids := make(map[int64]struct{})
	for _, r := range rows {
		ids[r.DomainID] = struct{}{}
	}
	return ids, nil
}

// ReadRowGroupFiltered reads row group idx and returns only the records
// whose DomainID matches domainID.
func (rf *File) ReadRowGroupFiltered(idx int, domainID int64) ([]Record, error) {
	rows, err := rf.readRowGroup(idx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		if r.DomainID == domainID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ReadRowGroupFilteredByDomain reads row group idx and returns only the
// records whose Domain string matches domain. Unlike ReadRowGroupFiltered
// (which matches the per-record hash-based DomainID column set at
// ingestion time), this matches against the domain dictionary's domain
// string directly, which is what a query resolved through the MPHF's
// sequential domain_id needs.
func (rf *File) ReadRowGroupFilteredByDomain(idx int, domain string) ([]Record, error) {
	rows, err := rf.readRowGroup(idx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		if r.Domain == domain {
			out = append(out, r)
		}
	}
	return out, nil
}

// ReadRowGroup reads and returns every record in row group idx.
func (rf *File) ReadRowGroup(idx int) ([]Record, error) {
	return rf.readRowGroup(idx)
}

func (rf *File) readRowGroup(idx int) ([]Record, error) {
	groups := rf.pf.RowGroups()
	if idx < 0 || idx >= len(groups) {
		return nil, fmt.Errorf("record: row group %d out of range (have %d)", idx, len(groups))
	}
	rg := groups[idx]
	reader := parquet.NewGenericRowGroupReader[Record](rg)
	rows := make([]Record, rg.NumRows())
	n, err := reader.Read(rows)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("record: read row group %d: %w", idx, err)
	}
	return rows[:n], nil
}
