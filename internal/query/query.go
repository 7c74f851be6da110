package query

import (
	"fmt"
	"path/filepath"

	"github.com/nhagar/dataset-db/internal/dberrors"
	"github.com/nhagar/dataset-db/internal/postings"
	"github.com/nhagar/dataset-db/internal/record"
)

// DomainResult answers "which datasets contain this domain", the Go
// analogue of the original's DomainResponse.
type DomainResult struct {
	Domain   string
	DomainID uint32
	Datasets []uint32
}

// DatasetsForDomain implements get_datasets_for_domain: resolve domain to
// its domain_id via the MPHF, then look up its dataset membership.
func DatasetsForDomain(l *Loader, domain string) (DomainResult, error) {
	domainID, ok := l.LookupDomainID(domain)
	if !ok {
		return DomainResult{}, fmt.Errorf("%w: %s", dberrors.ErrDomainNotFound, domain)
	}
	datasets := l.DatasetsForDomain(domainID)
	return DomainResult{Domain: domain, DomainID: domainID, Datasets: datasets}, nil
}

// URLItem is one reconstructed URL row returned by a paginated query.
type URLItem struct {
	URLID int64
	URL   string
}

// URLsPage is one page of URLsFor's results.
type URLsPage struct {
	Domain     string
	DatasetID  uint32
	Items      []URLItem
	NextOffset *int
}

func datasetContains(datasets []uint32, datasetID uint32) bool {
	for _, id := range datasets {
		if id == datasetID {
			return true
		}
	}
	return false
}

// URLsFor implements get_urls_for_domain_dataset: resolve domain, verify
// dataset membership, walk the postings' row-group pointers in order,
// and return up to limit URLs starting at offset.
func URLsFor(l *Loader, domain string, datasetID uint32, offset, limit int) (URLsPage, error) {
	domainID, ok := l.LookupDomainID(domain)
	if !ok {
		return URLsPage{}, fmt.Errorf("%w: %s", dberrors.ErrDomainNotFound, domain)
	}

	datasets := l.DatasetsForDomain(domainID)
	if !datasetContains(datasets, datasetID) {
		return URLsPage{}, fmt.Errorf("%w: dataset %d does not contain domain %s (domain_id=%d)", dberrors.ErrDatasetMismatch, datasetID, domain, domainID)
	}

	ptrs, err := postings.Lookup(l.basePath, l.version, l.NumShards(), domainID, datasetID)
	if err != nil {
		return URLsPage{}, fmt.Errorf("query: postings lookup: %w", err)
	}
	if len(ptrs) == 0 {
		return URLsPage{Domain: domain, DatasetID: datasetID}, nil
	}

	var items []URLItem
	currentOffset := 0
	remaining := limit

	for _, ptr := range ptrs {
		if remaining <= 0 {
			break
		}
		relPath, ok := l.FilePath(ptr.FileID)
		if !ok {
			continue
		}
		rows, err := readRowGroupFiltered(l.basePath, relPath, int(ptr.RowGroup), domain)
		if err != nil {
			continue
		}

		if currentOffset < offset {
			skip := offset - currentOffset
			if skip > len(rows) {
				skip = len(rows)
			}
			rows = rows[skip:]
			currentOffset += skip
		}

		if len(rows) > remaining {
			rows = rows[:remaining]
		}

		for _, r := range rows {
			items = append(items, URLItem{URLID: r.URLID, URL: r.URL()})
		}
		currentOffset += len(rows)
		remaining -= len(rows)
	}

	var nextOffset *int
	if len(items) == limit {
		n := offset + len(items)
		nextOffset = &n
	}

	return URLsPage{Domain: domain, DatasetID: datasetID, Items: items, NextOffset: nextOffset}, nil
}

// EstimateURLCount returns the approximate distinct URL count for domain
// within datasetID, using the version's HyperLogLog sketch. The second
// return value is false if domain is unknown, the dataset doesn't
// contain it, or no cardinality artifact was published for this version.
func EstimateURLCount(l *Loader, domain string, datasetID uint32) (uint64, bool) {
	domainID, ok := l.LookupDomainID(domain)
	if !ok {
		return 0, false
	}
	if !datasetContains(l.DatasetsForDomain(domainID), datasetID) {
		return 0, false
	}
	est := l.cardinalityEstimator()
	if est == nil {
		return 0, false
	}
	return est.Estimate(domainID, datasetID), true
}

func readRowGroupFiltered(basePath, relPath string, rowGroup int, domain string) ([]record.Record, error) {
	f, err := record.OpenFile(filepath.Join(basePath, "urls", relPath))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.ReadRowGroupFilteredByDomain(rowGroup, domain)
}
