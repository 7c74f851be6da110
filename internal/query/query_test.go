package query

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nhagar/dataset-db/internal/builder"
	"github.com/nhagar/dataset-db/internal/cardinality"
	"github.com/nhagar/dataset-db/internal/dberrors"
	"github.com/nhagar/dataset-db/internal/layout"
	"github.com/nhagar/dataset-db/internal/record"
)

func init() {
	if err := cardinality.InitDefaults(); err != nil {
		panic(err)
	}
}

func writeRecordFile(t *testing.T, base string, datasetID uint32, domain string, urlSuffixes []string) {
	t.Helper()
	prefix := record.DomainPrefix(domain, 2)
	path := layout.RecordPath(base, datasetID, prefix, 0, ".parquet")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	w, err := record.CreateWriter(path, 1024)
	if err != nil {
		t.Fatalf("CreateWriter failed: %v", err)
	}
	var rows []record.Record
	for _, suffix := range urlSuffixes {
		rows = append(rows, record.Record{
			DatasetID: datasetID, DomainID: record.HashID(domain), URLID: record.HashID(domain + suffix),
			Scheme: "https", Host: domain, PathQuery: suffix, Domain: domain, DomainPrefix: prefix,
		})
	}
	if err := w.WriteRows(rows); err != nil {
		t.Fatalf("WriteRows failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func buildTestIndex(t *testing.T) (base string) {
	t.Helper()
	base = t.TempDir()
	writeRecordFile(t, base, 1, "a.example", []string{"/1", "/2", "/3"})
	writeRecordFile(t, base, 2, "a.example", []string{"/x"})
	writeRecordFile(t, base, 1, "b.example", []string{"/only"})

	b := builder.New(base, 4, 6, nil)
	if _, _, err := b.BuildAll("v1"); err != nil {
		t.Fatalf("BuildAll failed: %v", err)
	}
	return base
}

func TestDatasetsForDomain(t *testing.T) {
	base := buildTestIndex(t)

	loader, err := Load(base)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	result, err := DatasetsForDomain(loader, "a.example")
	if err != nil {
		t.Fatalf("DatasetsForDomain failed: %v", err)
	}
	if len(result.Datasets) != 2 {
		t.Errorf("Datasets = %v, want 2 entries", result.Datasets)
	}

	if _, err := DatasetsForDomain(loader, "missing.example"); !errors.Is(err, dberrors.ErrDomainNotFound) {
		t.Errorf("DatasetsForDomain(missing) error = %v, want ErrDomainNotFound", err)
	}
}

func TestURLsForPagination(t *testing.T) {
	base := buildTestIndex(t)

	loader, err := Load(base)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	page1, err := URLsFor(loader, "a.example", 1, 0, 2)
	if err != nil {
		t.Fatalf("URLsFor failed: %v", err)
	}
	if len(page1.Items) != 2 {
		t.Fatalf("page1 items = %d, want 2", len(page1.Items))
	}
	if page1.NextOffset == nil || *page1.NextOffset != 2 {
		t.Errorf("page1.NextOffset = %v, want 2", page1.NextOffset)
	}

	page2, err := URLsFor(loader, "a.example", 1, 2, 2)
	if err != nil {
		t.Fatalf("URLsFor page2 failed: %v", err)
	}
	if len(page2.Items) != 1 {
		t.Fatalf("page2 items = %d, want 1", len(page2.Items))
	}
	if page2.NextOffset != nil {
		t.Errorf("page2.NextOffset = %v, want nil (final page)", page2.NextOffset)
	}

	seen := map[int64]bool{}
	for _, item := range append(page1.Items, page2.Items...) {
		if seen[item.URLID] {
			t.Errorf("duplicate url_id %d across pages", item.URLID)
		}
		seen[item.URLID] = true
	}
}

func TestURLsForRejectsMismatchedDataset(t *testing.T) {
	base := buildTestIndex(t)

	loader, err := Load(base)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := URLsFor(loader, "b.example", 2, 0, 10); !errors.Is(err, dberrors.ErrDatasetMismatch) {
		t.Errorf("URLsFor mismatched dataset error = %v, want ErrDatasetMismatch", err)
	}
}

func TestEstimateURLCount(t *testing.T) {
	base := buildTestIndex(t)

	loader, err := Load(base)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	count, ok := EstimateURLCount(loader, "a.example", 1)
	if !ok {
		t.Fatal("EstimateURLCount(a.example, 1) ok = false, want true")
	}
	if count == 0 {
		t.Error("EstimateURLCount(a.example, 1) = 0, want a positive estimate for 3 distinct urls")
	}

	if _, ok := EstimateURLCount(loader, "a.example", 99); ok {
		t.Error("EstimateURLCount for a dataset not containing the domain should report ok=false")
	}
	if _, ok := EstimateURLCount(loader, "missing.example", 1); ok {
		t.Error("EstimateURLCount for an unknown domain should report ok=false")
	}
}

func TestURLsForUnknownDomain(t *testing.T) {
	base := buildTestIndex(t)

	loader, err := Load(base)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := URLsFor(loader, "missing.example", 1, 0, 10); !errors.Is(err, dberrors.ErrDomainNotFound) {
		t.Errorf("URLsFor unknown domain error = %v, want ErrDomainNotFound", err)
	}
}
