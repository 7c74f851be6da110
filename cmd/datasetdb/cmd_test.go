package main

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/nhagar/dataset-db/internal/cardinality"
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

func TestBuildThenDatasetsThenURLs(t *testing.T) {
	base := t.TempDir()
	writeRecordFile(t, base, 1, "a.example", []string{"/1", "/2"})
	writeRecordFile(t, base, 2, "a.example", []string{"/x"})

	build := newBuildCmd()
	var buildOut bytes.Buffer
	build.SetOut(&buildOut)
	build.SetArgs([]string{"--base-path", base, "--version", "v1"})
	if err := build.Execute(); err != nil {
		t.Fatalf("build failed: %v\n%s", err, buildOut.String())
	}
	if !regexp.MustCompile(`published version v1: 1 domains, 2 files, 2 domain-dataset pairs`).MatchString(buildOut.String()) {
		t.Errorf("unexpected build output:\n%s", buildOut.String())
	}

	datasets := newDatasetsCmd()
	var datasetsOut bytes.Buffer
	datasets.SetOut(&datasetsOut)
	datasets.SetArgs([]string{"--base-path", base, "a.example"})
	if err := datasets.Execute(); err != nil {
		t.Fatalf("datasets failed: %v", err)
	}
	if !regexp.MustCompile(`appears in 2 dataset\(s\)`).MatchString(datasetsOut.String()) {
		t.Errorf("unexpected datasets output:\n%s", datasetsOut.String())
	}

	urls := newURLsCmd()
	var urlsOut bytes.Buffer
	urls.SetOut(&urlsOut)
	urls.SetArgs([]string{"--base-path", base, "a.example", "1"})
	if err := urls.Execute(); err != nil {
		t.Fatalf("urls failed: %v", err)
	}
	if !regexp.MustCompile(`distinct urls estimated`).MatchString(urlsOut.String()) {
		t.Errorf("expected a cardinality estimate line in:\n%s", urlsOut.String())
	}

	stats := newStatsCmd()
	var statsOut bytes.Buffer
	stats.SetOut(&statsOut)
	stats.SetArgs([]string{"--base-path", base})
	if err := stats.Execute(); err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if !regexp.MustCompile(`domains:\s+1`).MatchString(statsOut.String()) {
		t.Errorf("unexpected stats output:\n%s", statsOut.String())
	}

	versions := newVersionsCmd()
	var versionsOut bytes.Buffer
	versions.SetOut(&versionsOut)
	versions.SetArgs([]string{"--base-path", base})
	if err := versions.Execute(); err != nil {
		t.Fatalf("versions failed: %v", err)
	}
	if !regexp.MustCompile(`v1 \(current\)`).MatchString(versionsOut.String()) {
		t.Errorf("unexpected versions output:\n%s", versionsOut.String())
	}
}

func TestDatasetsUnknownDomainFails(t *testing.T) {
	base := t.TempDir()
	writeRecordFile(t, base, 1, "a.example", []string{"/1"})

	build := newBuildCmd()
	build.SetOut(&bytes.Buffer{})
	build.SetArgs([]string{"--base-path", base, "--version", "v1"})
	if err := build.Execute(); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	datasets := newDatasetsCmd()
	datasets.SetOut(&bytes.Buffer{})
	datasets.SetArgs([]string{"--base-path", base, "missing.example"})
	if err := datasets.Execute(); err == nil {
		t.Error("expected an error for an unknown domain")
	}
}
