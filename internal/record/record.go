// Author: Fredrik Thulin <fredrik@ispik.se>

// Package record defines the logical row shape the core reads from
// record files (spec §3), plus the small set of helpers — URL
// reconstruction, domain-prefix hashing, and durable dataset
// registration — that the rest of the core treats as fixed inputs.
//
// The columnar record writer itself is out of scope (spec §1); this
// package's Writer/OpenFile exist only so the core's tests and the
// builder's own fixtures have something concrete to read row groups from.
package record

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// Record is a single URL observation within one dataset, matching the
// logical columns of spec §3.
type Record struct {
	DatasetID    uint32 `parquet:"dataset_id"`
	DomainID     int64  `parquet:"domain_id"`
	URLID        int64  `parquet:"url_id"`
	Scheme       string `parquet:"scheme"`
	Host         string `parquet:"host"`
	PathQuery    string `parquet:"path_query"`
	Domain       string `parquet:"domain"`
	DomainPrefix string `parquet:"domain_prefix"`
}

// URL reconstructs the original URL from its decomposed columns, per the
// spec §4.9 algorithm: scheme "://" host path_query.
func (r Record) URL() string {
	return r.Scheme + "://" + r.Host + r.PathQuery
}

// HashID returns xxh3_64(s) reinterpreted as a signed int64, matching the
// original implementation's id64 convention (original_source's
// normalization/ids.py get_url_id/get_domain_id): values at or above 2**63
// land in the negative range rather than overflowing, exactly as Python's
// "if hash_val >= 2**63: hash_val -= 2**64" does.
func HashID(s string) int64 {
	return int64(xxh3.HashString(s))
}

// DomainPrefix returns the first prefixChars lowercase hex characters of
// xxh3_64(domain), used to partition record files (spec §3, §4.1).
func DomainPrefix(domain string, prefixChars int) string {
	h := xxh3.HashString(domain)
	hex := fmt.Sprintf("%016x", h)
	if prefixChars > len(hex) {
		prefixChars = len(hex)
	}
	return hex[:prefixChars]
}
