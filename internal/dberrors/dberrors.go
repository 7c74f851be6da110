// Package dberrors defines the error taxonomy for the dataset-db core.
//
// These are sentinel kinds, not concrete types: callers use errors.Is
// against the values below, and components wrap them with fmt.Errorf's
// %w the same way the rest of this codebase wraps errors.
package dberrors

import "errors"

var (
	// ErrDomainNotFound is returned when a queried domain is absent from
	// the current domain dictionary.
	ErrDomainNotFound = errors.New("domain not found")

	// ErrDatasetMismatch is returned when a domain exists but the given
	// dataset does not contain it.
	ErrDatasetMismatch = errors.New("dataset does not contain domain")

	// ErrFormatInvalid marks a corrupt on-disk artifact: bad magic, wrong
	// version byte, or a length mismatch. Fatal for that artifact.
	ErrFormatInvalid = errors.New("invalid artifact format")

	// ErrVersionCorrupt marks a manifest that names artifacts which are
	// missing or unreadable. Fatal for queries against that version.
	ErrVersionCorrupt = errors.New("version artifacts corrupt or missing")

	// ErrBuildConflict marks a detected concurrent builder on the same
	// base path. The build aborts without publishing.
	ErrBuildConflict = errors.New("concurrent build detected")

	// ErrConfigInvalid marks a build-time configuration that disagrees
	// with a prior build over the same base path (e.g. num_shards changed).
	ErrConfigInvalid = errors.New("invalid or incompatible configuration")

	// ErrIOFailure wraps file-not-found/unreadable/truncated/permission
	// conditions encountered while scanning or reading record files.
	ErrIOFailure = errors.New("io failure")
)
