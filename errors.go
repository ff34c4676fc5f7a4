package treestore

import "errors"

// Sentinel errors
var (
	// ErrNotFound is returned when a requested entry is not present in
	// the store.
	ErrNotFound = errors.New("entry not found")

	// ErrInconsistentTree is returned when a digest lookup reaches an
	// internal node whose children do not cover the digest. The tree
	// structure is corrupt; the store needs manual repair or a Reset.
	ErrInconsistentTree = errors.New("inconsistent store tree")
)
