/*
Package treestore provides a persistent, thread-safe key-value store
that addresses content by digest, built to avoid re-fetching or
recomputing expensive values across program runs.

# Overview

Each entry is a raw file named by the hex digest of its key, stored in
a self-balancing directory tree under a single root. When a leaf
directory accumulates more content files than the configured cap, it is
split into two children partitioning its digest range, so no single
directory's file count grows without bound. A single append-mostly
index file at the root records one dated line per add, used for key
enumeration and time-based expiry.

# Layout

A node directory is either a leaf (content files, plus the index file
at the root) or an internal node holding exactly two subdirectories.
Subdirectory names are lowercase hex strings labelling the inclusive
upper bound of the digest range routed into them. The index file is
UTF-8 text, one line per entry:

	YYYYMMDD <digest>: "<original key>"

# Basic Usage

Opening a store:

	store, err := treestore.Open(".cache")
	if err != nil {
	    log.Fatalf("failed to open store: %v", err)
	}

Reading through the cache with a producer for misses:

	value, err := store.Fetch("https://example.com/report", download)

The producer only runs when the key is absent, and never while the
store lock is held, so slow producers don't serialize each other.
A store built with New but never configured is disabled: Fetch calls
the producer directly and stores nothing, which lets callers keep one
code path whether caching is on or off.

# Concurrency

One mutex per store serializes every structural mutation: writes,
removals, splits and resets. Contains reads without the lock; during an
in-flight split it may transiently look in the pre-split location and
report a false miss. Two goroutines fetching the same absent key may
therefore both invoke the producer; the later write wins and both
return the stored value. Crash between the content write and the index
append leaves an unindexed content file: present to lookups, invisible
to Keys and expiry.

# Digests

Keys are digested over their canonical string form with xxHash64 by
default; WithHashFunc swaps in any fixed-width hash (md5, sha1, ...).
Node labels share the digest's hex width, so labels and digests are
always directly comparable. Changing the hash invalidates an existing
store directory.
*/
package treestore
