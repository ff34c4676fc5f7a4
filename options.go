package treestore

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Option defines a function that configures a Store.
type Option func(*Store)

// WithFs sets a custom filesystem for the store.
// This is primarily useful for testing with in-memory filesystems.
//
// Example:
//
//	store, err := treestore.Open(".cache", treestore.WithFs(afero.NewMemMapFs()))
func WithFs(fs afero.Fs) Option {
	return func(s *Store) {
		s.fs = fs
	}
}

// WithHashFunc sets a custom hash function for the store.
// The default is xxHash64. The hash decides both the digest of every
// entry and the width of the tree's node labels, so changing it
// invalidates an existing store directory.
func WithHashFunc(hashFunc HashFunc) Option {
	return func(s *Store) {
		s.hashFunc = hashFunc
	}
}

// WithNowFunc sets a custom time function for the store.
// This is primarily useful for testing with deterministic timestamps.
func WithNowFunc(nowFunc NowFunc) Option {
	return func(s *Store) {
		s.nowFunc = nowFunc
	}
}

// WithLogger sets the logger used by the store. The default is the
// logrus standard logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxNodeEntries sets the soft cap on content files per leaf
// directory. A leaf found above the cap during a rebalance pass is
// split into two digest-range children. Default is 256.
func WithMaxNodeEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxNodeEntries = n
		}
	}
}

// WithRebalanceEvery sets how often the tree is checked for oversized
// leaves: a full rebalance pass runs whenever the index line count is
// an exact multiple of this interval. Default is 512.
func WithRebalanceEvery(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.rebalanceEvery = n
		}
	}
}

// WithExpiryDays sets the age in days after which entries are removed
// by expiry sweeps. Zero expires everything dated before the sweep
// date. Default is 10.
func WithExpiryDays(days int) Option {
	return func(s *Store) {
		if days >= 0 {
			s.expiryDays = days
		}
	}
}
