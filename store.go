package treestore

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Defaults for the tunable store parameters.
const (
	DefaultMaxNodeEntries = 0x100
	DefaultRebalanceEvery = 0x200
	DefaultExpiryDays     = 10
)

// Producer computes the value for a key on a cache miss. It may
// perform arbitrary I/O and must be safe to call from any goroutine;
// the store never invokes it while holding its lock.
type Producer func(key string) ([]byte, error)

// Store is a persistent key-value store addressing content by digest.
// Entries live as files in a self-balancing directory tree under a
// single root; an append-mostly index file records (date, digest, key)
// for enumeration and expiry.
//
// A Store built with New is disabled until Configure points it at a
// root directory; while disabled every data operation is a no-op and
// Fetch passes straight through to the producer. One mutex serializes
// all structural mutations; Contains deliberately reads without it.
type Store struct {
	root           string
	maxNodeEntries int
	rebalanceEvery int
	expiryDays     int

	hashFunc HashFunc
	nowFunc  NowFunc
	fs       afero.Fs
	logger   logrus.FieldLogger

	mu         sync.Mutex
	indexLines int
}

// New creates a disabled store with the given options applied. Until
// Configure is called, data operations pass through or no-op.
func New(options ...Option) *Store {
	s := &Store{
		maxNodeEntries: DefaultMaxNodeEntries,
		rebalanceEvery: DefaultRebalanceEvery,
		expiryDays:     DefaultExpiryDays,
		hashFunc:       defaultHashFunc,
		nowFunc:        time.Now,
		fs:             afero.NewOsFs(),
		logger:         logrus.StandardLogger(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Open creates a store enabled at the given root directory.
// The directory will be created if it doesn't exist.
func Open(root string, options ...Option) (*Store, error) {
	s := New(options...)
	if err := s.Configure(root); err != nil {
		return nil, err
	}
	return s, nil
}

// Configure enables the store at the given root directory, creating it
// if needed, and immediately sweeps expired entries. Reconfiguring an
// enabled store replaces its parameters and root; the store stays
// enabled.
func (s *Store) Configure(root string, options ...Option) error {
	for _, option := range options {
		option(s)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve store root: %w", err)
	}
	if err := s.fs.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("failed to create store root: %w", err)
	}

	s.mu.Lock()
	s.root = abs
	lines, err := s.loadIndexLines()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.indexLines = len(lines)
	s.mu.Unlock()

	s.logger.WithField("root", abs).Debug("store configured")
	return s.InvalidateExpired(s.now())
}

// Enabled reports whether the store has been configured with a root.
func (s *Store) Enabled() bool {
	return s != nil && s.root != ""
}

// PathFor returns the filesystem location owning the key's content
// file, whether or not the file exists yet.
func (s *Store) PathFor(key string) (string, error) {
	digest := s.DigestOf(key)
	leaf, err := s.locate(digest)
	if err != nil {
		return "", err
	}
	return filepath.Join(leaf, digest), nil
}

// Contains reports whether the key has an entry in the store. It takes
// no lock: the check is a pure path lookup and may transiently miss an
// entry being moved by a concurrent split.
func (s *Store) Contains(key string) bool {
	if !s.Enabled() {
		return false
	}
	path, err := s.PathFor(key)
	if err != nil {
		return false
	}
	exists, err := afero.Exists(s.fs, path)
	return err == nil && exists
}

// Fetch returns the value for key, invoking producer on a miss and
// caching its result. The producer runs without the store lock, so two
// concurrent callers missing the same key may both produce; the later
// write wins and both callers return a storage-confirmed value. On a
// disabled store the producer result is returned directly, nothing is
// written. A producer error propagates unmodified and caches nothing.
func (s *Store) Fetch(key string, producer Producer) ([]byte, error) {
	if !s.Enabled() {
		return producer(key)
	}

	s.logger.WithField("key", key).Debug("fetching")
	if !s.Contains(key) {
		value, err := producer(key)
		if err != nil {
			return nil, err
		}
		if err := s.Add(key, value); err != nil {
			return nil, err
		}
	}
	// Read back under the lock so callers always see what is durably
	// stored, including after a concurrent overwrite.
	return s.Get(key)
}

// Add stores value under key, overwriting any previous value, and
// appends an index line dated today. When the index line count reaches
// an exact multiple of the rebalance interval, a full rebalance pass
// runs after the write is released.
func (s *Store) Add(key string, value []byte) error {
	if !s.Enabled() {
		return nil
	}

	digest := s.DigestOf(key)
	lines, err := s.write(digest, key, value)
	if err != nil {
		return err
	}

	if lines%s.rebalanceEvery == 0 {
		s.logger.WithField("indexLines", lines).Debug("rebalance checkpoint reached")
		return s.rebalanceTree()
	}
	return nil
}

// write performs the locked part of Add and returns the index line
// count after the append.
func (s *Store) write(digest, key string, value []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	leaf, err := s.locate(digest)
	if err != nil {
		return 0, err
	}
	if err := afero.WriteFile(s.fs, filepath.Join(leaf, digest), value, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write entry %s: %w", digest, err)
	}
	if err := s.appendIndex(digest, key); err != nil {
		return 0, err
	}
	s.indexLines++
	return s.indexLines, nil
}

// Get returns the value stored for key, or ErrNotFound if the key has
// no entry.
func (s *Store) Get(key string) ([]byte, error) {
	if !s.Enabled() {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	digest := s.DigestOf(key)
	leaf, err := s.locate(digest)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, filepath.Join(leaf, digest))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read entry: %w", err)
	}
	return data, nil
}

// Retrieve returns the value stored for key and whether it was
// present. An absent key is not an error.
func (s *Store) Retrieve(key string) ([]byte, bool, error) {
	data, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Remove deletes the entry for key. Removing an absent key is a no-op.
func (s *Store) Remove(key string) error {
	return s.RemoveMany([]string{key})
}

// RemoveMany deletes the entries for the given keys in one batch,
// rewriting the index once per key. Missing keys and missing content
// files are tolerated.
func (s *Store) RemoveMany(keys []string) error {
	if !s.Enabled() || len(keys) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(keys)
}

// InvalidateExpired removes every entry whose index date is strictly
// older than asOf minus the configured expiry window. A zero asOf
// means now.
func (s *Store) InvalidateExpired(asOf time.Time) error {
	if !s.Enabled() {
		return nil
	}
	if asOf.IsZero() {
		asOf = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expired, err := s.expiredKeys(asOf)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}
	return s.removeLocked(expired)
}

// Keys returns the sorted original keys currently live in the store.
// Duplicate index lines from re-added keys collapse to their newest
// entry.
func (s *Store) Keys() ([]string, error) {
	if !s.Enabled() {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.liveEntries()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		keys = append(keys, entry.key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Rebalance runs the same depth-first split-check pass the store
// triggers internally at rebalance checkpoints.
func (s *Store) Rebalance() error {
	if !s.Enabled() {
		return nil
	}
	return s.rebalanceTree()
}

// Reset deletes every node, entry and the index under the store root.
// The store stays configured and usable afterwards.
func (s *Store) Reset() error {
	if !s.Enabled() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	infos, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return fmt.Errorf("failed to list store root: %w", err)
	}
	for _, info := range infos {
		if err := s.fs.RemoveAll(filepath.Join(s.root, info.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", info.Name(), err)
		}
	}
	s.indexLines = 0
	return nil
}

// now returns the current time according to the store clock.
func (s *Store) now() time.Time {
	return s.nowFunc()
}
