package treestore

import (
	"encoding/hex"
	"hash"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
)

// HashFunc defines a function that creates a new hash.Hash instance.
// The store derives both entry digests and tree node labels from it,
// so every digest and every directory name share one fixed hex width.
type HashFunc func() hash.Hash

// NowFunc defines a function that returns the current time.
type NowFunc func() time.Time

// DigestOf returns the hex digest routing the given key. The digest is
// computed over the key's canonical text form exactly as supplied;
// callers caching structured keys must serialize them to a stable
// string first.
func (s *Store) DigestOf(key string) string {
	h := s.hashFunc()
	io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}

// digestWidth returns the number of hex digits in a digest produced by
// the configured hash function.
func (s *Store) digestWidth() int {
	return s.hashFunc().Size() * 2
}

// defaultHashFunc returns the default hash function (xxHash64).
func defaultHashFunc() hash.Hash {
	return xxhash.New()
}
