package treestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// indexDateLayout is the date stamp used in index lines.
const indexDateLayout = "20060102"

// indexEntry is one parsed line of the index log.
type indexEntry struct {
	date   time.Time
	digest string
	key    string
}

// indexPath returns the path of the store's single index file.
func (s *Store) indexPath() string {
	return filepath.Join(s.root, indexFileName)
}

// appendIndex records key under its digest, dated with the store
// clock. The index is append-only on the write path; duplicates from
// re-added keys are reconciled at read time.
func (s *Store) appendIndex(digest, key string) error {
	f, err := s.fs.OpenFile(s.indexPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s %s: %s\n", s.now().Format(indexDateLayout), digest, strconv.Quote(key))
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to append index entry: %w", err)
	}
	return nil
}

// loadIndexLines reads the raw index lines. A missing index file reads
// as an empty index.
func (s *Store) loadIndexLines() ([]string, error) {
	data, err := afero.ReadFile(s.fs, s.indexPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// saveIndexLines rewrites the whole index file from the given lines.
func (s *Store) saveIndexLines(lines []string) error {
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	if err := afero.WriteFile(s.fs, s.indexPath(), []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to rewrite index: %w", err)
	}
	return nil
}

// parseIndexLine splits a raw line into its date, digest and key
// tokens. Malformed lines report ok=false and are skipped by callers;
// a damaged line never aborts a scan.
func parseIndexLine(line string) (indexEntry, bool) {
	parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(parts) != 3 {
		return indexEntry{}, false
	}
	date, err := time.Parse(indexDateLayout, parts[0])
	if err != nil {
		return indexEntry{}, false
	}
	digest, ok := strings.CutSuffix(parts[1], ":")
	if !ok || digest == "" {
		return indexEntry{}, false
	}
	key, err := strconv.Unquote(parts[2])
	if err != nil {
		return indexEntry{}, false
	}
	return indexEntry{date: date, digest: digest, key: key}, true
}

// lineMatchesDigest reports whether a raw index line records the given
// digest. Removal filters on the digest token alone so even lines with
// a damaged key token get cleaned up.
func lineMatchesDigest(line, digest string) bool {
	parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
	return len(parts) >= 2 && parts[1] == digest+":"
}

// liveEntries returns the authoritative index entry per digest.
// Re-adding a key appends a fresh line, so the newest-dated line wins;
// appends are chronological, which makes the last line the tiebreaker
// for same-day duplicates.
func (s *Store) liveEntries() (map[string]indexEntry, error) {
	lines, err := s.loadIndexLines()
	if err != nil {
		return nil, err
	}

	entries := make(map[string]indexEntry)
	for _, line := range lines {
		entry, ok := parseIndexLine(line)
		if !ok {
			continue
		}
		if prev, ok := entries[entry.digest]; ok && prev.date.After(entry.date) {
			continue
		}
		entries[entry.digest] = entry
	}
	return entries, nil
}

// expiredKeys collects the keys whose authoritative index entry is
// dated strictly before asOf minus the expiry window.
func (s *Store) expiredKeys(asOf time.Time) ([]string, error) {
	entries, err := s.liveEntries()
	if err != nil {
		return nil, err
	}

	cutoff := asOf.AddDate(0, 0, -s.expiryDays)
	var expired []string
	for _, entry := range entries {
		if entry.date.Before(cutoff) {
			s.logger.WithFields(logrus.Fields{
				"key":    entry.key,
				"digest": entry.digest,
				"dated":  entry.date.Format(indexDateLayout),
			}).Debug("entry expired")
			expired = append(expired, entry.key)
		}
	}
	return expired, nil
}

// removeLocked deletes the content files for the given keys and
// rewrites the index without their lines. Keys without a content file
// on disk are logged and skipped; removal stays idempotent. The caller
// must hold the store lock.
func (s *Store) removeLocked(keys []string) error {
	lines, err := s.loadIndexLines()
	if err != nil {
		return err
	}

	for _, key := range keys {
		digest := s.DigestOf(key)
		leaf, err := s.locate(digest)
		if err != nil {
			return err
		}
		path := filepath.Join(leaf, digest)
		s.logger.WithFields(logrus.Fields{"key": key, "digest": digest}).Debug("removing entry")
		if err := s.fs.Remove(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to remove entry %s: %w", digest, err)
			}
			s.logger.WithField("path", path).Warn("broken reference: content file already missing")
		}

		kept := lines[:0]
		for _, line := range lines {
			if !lineMatchesDigest(line, digest) {
				kept = append(kept, line)
			}
		}
		lines = kept
	}

	if err := s.saveIndexLines(lines); err != nil {
		return err
	}
	s.indexLines = len(lines)
	return nil
}
