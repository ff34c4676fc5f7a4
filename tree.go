package treestore

import (
	"fmt"
	"io"
	"math/big"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// indexFileName is the name of the index file kept at the store root.
// The name is reserved: it is never counted or moved as content.
const indexFileName = "index"

// locate resolves the leaf directory owning the given digest. Starting
// at the root, it descends into the lexicographically smallest child
// whose label is >= the digest until it reaches a directory with no
// children. A directory with children none of which covers the digest
// means the tree no longer partitions the digest space; that is
// surfaced as ErrInconsistentTree.
func (s *Store) locate(digest string) (string, error) {
	dir := s.root
	for {
		children, err := s.childDirs(dir)
		if err != nil {
			return "", err
		}
		if len(children) == 0 {
			return dir, nil
		}

		next := ""
		for _, name := range children {
			if digest <= name {
				next = name
				break
			}
		}
		if next == "" {
			return "", fmt.Errorf("%w: no child of %s covers digest %s", ErrInconsistentTree, dir, digest)
		}
		dir = filepath.Join(dir, next)
	}
}

// childDirs lists the subdirectory names of dir in lexical order.
func (s *Store) childDirs(dir string) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list node %s: %w", dir, err)
	}

	var names []string
	for _, info := range infos {
		if info.IsDir() {
			names = append(names, info.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// countEntries counts the content files directly under dir, stopping
// as soon as the count exceeds limit. Subdirectories and the index
// file are not content.
func (s *Store) countEntries(dir string, limit int) (int, error) {
	f, err := s.fs.Open(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to open node %s: %w", dir, err)
	}
	defer f.Close()

	count := 0
	for {
		infos, err := f.Readdir(128)
		for _, info := range infos {
			if info.IsDir() || info.Name() == indexFileName {
				continue
			}
			count++
			if count > limit {
				return count, nil
			}
		}
		if err == io.EOF || (err == nil && len(infos) == 0) {
			return count, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read node %s: %w", dir, err)
		}
	}
}

// splitBounds computes the labels of the two children created when the
// node at the given depth splits. parentSup is the splitting node's own
// upper-bound label, empty at the root. At the root the digest space
// [0, top] halves into [0, top>>1] and (top>>1, top]; deeper nodes
// subtract the initial half-range shrunk geometrically with depth from
// their own upper bound.
func (s *Store) splitBounds(depth int, parentSup string) (string, string, error) {
	width := s.digestWidth()

	top := new(big.Int).Lsh(big.NewInt(1), uint(width*4))
	top.Sub(top, big.NewInt(1))
	halfInit := new(big.Int).Rsh(top, 1)

	var inf, sup *big.Int
	if depth == 0 {
		inf = halfInit
		sup = top
	} else {
		sup = new(big.Int)
		if _, ok := sup.SetString(parentSup, 16); !ok {
			return "", "", fmt.Errorf("%w: malformed node label %q", ErrInconsistentTree, parentSup)
		}
		diff := new(big.Int).Sub(top, halfInit)
		diff.Rsh(diff, uint(depth))
		inf = new(big.Int).Sub(sup, diff)
	}

	return fmt.Sprintf("%0*x", width, inf), fmt.Sprintf("%0*x", width, sup), nil
}

// splitNode turns the leaf at dir into an internal node with two
// digest-range children and distributes its content files between
// them. The move runs under the store lock so no writer can add files
// to the leaf mid-split.
func (s *Store) splitNode(dir string, depth int, parentSup string) error {
	lowName, highName, err := s.splitBounds(depth, parentSup)
	if err != nil {
		return err
	}
	lowDir := filepath.Join(dir, lowName)
	highDir := filepath.Join(dir, highName)
	s.logger.WithFields(logrus.Fields{"low": lowDir, "high": highDir}).Info("splitting store node")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(lowDir, 0o755); err != nil {
		return fmt.Errorf("failed to create node %s: %w", lowDir, err)
	}
	if err := s.fs.MkdirAll(highDir, 0o755); err != nil {
		return fmt.Errorf("failed to create node %s: %w", highDir, err)
	}

	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return fmt.Errorf("failed to list node %s: %w", dir, err)
	}
	for _, info := range infos {
		if info.IsDir() || info.Name() == indexFileName {
			continue
		}
		// The file name is the entry's digest; it goes to whichever
		// child's range contains it.
		dest := highDir
		if info.Name() <= lowName {
			dest = lowDir
		}
		s.logger.WithFields(logrus.Fields{"entry": info.Name(), "node": dest}).Debug("moving entry")
		if err := s.fs.Rename(filepath.Join(dir, info.Name()), filepath.Join(dest, info.Name())); err != nil {
			return fmt.Errorf("failed to move entry %s: %w", info.Name(), err)
		}
	}
	return nil
}

// rebalanceTree walks the whole tree with an explicit worklist and
// splits every leaf found holding more than maxNodeEntries content
// files. Only the individual splits take the store lock; the scan
// between them does not, so concurrent lookups keep working during a
// long pass.
func (s *Store) rebalanceTree() error {
	type node struct {
		dir   string
		depth int
		sup   string
	}

	stack := []node{{dir: s.root}}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		count, err := s.countEntries(n.dir, s.maxNodeEntries)
		if err != nil {
			return err
		}
		if count > s.maxNodeEntries {
			if err := s.splitNode(n.dir, n.depth, n.sup); err != nil {
				return err
			}
		}

		// Children listed after the split so freshly created nodes are
		// themselves checked before the pass finishes.
		children, err := s.childDirs(n.dir)
		if err != nil {
			return err
		}
		for _, name := range children {
			stack = append(stack, node{dir: filepath.Join(n.dir, name), depth: n.depth + 1, sup: name})
		}
	}
	return nil
}
