package treestore

import (
	"path/filepath"

	"github.com/spf13/afero"
)

// Stats represents store statistics.
type Stats struct {
	Entries       int   // Total number of content files
	Leaves        int   // Leaf directories in the tree
	InternalNodes int   // Directories holding child ranges
	MaxDepth      int   // Deepest leaf, root = 0
	TotalSize     int64 // Total size of all content files in bytes
	IndexLines    int   // Raw index lines, duplicates included
}

// Stats walks the tree and returns statistics about the store. A
// disabled store reports zero values.
func (s *Store) Stats() (Stats, error) {
	if !s.Enabled() {
		return Stats{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{IndexLines: s.indexLines}

	type node struct {
		dir   string
		depth int
	}
	stack := []node{{dir: s.root}}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		infos, err := afero.ReadDir(s.fs, n.dir)
		if err != nil {
			return Stats{}, err
		}

		leaf := true
		for _, info := range infos {
			if info.IsDir() {
				leaf = false
				stack = append(stack, node{dir: filepath.Join(n.dir, info.Name()), depth: n.depth + 1})
				continue
			}
			if info.Name() == indexFileName {
				continue
			}
			stats.Entries++
			stats.TotalSize += info.Size()
		}

		if leaf {
			stats.Leaves++
			if n.depth > stats.MaxDepth {
				stats.MaxDepth = n.depth
			}
		} else {
			stats.InternalNodes++
		}
	}

	return stats, nil
}
