package object

import "fmt"

// ExpandReachable adds to out every object transitively referenced by the
// given commit: the commit itself, its root dirtree and dirmeta, and every
// nested dirtree, dirmeta and file. Parent commit edges are not followed.
//
// The walk is an explicit worklist over dirtree checksums so arbitrarily
// deep trees cannot exhaust the stack. File and dirmeta references are
// recorded without being loaded; a missing leaf is left for the verifier
// to discover. A missing or unparsable dirtree, however, fails the walk —
// expanding the graph requires the tree spine to be present.
//
// Calling this repeatedly with the same input is idempotent, and expanding
// multiple commits into one set deduplicates shared subtrees.
func (s *Store) ExpandReachable(commit Hash, out map[ObjectID]struct{}) error {
	data, err := s.LoadMetadata(ObjectID{Checksum: commit, Kind: KindCommit})
	if err != nil {
		return fmt.Errorf("expand reachable: %w", err)
	}
	c, err := UnmarshalCommit(data)
	if err != nil {
		return fmt.Errorf("expand reachable: commit %s: %w", commit, err)
	}

	out[ObjectID{Checksum: commit, Kind: KindCommit}] = struct{}{}
	out[ObjectID{Checksum: c.Meta, Kind: KindDirMeta}] = struct{}{}

	queue := []Hash{c.Tree}
	for len(queue) > 0 {
		tree := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		id := ObjectID{Checksum: tree, Kind: KindDirTree}
		if _, ok := out[id]; ok {
			continue
		}
		out[id] = struct{}{}

		data, err := s.LoadMetadata(id)
		if err != nil {
			return fmt.Errorf("expand reachable: %w", err)
		}
		tr, err := UnmarshalDirTree(data)
		if err != nil {
			return fmt.Errorf("expand reachable: dirtree %s: %w", tree, err)
		}
		for _, f := range tr.Files {
			out[ObjectID{Checksum: f.Checksum, Kind: KindFile}] = struct{}{}
		}
		for _, d := range tr.Dirs {
			out[ObjectID{Checksum: d.Meta, Kind: KindDirMeta}] = struct{}{}
			queue = append(queue, d.Tree)
		}
	}
	return nil
}
