// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package merkle aggregates digests into a SHA256 merkle tree and expresses
// each leaf's inclusion proof as a proof-chain operation sequence.  Calendars
// use it to commit a round of submitted digests to a single root.
package merkle

import (
	"crypto/sha256"
	"errors"

	"github.com/chainstamp/chainstamp/ots"
)

// ErrEmpty is returned when no leaves are provided.
var ErrEmpty = errors.New("empty leaf set")

// Paths builds the tree over leaves and returns the root plus one operation
// path per leaf, in leaf order.  Applying a leaf's path to that leaf yields
// the root.  An odd node at the end of a level is promoted unhashed.
func Paths(leaves [][]byte) ([]byte, [][]ots.Operation, error) {
	if len(leaves) == 0 {
		return nil, nil, ErrEmpty
	}

	paths := make([][]ots.Operation, len(leaves))

	// pos tracks each leaf's node index in the current level.
	pos := make([]int, len(leaves))
	for i := range pos {
		pos[i] = i
	}

	level := make([][]byte, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		// Extend every leaf's path with this level's combine step.
		for leaf, p := range pos {
			switch {
			case p%2 == 0 && p+1 < len(level):
				paths[leaf] = append(paths[leaf],
					ots.Append{Data: level[p+1]},
					ots.Hash{Algorithm: ots.SHA256})
			case p%2 == 1:
				paths[leaf] = append(paths[leaf],
					ots.Prepend{Data: level[p-1]},
					ots.Hash{Algorithm: ots.SHA256})
			default:
				// Promoted odd tail, no operation this level.
			}
			pos[leaf] = p / 2
		}

		next := make([][]byte, 0, (len(level)+1)/2)
		var i int
		for i = 0; i+1 < len(level); i += 2 {
			h := sha256.New()
			h.Write(level[i])
			h.Write(level[i+1])
			next = append(next, h.Sum(nil))
		}
		if i < len(level) {
			next = append(next, level[i])
		}
		level = next
	}

	return level[0], paths, nil
}

// Root returns just the merkle root of leaves.
func Root(leaves [][]byte) ([]byte, error) {
	root, _, err := Paths(leaves)
	return root, err
}
