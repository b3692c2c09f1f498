// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ots

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyChain is returned when evaluating a chain with no nodes.
	ErrEmptyChain = errors.New("empty chain")

	// ErrNotPending is returned by ReplaceBranch when the target node is
	// not a pending leaf.
	ErrNotPending = errors.New("node is not a pending leaf")
)

// node is a single entry in the chain arena.  A node applies ops in order and
// then either fans out into branches or terminates in an attestation.
// Exactly one of branches/att is populated.
type node struct {
	ops      []Operation
	branches []int
	att      Attestation
}

// Chain is a directed forest of operations terminating in attestations.  It
// models one original digest attested via multiple independent derivation
// paths.  Nodes live in an arena addressed by index so branch replacement is
// an index rebind rather than pointer surgery; the root is always index 0.
type Chain struct {
	nodes []node
}

// NewChain returns a chain with a single path: the provided operations
// followed by the attestation.
func NewChain(ops []Operation, att Attestation) *Chain {
	return &Chain{
		nodes: []node{{
			ops: append([]Operation(nil), ops...),
			att: att,
		}},
	}
}

// Merge constructs a single chain with one branch per fragment, sharing a
// common root.  Branch order follows fragment order; it is not semantically
// significant but keeps serialization stable.
func Merge(fragments []*Chain) (*Chain, error) {
	if len(fragments) == 0 {
		return nil, ErrEmptyChain
	}
	if len(fragments) == 1 {
		return fragments[0].Clone(), nil
	}

	c := &Chain{nodes: []node{{}}}
	for _, frag := range fragments {
		if len(frag.nodes) == 0 {
			return nil, ErrEmptyChain
		}
		idx := c.graft(frag, 0)
		c.nodes[0].branches = append(c.nodes[0].branches, idx)
	}
	return c, nil
}

// graft deep-copies the subtree rooted at srcIdx in src into the receiver's
// arena and returns the new root index.
func (c *Chain) graft(src *Chain, srcIdx int) int {
	sn := src.nodes[srcIdx]
	n := node{
		ops: append([]Operation(nil), sn.ops...),
		att: sn.att,
	}
	idx := len(c.nodes)
	c.nodes = append(c.nodes, n)
	for _, b := range sn.branches {
		child := c.graft(src, b)
		c.nodes[idx].branches = append(c.nodes[idx].branches, child)
	}
	return idx
}

// Clone returns a deep copy of the chain.
func (c *Chain) Clone() *Chain {
	if c == nil || len(c.nodes) == 0 {
		return &Chain{}
	}
	cc := &Chain{nodes: make([]node, 0, len(c.nodes))}
	cc.graft(c, 0) // Root lands at index 0 of the fresh arena.
	return cc
}

// Leaf is one terminal of an evaluated chain: the value produced by applying
// every operation from the root to the leaf, the leaf's attestation, and the
// arena index of the leaf node.
type Leaf struct {
	Value       []byte
	Attestation Attestation
	Node        int
}

// Evaluate applies each operation along every root-to-leaf path in sequence
// to start and returns one Leaf per terminal attestation.  Evaluation is
// deterministic; leaves are returned in depth-first branch order.
func (c *Chain) Evaluate(start []byte) ([]Leaf, error) {
	if c == nil || len(c.nodes) == 0 {
		return nil, ErrEmptyChain
	}
	var leaves []Leaf
	err := c.walk(0, start, &leaves)
	if err != nil {
		return nil, err
	}
	return leaves, nil
}

func (c *Chain) walk(idx int, value []byte, leaves *[]Leaf) error {
	n := &c.nodes[idx]
	for _, op := range n.ops {
		var err error
		value, err = op.Apply(value)
		if err != nil {
			return fmt.Errorf("node %v: %v: %w", idx, op, err)
		}
	}
	if len(n.branches) == 0 {
		*leaves = append(*leaves, Leaf{
			Value:       value,
			Attestation: n.att,
			Node:        idx,
		})
		return nil
	}
	for _, b := range n.branches {
		// Each branch evaluates independently from the same
		// intermediate value.
		if err := c.walk(b, value, leaves); err != nil {
			return err
		}
	}
	return nil
}

// PendingBranch locates a pending leaf: the arena index of the node and the
// calendar to poll.
type PendingBranch struct {
	Node     int
	Calendar string
}

// PendingBranches walks the forest and collects every leaf whose attestation
// is pending.
func (c *Chain) PendingBranches() []PendingBranch {
	if c == nil {
		return nil
	}
	var pending []PendingBranch
	for i := range c.nodes {
		if len(c.nodes[i].branches) != 0 {
			continue
		}
		if att, ok := c.nodes[i].att.(PendingAttestation); ok {
			pending = append(pending, PendingBranch{
				Node:     i,
				Calendar: att.Calendar,
			})
		}
	}
	return pending
}

// ReplaceBranch substitutes the pending leaf at idx with the fragment
// returned by a calendar upgrade.  The fragment continues from the value
// entering the leaf's attestation, so the fragment root's operations are
// spliced onto the leaf in place and its subtree grafted below.
func (c *Chain) ReplaceBranch(idx int, frag *Chain) error {
	if idx < 0 || idx >= len(c.nodes) {
		return fmt.Errorf("node %v out of range", idx)
	}
	if len(c.nodes[idx].branches) != 0 {
		return ErrNotPending
	}
	if _, ok := c.nodes[idx].att.(PendingAttestation); !ok {
		return ErrNotPending
	}
	if frag == nil || len(frag.nodes) == 0 {
		return ErrEmptyChain
	}

	froot := frag.nodes[0]
	c.nodes[idx].ops = append(c.nodes[idx].ops, froot.ops...)
	c.nodes[idx].att = froot.att
	for _, b := range froot.branches {
		// graft may grow the arena, index c.nodes each time.
		child := c.graft(frag, b)
		c.nodes[idx].branches = append(c.nodes[idx].branches, child)
	}
	return nil
}

// Resolved returns true if any leaf carries a bitcoin attestation.
func (c *Chain) Resolved() bool {
	if c == nil {
		return false
	}
	for i := range c.nodes {
		if len(c.nodes[i].branches) != 0 {
			continue
		}
		if _, ok := c.nodes[i].att.(BitcoinAttestation); ok {
			return true
		}
	}
	return false
}
