// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package verify decides whether a proof is actually true.  It recomputes
// the commitment implied by a proof chain and checks it byte-for-byte against
// ground truth fetched from an independent chain data provider.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/chainstamp/chainstamp/chaindata"
	"github.com/chainstamp/chainstamp/ots"
)

// Verification failure reasons.  All are terminal for the leaf they occur
// on; a record only fails overall when no leaf can verify.
var (
	// ErrMerkleMismatch means the recomputed commitment differs from the
	// block's merkle root.
	ErrMerkleMismatch = errors.New("merkle root mismatch")

	// ErrBlockNotFound means the provider does not know the attested
	// height.
	ErrBlockNotFound = errors.New("attested block not found")

	// ErrProviderUnavailable means the provider could not be reached; the
	// leaf is unverifiable right now, not wrong.
	ErrProviderUnavailable = errors.New("chain data provider unavailable")
)

// Status is the outcome of verifying a chain.
type Status int

const (
	// StatusPending means no leaf resolved yet, or resolved leaves could
	// not be decided.
	StatusPending Status = iota

	// StatusVerified means at least one leaf checked out against the
	// blockchain.
	StatusVerified

	// StatusFailed means every resolved leaf failed verification and none
	// remain pending.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusVerified:
		return "verified"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("unknown status %d", int(s))
}

// LeafResult is the verification outcome for a single leaf.
type LeafResult struct {
	Leaf   ots.Leaf
	Status Status
	Err    error
}

// Result is the verification outcome for a whole chain.
type Result struct {
	Status Status
	Leaves []LeafResult
}

// FailureReason returns a human readable reason when Status is failed.
func (r *Result) FailureReason() string {
	for _, l := range r.Leaves {
		if l.Status == StatusFailed && l.Err != nil {
			return l.Err.Error()
		}
	}
	return ""
}

// BitcoinAttestation checks that committed equals, byte-for-byte, the merkle
// root of the block at height according to src.  Success is only reported
// after the comparison has run; no code path skips it.
func BitcoinAttestation(ctx context.Context, src chaindata.Source, committed []byte, height uint64) error {
	hdr, err := src.BlockHeader(ctx, height)
	if err != nil {
		if errors.Is(err, chaindata.ErrBlockNotFound) {
			return fmt.Errorf("height %v: %w", height,
				ErrBlockNotFound)
		}
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if !bytes.Equal(committed, hdr.MerkleRoot) {
		return fmt.Errorf("%w: committed %x, block %v root %x",
			ErrMerkleMismatch, committed, height, hdr.MerkleRoot)
	}
	return nil
}

// Chain evaluates the proof chain from digest and verifies every resolved
// leaf.  All leaves are visited; the walk never short-circuits on a pending
// leaf before checking the rest, and one failed leaf does not fail the chain
// while another verifies.  Unknown attestations cannot be decided by this
// engine and count as pending.
func Chain(ctx context.Context, src chaindata.Source, digest []byte, chain *ots.Chain) (*Result, error) {
	leaves, err := chain.Evaluate(digest)
	if err != nil {
		return nil, err
	}

	res := &Result{Leaves: make([]LeafResult, 0, len(leaves))}
	var verified, pending, failed int
	for _, leaf := range leaves {
		lr := LeafResult{Leaf: leaf}
		switch att := leaf.Attestation.(type) {
		case ots.PendingAttestation:
			lr.Status = StatusPending
			pending++

		case ots.BitcoinAttestation:
			err := BitcoinAttestation(ctx, src, leaf.Value,
				att.Height)
			if err != nil {
				log.Debugf("Leaf %v %v: %v", leaf.Node, att, err)
				lr.Status = StatusFailed
				lr.Err = err
				failed++
				break
			}
			log.Debugf("Leaf %v %v: verified", leaf.Node, att)
			lr.Status = StatusVerified
			verified++

		case ots.UnknownAttestation:
			// Preserved but not verifiable; undecided.
			lr.Status = StatusPending
			pending++

		default:
			lr.Status = StatusFailed
			lr.Err = fmt.Errorf("missing attestation on leaf %v",
				leaf.Node)
			failed++
		}
		res.Leaves = append(res.Leaves, lr)
	}

	switch {
	case verified > 0:
		res.Status = StatusVerified
	case pending > 0:
		res.Status = StatusPending
	default:
		res.Status = StatusFailed
	}
	return res, nil
}
