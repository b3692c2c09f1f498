// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ots

import (
	"fmt"
	"sync"
)

// Status describes where a proof record sits in its lifecycle.
type Status int

const (
	// StatusDraft means the digest has been computed but nothing has been
	// submitted to a calendar.
	StatusDraft Status = iota

	// StatusSubmitted means at least one calendar accepted the digest and
	// every branch is still pending.
	StatusSubmitted

	// StatusConfirmed means at least one branch resolved to a blockchain
	// attestation that has not been independently re-checked yet.
	StatusConfirmed

	// StatusVerified means a resolved attestation was checked against the
	// blockchain and matched.
	StatusVerified

	// StatusFailed means submission failed entirely or every resolved
	// branch failed verification with none left pending.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "draft"
	case StatusSubmitted:
		return "submitted"
	case StatusConfirmed:
		return "confirmed"
	case StatusVerified:
		return "verified"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("unknown status %d", int(s))
}

// Record is the externally visible unit of proof: an original digest, the
// operation chain attesting it, and the lifecycle status.  A record has
// exactly one logical writer at a time; mutating callers hold the embedded
// lock, readers may take the read side and operate on a Chain.Clone
// snapshot.
type Record struct {
	sync.RWMutex

	Digest          []byte
	DigestAlgorithm HashAlgorithm
	Chain           *Chain
	Status          Status
}

// NewRecord returns a draft record for content that was already hashed by
// the caller.
func NewRecord(digest []byte, algorithm HashAlgorithm) (*Record, error) {
	if !algorithm.Valid() {
		return nil, fmt.Errorf("unknown hash algorithm 0x%02x",
			byte(algorithm))
	}
	if len(digest) != algorithm.Size() {
		return nil, fmt.Errorf("digest length %v does not match %v",
			len(digest), algorithm)
	}
	d := make([]byte, len(digest))
	copy(d, digest)
	return &Record{
		Digest:          d,
		DigestAlgorithm: algorithm,
		Status:          StatusDraft,
	}, nil
}
