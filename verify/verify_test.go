// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package verify

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/chainstamp/chainstamp/chaindata"
	"github.com/chainstamp/chainstamp/ots"
)

// fakeSource serves canned block headers from memory.
type fakeSource struct {
	headers map[uint64][]byte // height → merkle root
	err     error             // Returned for every height when set.
}

var _ chaindata.Source = (*fakeSource)(nil)

func (f *fakeSource) BlockHeader(ctx context.Context, height uint64) (*chaindata.BlockHeader, error) {
	if f.err != nil {
		return nil, f.err
	}
	root, ok := f.headers[height]
	if !ok {
		return nil, chaindata.ErrBlockNotFound
	}
	return &chaindata.BlockHeader{Height: height, MerkleRoot: root}, nil
}

// resolvedChain returns a chain whose single leaf hashes digest||salt, plus
// the value the leaf evaluates to.
func resolvedChain(digest []byte, salt string, height uint64) (*ots.Chain, []byte) {
	value := sha256.Sum256(append(append([]byte{}, digest...), salt...))
	c := ots.NewChain([]ots.Operation{
		ots.Append{Data: []byte(salt)},
		ots.Hash{Algorithm: ots.SHA256},
	}, ots.BitcoinAttestation{Height: height})
	return c, value[:]
}

func TestBitcoinAttestationMatch(t *testing.T) {
	committed := sha256.Sum256([]byte("root"))
	src := &fakeSource{headers: map[uint64][]byte{100: committed[:]}}

	err := BitcoinAttestation(context.Background(), src, committed[:], 100)
	if err != nil {
		t.Fatal(err)
	}
}

func TestBitcoinAttestationMismatch(t *testing.T) {
	committed := sha256.Sum256([]byte("root"))
	other := sha256.Sum256([]byte("other"))
	src := &fakeSource{headers: map[uint64][]byte{100: other[:]}}

	// A present attestation tag is not enough; the recomputed value must
	// equal the block's root.
	err := BitcoinAttestation(context.Background(), src, committed[:], 100)
	if !errors.Is(err, ErrMerkleMismatch) {
		t.Fatalf("got %v want %v", err, ErrMerkleMismatch)
	}
}

func TestBitcoinAttestationBlockNotFound(t *testing.T) {
	committed := sha256.Sum256([]byte("root"))
	src := &fakeSource{headers: map[uint64][]byte{}}

	err := BitcoinAttestation(context.Background(), src, committed[:], 100)
	if !errors.Is(err, ErrBlockNotFound) {
		t.Fatalf("got %v want %v", err, ErrBlockNotFound)
	}
}

func TestBitcoinAttestationProviderDown(t *testing.T) {
	committed := sha256.Sum256([]byte("root"))
	src := &fakeSource{err: errors.New("connection refused")}

	err := BitcoinAttestation(context.Background(), src, committed[:], 100)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("got %v want %v", err, ErrProviderUnavailable)
	}
}

func TestChainVerified(t *testing.T) {
	digest := sha256.Sum256([]byte("content"))
	c, value := resolvedChain(digest[:], "salt", 100)
	src := &fakeSource{headers: map[uint64][]byte{100: value}}

	res, err := Chain(context.Background(), src, digest[:], c)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusVerified {
		t.Fatalf("got %v want %v", res.Status, StatusVerified)
	}
}

func TestChainPendingOnly(t *testing.T) {
	digest := sha256.Sum256([]byte("content"))
	c := ots.NewChain(nil, ots.PendingAttestation{Calendar: "https://c"})
	src := &fakeSource{}

	res, err := Chain(context.Background(), src, digest[:], c)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusPending {
		t.Fatalf("got %v want %v", res.Status, StatusPending)
	}
}

func TestChainOneLeafSuffices(t *testing.T) {
	// A chain with a failing leaf, a pending leaf and a verifying leaf is
	// verified overall, and every leaf is visited.
	digest := sha256.Sum256([]byte("content"))
	bad, _ := resolvedChain(digest[:], "bad", 99)
	good, value := resolvedChain(digest[:], "good", 100)
	other := sha256.Sum256([]byte("other"))
	c, err := ots.Merge([]*ots.Chain{
		bad,
		ots.NewChain(nil, ots.PendingAttestation{Calendar: "https://c"}),
		good,
	})
	if err != nil {
		t.Fatal(err)
	}
	src := &fakeSource{headers: map[uint64][]byte{
		99:  other[:],
		100: value,
	}}

	res, err := Chain(context.Background(), src, digest[:], c)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusVerified {
		t.Fatalf("got %v want %v", res.Status, StatusVerified)
	}
	if len(res.Leaves) != 3 {
		t.Fatalf("got %v leaves, want 3", len(res.Leaves))
	}
	if res.Leaves[0].Status != StatusFailed ||
		!errors.Is(res.Leaves[0].Err, ErrMerkleMismatch) {
		t.Fatalf("leaf 0: got %v, %v", res.Leaves[0].Status,
			res.Leaves[0].Err)
	}
	if res.Leaves[1].Status != StatusPending {
		t.Fatalf("leaf 1: got %v", res.Leaves[1].Status)
	}
	if res.Leaves[2].Status != StatusVerified {
		t.Fatalf("leaf 2: got %v", res.Leaves[2].Status)
	}
}

func TestChainFailedWithPendingStaysPending(t *testing.T) {
	// A failed leaf does not fail the record while another branch can
	// still resolve.
	digest := sha256.Sum256([]byte("content"))
	bad, _ := resolvedChain(digest[:], "bad", 99)
	other := sha256.Sum256([]byte("other"))
	c, err := ots.Merge([]*ots.Chain{
		bad,
		ots.NewChain(nil, ots.PendingAttestation{Calendar: "https://c"}),
	})
	if err != nil {
		t.Fatal(err)
	}
	src := &fakeSource{headers: map[uint64][]byte{99: other[:]}}

	res, err := Chain(context.Background(), src, digest[:], c)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusPending {
		t.Fatalf("got %v want %v", res.Status, StatusPending)
	}
}

func TestChainAllLeavesFail(t *testing.T) {
	digest := sha256.Sum256([]byte("content"))
	c, _ := resolvedChain(digest[:], "salt", 99)
	other := sha256.Sum256([]byte("other"))
	src := &fakeSource{headers: map[uint64][]byte{99: other[:]}}

	res, err := Chain(context.Background(), src, digest[:], c)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("got %v want %v", res.Status, StatusFailed)
	}
	if res.FailureReason() == "" {
		t.Fatalf("failed result must carry a reason")
	}
}

func TestChainUnknownAttestationPending(t *testing.T) {
	digest := sha256.Sum256([]byte("content"))
	c := ots.NewChain(nil, ots.UnknownAttestation{
		Tag:     0x30,
		Payload: []byte("opaque"),
	})
	src := &fakeSource{}

	res, err := Chain(context.Background(), src, digest[:], c)
	if err != nil {
		t.Fatal(err)
	}
	// Not decidable by this engine; undecided, never failed.
	if res.Status != StatusPending {
		t.Fatalf("got %v want %v", res.Status, StatusPending)
	}
}
