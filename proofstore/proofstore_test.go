// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package proofstore

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/chainstamp/chainstamp/ots"
)

// encodedProof returns a digest and its serialized proof ending in att.
func encodedProof(t *testing.T, content string, att ots.Attestation) ([]byte, []byte) {
	t.Helper()
	digest := sha256.Sum256([]byte(content))
	rec, err := ots.NewRecord(digest[:], ots.SHA256)
	if err != nil {
		t.Fatal(err)
	}
	rec.Chain = ots.NewChain(nil, att)
	blob, err := ots.Encode(rec)
	if err != nil {
		t.Fatal(err)
	}
	return digest[:], blob
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	s := openStore(t)
	digest, blob := encodedProof(t, "content",
		ots.PendingAttestation{Calendar: "https://c"})

	if err := s.Put(digest, blob); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(digest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("stored proof differs")
	}

	ok, err := s.Has(digest)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("Has: got false")
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)
	digest := sha256.Sum256([]byte("missing"))
	if _, err := s.Get(digest[:]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v want %v", err, ErrNotFound)
	}
}

func TestPutRejectsGarbage(t *testing.T) {
	s := openStore(t)
	digest := sha256.Sum256([]byte("content"))

	if err := s.Put(digest[:], []byte("not a proof")); err == nil {
		t.Fatalf("garbage should be rejected")
	}

	// A valid proof under the wrong key is rejected too.
	_, blob := encodedProof(t, "other",
		ots.PendingAttestation{Calendar: "https://c"})
	if err := s.Put(digest[:], blob); err == nil {
		t.Fatalf("digest mismatch should be rejected")
	}

	if ok, _ := s.Has(digest[:]); ok {
		t.Fatalf("rejected proof was written")
	}
}

func TestPending(t *testing.T) {
	s := openStore(t)

	pendingDigest, pendingBlob := encodedProof(t, "pending",
		ots.PendingAttestation{Calendar: "https://c"})
	resolvedDigest, resolvedBlob := encodedProof(t, "resolved",
		ots.BitcoinAttestation{Height: 100})

	if err := s.Put(pendingDigest, pendingBlob); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(resolvedDigest, resolvedBlob); err != nil {
		t.Fatal(err)
	}

	got, err := s.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !bytes.Equal(got[0], pendingDigest) {
		t.Fatalf("got %x want only %x", got, pendingDigest)
	}

	// Upgrading the pending proof empties the sweep.
	if err := s.Put(pendingDigest, upgraded(t, "pending")); err != nil {
		t.Fatal(err)
	}
	got, err = s.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v pending, want 0", len(got))
	}
}

// upgraded returns a resolved proof for content.
func upgraded(t *testing.T, content string) []byte {
	t.Helper()
	_, blob := encodedProof(t, content, ots.BitcoinAttestation{Height: 1})
	return blob
}

func TestDelete(t *testing.T) {
	s := openStore(t)
	digest, blob := encodedProof(t, "content",
		ots.PendingAttestation{Calendar: "https://c"})

	if err := s.Put(digest, blob); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(digest); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(digest); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v want %v", err, ErrNotFound)
	}

	// Deleting a missing digest is fine.
	if err := s.Delete(digest); err != nil {
		t.Fatal(err)
	}
}
