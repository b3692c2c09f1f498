// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package proofstore persists serialized proofs in a leveldb keyed by the
// original digest, so a caller can sweep every proof that still has pending
// branches and attempt upgrades on a schedule of its choosing.
package proofstore

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/chainstamp/chainstamp/ots"
)

// ErrNotFound is returned when no proof is stored for a digest.
var ErrNotFound = errors.New("proof not found")

// Store is a local proof database.  Safe for concurrent use.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if necessary) the proof database at path.  The caller
// is responsible for calling Close.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Put stores the serialized proof for its digest.  The proof must decode and
// its digest must match; corrupt entries are never written.
func (s *Store) Put(digest, proof []byte) error {
	rec, err := ots.Decode(proof)
	if err != nil {
		return fmt.Errorf("refusing to store undecodable proof: %w",
			err)
	}
	if !bytes.Equal(rec.Digest, digest) {
		return fmt.Errorf("proof digest %x does not match key %x",
			rec.Digest, digest)
	}
	return s.db.Put(digest, proof, nil)
}

// Get returns the serialized proof for digest.
func (s *Store) Get(digest []byte) ([]byte, error) {
	proof, err := s.db.Get(digest, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return proof, nil
}

// Has reports whether a proof is stored for digest.
func (s *Store) Has(digest []byte) (bool, error) {
	return s.db.Has(digest, nil)
}

// Delete removes the proof for digest.  Deleting a missing digest is not an
// error.
func (s *Store) Delete(digest []byte) error {
	return s.db.Delete(digest, nil)
}

// Pending returns the digests whose stored proofs still carry at least one
// pending branch.  Corrupt entries are logged and skipped rather than
// aborting the sweep.
func (s *Store) Pending() ([][]byte, error) {
	var pending [][]byte
	iter := s.db.NewIterator(nil, nil)
	for iter.Next() {
		rec, err := ots.Decode(iter.Value())
		if err != nil {
			log.Warnf("Skipping corrupt proof %x: %v", iter.Key(),
				err)
			continue
		}
		if len(rec.Chain.PendingBranches()) == 0 {
			continue
		}
		digest := make([]byte, len(iter.Key()))
		copy(digest, iter.Key())
		pending = append(pending, digest)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return pending, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}
