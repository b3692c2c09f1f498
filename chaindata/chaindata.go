// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chaindata provides the independent ground truth for attestation
// verification: block headers fetched from a chain data provider that is not
// a calendar.
package chaindata

import (
	"context"
	"errors"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

// ErrBlockNotFound is returned when the provider does not know the requested
// height.
var ErrBlockNotFound = errors.New("block not found")

// BlockHeader is the subset of a block header needed to verify an
// attestation.  MerkleRoot is in internal byte order.
type BlockHeader struct {
	Height     uint64
	Hash       chainhash.Hash
	MerkleRoot []byte
	Time       time.Time
}

// Source returns block headers by height.  Implementations return
// ErrBlockNotFound for unknown heights and transport errors otherwise.
type Source interface {
	BlockHeader(ctx context.Context, height uint64) (*BlockHeader, error)
}
