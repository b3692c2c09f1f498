// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ots

import "fmt"

// Attestation tag bytes as they appear on the wire after the attestation
// marker.
const (
	attTagBitcoin = 0x05
	attTagPending = 0x83
)

// Attestation is the claim terminating a proof chain.  Exactly one of the
// concrete types below appears at every leaf.
type Attestation interface {
	String() string

	// attestation restricts implementations to this package.
	attestation()
}

// PendingAttestation marks a branch that a calendar has accepted but not yet
// anchored.  Calendar is the server to poll for an upgrade.
type PendingAttestation struct {
	Calendar string
}

func (a PendingAttestation) attestation() {}

func (a PendingAttestation) String() string {
	return fmt.Sprintf("pending (%v)", a.Calendar)
}

// BitcoinAttestation claims the chain's final value equals the merkle root of
// the Bitcoin block at Height.
type BitcoinAttestation struct {
	Height uint64
}

func (a BitcoinAttestation) attestation() {}

func (a BitcoinAttestation) String() string {
	return fmt.Sprintf("bitcoin block %v", a.Height)
}

// UnknownAttestation preserves attestation types this engine cannot verify.
// Tag and Payload round trip byte-for-byte.
type UnknownAttestation struct {
	Tag     byte
	Payload []byte
}

func (a UnknownAttestation) attestation() {}

func (a UnknownAttestation) String() string {
	return fmt.Sprintf("unknown attestation 0x%02x (%v bytes)", a.Tag,
		len(a.Payload))
}
