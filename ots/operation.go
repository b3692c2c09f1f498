// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ots

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/ripemd160"
	"golang.org/x/crypto/sha3"
)

// Operation tag bytes as they appear on the wire.  The hash operation tags
// double as the hash algorithm selector in the file header.
const (
	opTagSHA1      = 0x02
	opTagRIPEMD160 = 0x03
	opTagSHA256    = 0x08
	opTagKECCAK256 = 0x67
	opTagAppend    = 0xf0
	opTagPrepend   = 0xf1
	opTagReverse   = 0xf2
)

// maxPayloadLength clamps the size of operation payloads and intermediate
// results.  Proofs commit digests, not documents, so anything larger is
// malformed.
const maxPayloadLength = 4096

// HashAlgorithm identifies a hash function used by a Hash operation or by the
// file header to describe the original digest.
type HashAlgorithm byte

const (
	SHA1      HashAlgorithm = opTagSHA1
	RIPEMD160 HashAlgorithm = opTagRIPEMD160
	SHA256    HashAlgorithm = opTagSHA256
	KECCAK256 HashAlgorithm = opTagKECCAK256
)

// Size returns the digest length in bytes for the algorithm.
func (a HashAlgorithm) Size() int {
	switch a {
	case SHA1:
		return sha1.Size
	case RIPEMD160:
		return ripemd160.Size
	case SHA256:
		return sha256.Size
	case KECCAK256:
		return 32
	}
	return 0
}

// Valid returns true if the algorithm is one this package understands.
func (a HashAlgorithm) Valid() bool {
	return a.Size() != 0
}

// Sum returns the digest of data under the algorithm.
func (a HashAlgorithm) Sum(data []byte) ([]byte, error) {
	switch a {
	case SHA1:
		sum := sha1.Sum(data)
		return sum[:], nil
	case RIPEMD160:
		h := ripemd160.New()
		h.Write(data)
		return h.Sum(nil), nil
	case SHA256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	case KECCAK256:
		h := sha3.NewLegacyKeccak256()
		h.Write(data)
		return h.Sum(nil), nil
	}
	return nil, fmt.Errorf("unknown hash algorithm 0x%02x", byte(a))
}

func (a HashAlgorithm) String() string {
	switch a {
	case SHA1:
		return "sha1"
	case RIPEMD160:
		return "ripemd160"
	case SHA256:
		return "sha256"
	case KECCAK256:
		return "keccak256"
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(a))
}

// Operation is a single deterministic byte transform in a proof chain.  Apply
// is a pure function of its input.
type Operation interface {
	// Apply transforms the incoming value into the outgoing value.
	Apply(value []byte) ([]byte, error)

	String() string
}

// Append concatenates Data after the incoming value.
type Append struct {
	Data []byte
}

// Apply implements Operation.
func (o Append) Apply(value []byte) ([]byte, error) {
	if len(value)+len(o.Data) > maxPayloadLength {
		return nil, fmt.Errorf("append: result exceeds %v bytes",
			maxPayloadLength)
	}
	out := make([]byte, 0, len(value)+len(o.Data))
	out = append(out, value...)
	out = append(out, o.Data...)
	return out, nil
}

func (o Append) String() string {
	return fmt.Sprintf("append %x", o.Data)
}

// Prepend concatenates Data before the incoming value.
type Prepend struct {
	Data []byte
}

// Apply implements Operation.
func (o Prepend) Apply(value []byte) ([]byte, error) {
	if len(value)+len(o.Data) > maxPayloadLength {
		return nil, fmt.Errorf("prepend: result exceeds %v bytes",
			maxPayloadLength)
	}
	out := make([]byte, 0, len(o.Data)+len(value))
	out = append(out, o.Data...)
	out = append(out, value...)
	return out, nil
}

func (o Prepend) String() string {
	return fmt.Sprintf("prepend %x", o.Data)
}

// Reverse reverses the byte order of the incoming value.
type Reverse struct{}

// Apply implements Operation.
func (o Reverse) Apply(value []byte) ([]byte, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("reverse: empty value")
	}
	out := make([]byte, len(value))
	for i, b := range value {
		out[len(value)-1-i] = b
	}
	return out, nil
}

func (o Reverse) String() string {
	return "reverse"
}

// Hash replaces the incoming value with its digest under Algorithm.
type Hash struct {
	Algorithm HashAlgorithm
}

// Apply implements Operation.
func (o Hash) Apply(value []byte) ([]byte, error) {
	return o.Algorithm.Sum(value)
}

func (o Hash) String() string {
	return o.Algorithm.String()
}
