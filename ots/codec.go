// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ots

import (
	"bytes"
	"errors"
	"fmt"
)

// Proof file framing.  The magic sequence and tag values interoperate with
// other OpenTimestamps tooling.
var (
	// magic is the fixed 31 byte tag that opens every proof file.
	magic = []byte("\x00OpenTimestamps\x00\x00Proof\x00\xbf\x89\xe2\xe8\x84\xe8\x92\x94")
)

const (
	// formatVersion is the only version this package reads or writes.
	formatVersion = 0x01

	// tagFork introduces a branch point: varint branch count followed by
	// that many varint length-prefixed sub-chains.
	tagFork = 0xff

	// tagAttestation introduces a terminal attestation.
	tagAttestation = 0x00
)

// Decode errors.  Malformed input is never silently tolerated.
var (
	ErrBadMagic           = errors.New("bad magic")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrTruncated          = errors.New("truncated proof")
	ErrTrailingBytes      = errors.New("trailing bytes after proof")
	ErrEmptyFork          = errors.New("fork with no branches")
	ErrNoChain            = errors.New("record has no chain")
)

// UnknownOperationTagError is returned when decoding hits an operation tag
// this package does not understand.
type UnknownOperationTagError struct {
	Tag byte
}

func (e UnknownOperationTagError) Error() string {
	return fmt.Sprintf("unknown operation tag 0x%02x", e.Tag)
}

// byteReader is a cursor over a proof buffer.  Every read reports ErrTruncated
// when it runs off the end.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *byteReader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrTruncated
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, ErrTruncated
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+n])
	r.pos += n
	return b, nil
}

// readVarint reads an unsigned varint: 7 bit little-endian groups, high bit
// set on all but the final group.
func (r *byteReader) readVarint() (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		if shift > 63 {
			return 0, fmt.Errorf("varint overflow: %w", ErrTruncated)
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}

// readVarbytes reads a varint length-prefixed byte string capped at max.
func (r *byteReader) readVarbytes(max int) ([]byte, error) {
	n, err := r.readVarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(max) {
		return nil, fmt.Errorf("length %v exceeds %v: %w", n, max,
			ErrTruncated)
	}
	return r.readBytes(int(n))
}

func writeVarint(buf *bytes.Buffer, v uint64) {
	for v >= 0x80 {
		buf.WriteByte(byte(v) | 0x80)
		v >>= 7
	}
	buf.WriteByte(byte(v))
}

func writeVarbytes(buf *bytes.Buffer, b []byte) {
	writeVarint(buf, uint64(len(b)))
	buf.Write(b)
}

// Encode serializes a record into the proof file format.  It is the
// deterministic inverse of Decode: Decode(Encode(r)) reproduces r for any
// record whose status matches its attestations (see Decode).
func Encode(r *Record) ([]byte, error) {
	if r.Chain == nil || len(r.Chain.nodes) == 0 {
		return nil, ErrNoChain
	}
	if !r.DigestAlgorithm.Valid() {
		return nil, fmt.Errorf("unknown hash algorithm 0x%02x",
			byte(r.DigestAlgorithm))
	}
	if len(r.Digest) != r.DigestAlgorithm.Size() {
		return nil, fmt.Errorf("digest length %v does not match %v",
			len(r.Digest), r.DigestAlgorithm)
	}

	var buf bytes.Buffer
	buf.Write(magic)
	buf.WriteByte(formatVersion)
	buf.WriteByte(byte(r.DigestAlgorithm))
	buf.Write(r.Digest)
	if err := encodeNode(&buf, r.Chain, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeFragment serializes a bare chain using the post-header portion of the
// file format.  Calendar responses travel in this encoding.
func EncodeFragment(c *Chain) ([]byte, error) {
	if c == nil || len(c.nodes) == 0 {
		return nil, ErrNoChain
	}
	var buf bytes.Buffer
	if err := encodeNode(&buf, c, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeNode(buf *bytes.Buffer, c *Chain, idx int) error {
	n := &c.nodes[idx]
	for _, op := range n.ops {
		if err := encodeOperation(buf, op); err != nil {
			return err
		}
	}

	if len(n.branches) > 0 {
		buf.WriteByte(tagFork)
		writeVarint(buf, uint64(len(n.branches)))
		for _, b := range n.branches {
			var sub bytes.Buffer
			if err := encodeNode(&sub, c, b); err != nil {
				return err
			}
			writeVarbytes(buf, sub.Bytes())
		}
		return nil
	}

	buf.WriteByte(tagAttestation)
	return encodeAttestation(buf, n.att)
}

func encodeOperation(buf *bytes.Buffer, op Operation) error {
	switch o := op.(type) {
	case Append:
		buf.WriteByte(opTagAppend)
		writeVarbytes(buf, o.Data)
	case Prepend:
		buf.WriteByte(opTagPrepend)
		writeVarbytes(buf, o.Data)
	case Reverse:
		buf.WriteByte(opTagReverse)
	case Hash:
		if !o.Algorithm.Valid() {
			return fmt.Errorf("unknown hash algorithm 0x%02x",
				byte(o.Algorithm))
		}
		buf.WriteByte(byte(o.Algorithm))
	default:
		return fmt.Errorf("unencodable operation %T", op)
	}
	return nil
}

func encodeAttestation(buf *bytes.Buffer, att Attestation) error {
	switch a := att.(type) {
	case PendingAttestation:
		buf.WriteByte(attTagPending)
		writeVarbytes(buf, []byte(a.Calendar))
	case BitcoinAttestation:
		buf.WriteByte(attTagBitcoin)
		writeVarint(buf, a.Height)
	case UnknownAttestation:
		buf.WriteByte(a.Tag)
		writeVarbytes(buf, a.Payload)
	default:
		return fmt.Errorf("unencodable attestation %T", att)
	}
	return nil
}

// Decode parses a proof file.  The record status is derived from the chain:
// confirmed if any branch resolved to a blockchain attestation, submitted
// otherwise.  Verification state is never trusted from disk; re-verify with
// the verifier to promote a record.
func Decode(b []byte) (*Record, error) {
	r := &byteReader{buf: b}

	head, err := r.readBytes(len(magic))
	if err != nil {
		return nil, ErrBadMagic
	}
	if !bytes.Equal(head, magic) {
		return nil, ErrBadMagic
	}
	ver, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if ver != formatVersion {
		return nil, fmt.Errorf("version %v: %w", ver,
			ErrUnsupportedVersion)
	}
	algByte, err := r.readByte()
	if err != nil {
		return nil, err
	}
	alg := HashAlgorithm(algByte)
	if !alg.Valid() {
		return nil, UnknownOperationTagError{Tag: algByte}
	}
	digest, err := r.readBytes(alg.Size())
	if err != nil {
		return nil, err
	}

	c := &Chain{}
	if _, err := decodeNode(r, c); err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, ErrTrailingBytes
	}

	status := StatusSubmitted
	if c.Resolved() {
		status = StatusConfirmed
	}
	return &Record{
		Digest:          digest,
		DigestAlgorithm: alg,
		Chain:           c,
		Status:          status,
	}, nil
}

// DecodeFragment parses a bare chain in the post-header encoding.
func DecodeFragment(b []byte) (*Chain, error) {
	r := &byteReader{buf: b}
	c := &Chain{}
	if _, err := decodeNode(r, c); err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, ErrTrailingBytes
	}
	return c, nil
}

// decodeNode reads one node (operations followed by a fork or an attestation)
// into c's arena and returns its index.
func decodeNode(r *byteReader, c *Chain) (int, error) {
	idx := len(c.nodes)
	c.nodes = append(c.nodes, node{})

	for {
		tag, err := r.readByte()
		if err != nil {
			return 0, err
		}

		switch tag {
		case tagFork:
			count, err := r.readVarint()
			if err != nil {
				return 0, err
			}
			if count == 0 {
				return 0, ErrEmptyFork
			}
			for i := uint64(0); i < count; i++ {
				sub, err := r.readVarbytes(r.remaining())
				if err != nil {
					return 0, err
				}
				sr := &byteReader{buf: sub}
				child, err := decodeNode(sr, c)
				if err != nil {
					return 0, err
				}
				if sr.remaining() != 0 {
					return 0, ErrTrailingBytes
				}
				c.nodes[idx].branches =
					append(c.nodes[idx].branches, child)
			}
			return idx, nil

		case tagAttestation:
			att, err := decodeAttestation(r)
			if err != nil {
				return 0, err
			}
			c.nodes[idx].att = att
			return idx, nil

		case opTagAppend:
			data, err := r.readVarbytes(maxPayloadLength)
			if err != nil {
				return 0, err
			}
			c.nodes[idx].ops = append(c.nodes[idx].ops,
				Append{Data: data})

		case opTagPrepend:
			data, err := r.readVarbytes(maxPayloadLength)
			if err != nil {
				return 0, err
			}
			c.nodes[idx].ops = append(c.nodes[idx].ops,
				Prepend{Data: data})

		case opTagReverse:
			c.nodes[idx].ops = append(c.nodes[idx].ops, Reverse{})

		case opTagSHA1, opTagRIPEMD160, opTagSHA256, opTagKECCAK256:
			c.nodes[idx].ops = append(c.nodes[idx].ops,
				Hash{Algorithm: HashAlgorithm(tag)})

		default:
			return 0, UnknownOperationTagError{Tag: tag}
		}
	}
}

func decodeAttestation(r *byteReader) (Attestation, error) {
	tag, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case attTagPending:
		url, err := r.readVarbytes(maxPayloadLength)
		if err != nil {
			return nil, err
		}
		return PendingAttestation{Calendar: string(url)}, nil
	case attTagBitcoin:
		height, err := r.readVarint()
		if err != nil {
			return nil, err
		}
		return BitcoinAttestation{Height: height}, nil
	default:
		// Forward compatible: preserve the payload byte-for-byte even
		// though this engine cannot verify it.
		payload, err := r.readVarbytes(maxPayloadLength)
		if err != nil {
			return nil, err
		}
		return UnknownAttestation{Tag: tag, Payload: payload}, nil
	}
}
