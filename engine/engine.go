// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package engine orchestrates proof records through their lifecycle:
// create, submit to calendars, upgrade pending branches, verify against the
// blockchain.  The engine has no scheduler of its own; callers decide when
// to invoke Upgrade.
package engine

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/chainstamp/chainstamp/calendar"
	"github.com/chainstamp/chainstamp/chaindata"
	"github.com/chainstamp/chainstamp/ots"
	"github.com/chainstamp/chainstamp/verify"
)

var (
	// ErrNoCalendars is returned by New when no submission servers are
	// configured.
	ErrNoCalendars = errors.New("no calendar servers configured")

	// ErrWrongState is returned when an operation does not apply to the
	// record's current status.
	ErrWrongState = errors.New("record in wrong state")
)

// Config holds the collaborators an engine needs.
type Config struct {
	// Calendars is the redundant submission server set.  Two or more are
	// recommended for availability.
	Calendars []string

	// Client talks to calendars.  Nil selects a client with default
	// timeouts.
	Client *calendar.Client

	// Headers supplies independent block headers for verification.
	Headers chaindata.Source
}

// Engine builds, submits, upgrades and verifies proof records.  Methods are
// safe for concurrent use across records; a single record must not be
// mutated by two Submit/Upgrade calls at once, which the record's own lock
// enforces.
type Engine struct {
	calendars []string
	client    *calendar.Client
	headers   chaindata.Source
}

// New returns an engine for the given configuration.
func New(cfg *Config) (*Engine, error) {
	if len(cfg.Calendars) == 0 {
		return nil, ErrNoCalendars
	}
	if cfg.Headers == nil {
		return nil, errors.New("no chain data source configured")
	}
	client := cfg.Client
	if client == nil {
		client = calendar.New(0)
	}
	return &Engine{
		calendars: append([]string(nil), cfg.Calendars...),
		client:    client,
		headers:   cfg.Headers,
	}, nil
}

// Create computes the SHA256 digest of content and returns a draft record.
// No network calls are made.
func (e *Engine) Create(content []byte) *ots.Record {
	digest := sha256.Sum256(content)
	rec, _ := ots.NewRecord(digest[:], ots.SHA256)
	return rec
}

// CreateFromDigest returns a draft record for a digest the caller computed.
func (e *Engine) CreateFromDigest(digest []byte, algorithm ots.HashAlgorithm) (*ots.Record, error) {
	return ots.NewRecord(digest, algorithm)
}

// Submit sends the record's digest to every configured calendar and merges
// the returned fragments into a single forked chain.  The record transitions
// to submitted if at least one calendar responded, failed otherwise.
func (e *Engine) Submit(ctx context.Context, rec *ots.Record) error {
	rec.Lock()
	defer rec.Unlock()

	if rec.Status != ots.StatusDraft && rec.Status != ots.StatusFailed {
		return fmt.Errorf("%w: %v", ErrWrongState, rec.Status)
	}

	subs, err := e.client.Submit(ctx, rec.Digest, e.calendars)
	if err != nil {
		rec.Status = ots.StatusFailed
		return err
	}

	frags := make([]*ots.Chain, 0, len(subs))
	for _, s := range subs {
		frags = append(frags, s.Fragment)
		log.Debugf("Submit %x: accepted by %v", rec.Digest, s.Calendar)
	}
	merged, err := ots.Merge(frags)
	if err != nil {
		rec.Status = ots.StatusFailed
		return err
	}

	rec.Chain = merged
	rec.Status = ots.StatusSubmitted
	log.Infof("Submit %x: %v of %v calendars accepted", rec.Digest,
		len(subs), len(e.calendars))
	return nil
}

// upgradeResult pairs a pending branch with the fragment its calendar
// returned.
type upgradeResult struct {
	node int
	frag *ots.Chain
}

// Upgrade polls the calendar behind every pending branch, splices in any
// fragment received, and re-verifies the record.  Branches whose calendars
// report nothing new are left alone; if all report nothing the call is a
// no-op and safe to repeat.  The bool reports whether the record changed.
//
// Network activity happens on a snapshot so concurrent Verify calls are not
// blocked for the duration.
func (e *Engine) Upgrade(ctx context.Context, rec *ots.Record) (bool, error) {
	rec.RLock()
	status := rec.Status
	if status != ots.StatusSubmitted && status != ots.StatusConfirmed {
		rec.RUnlock()
		return false, nil
	}
	digest := append([]byte(nil), rec.Digest...)
	snap := rec.Chain.Clone()
	rec.RUnlock()

	leaves, err := snap.Evaluate(digest)
	if err != nil {
		return false, err
	}

	// One request per pending branch, concurrently.  Per-branch errors
	// are recoverable and do not abort the other branches.
	var (
		wg      sync.WaitGroup
		mtx     sync.Mutex
		results []upgradeResult
	)
	for _, leaf := range leaves {
		att, ok := leaf.Attestation.(ots.PendingAttestation)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(node int, cal string, value []byte) {
			defer wg.Done()
			frag, ok, err := e.client.Upgrade(ctx, cal, value)
			if err != nil {
				log.Warnf("Upgrade %x branch %v via %v: %v",
					digest, node, cal, err)
				return
			}
			if !ok {
				log.Tracef("Upgrade %x branch %v via %v: "+
					"not yet attested", digest, node, cal)
				return
			}
			mtx.Lock()
			results = append(results, upgradeResult{
				node: node,
				frag: frag,
			})
			mtx.Unlock()
		}(leaf.Node, att.Calendar, leaf.Value)
	}
	wg.Wait()

	if len(results) == 0 {
		return false, nil
	}

	for _, r := range results {
		if err := snap.ReplaceBranch(r.node, r.frag); err != nil {
			return false, fmt.Errorf("splice branch %v: %w",
				r.node, err)
		}
	}

	newStatus := e.decideStatus(ctx, digest, snap)

	rec.Lock()
	rec.Chain = snap
	rec.Status = newStatus
	rec.Unlock()

	log.Infof("Upgrade %x: %v branches advanced, status %v", digest,
		len(results), newStatus)
	return true, nil
}

// decideStatus re-verifies an upgraded chain and picks the record status.
// Transient provider outages keep a resolved record at confirmed rather than
// failing it.
func (e *Engine) decideStatus(ctx context.Context, digest []byte, chain *ots.Chain) ots.Status {
	resolved := chain.Resolved()

	res, err := verify.Chain(ctx, e.headers, digest, chain)
	if err != nil {
		log.Warnf("Verify %x after upgrade: %v", digest, err)
		if resolved {
			return ots.StatusConfirmed
		}
		return ots.StatusSubmitted
	}

	switch res.Status {
	case verify.StatusVerified:
		return ots.StatusVerified
	case verify.StatusFailed:
		for _, l := range res.Leaves {
			if errors.Is(l.Err, verify.ErrProviderUnavailable) {
				// Unverifiable right now, not wrong.
				return ots.StatusConfirmed
			}
		}
		return ots.StatusFailed
	default:
		if resolved {
			return ots.StatusConfirmed
		}
		return ots.StatusSubmitted
	}
}

// Verify re-checks a record against the blockchain.  It is a pure check: it
// works on imported proofs with no submission history, takes no shortcut for
// already confirmed records, and never mutates the record.  Safe to call
// concurrently with Upgrade.
func (e *Engine) Verify(ctx context.Context, rec *ots.Record) (*verify.Result, error) {
	rec.RLock()
	digest := append([]byte(nil), rec.Digest...)
	chain := rec.Chain
	if chain == nil {
		rec.RUnlock()
		return nil, ots.ErrEmptyChain
	}
	snap := chain.Clone()
	rec.RUnlock()

	return verify.Chain(ctx, e.headers, digest, snap)
}
