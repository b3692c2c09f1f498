// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// chainstamp stamps files, upgrades pending proofs and verifies finished
// ones.  Proofs live next to the original file as <file>.ots and in a local
// proof database so pending proofs can be swept with -u.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/decred/slog"

	"github.com/chainstamp/chainstamp/calendar"
	"github.com/chainstamp/chainstamp/chaindata"
	"github.com/chainstamp/chainstamp/engine"
	"github.com/chainstamp/chainstamp/ots"
	"github.com/chainstamp/chainstamp/proofstore"
	"github.com/chainstamp/chainstamp/util"
	"github.com/chainstamp/chainstamp/verify"
)

const proofSuffix = ".ots"

var (
	testnet = flag.Bool("testnet", false, "Use testnet calendars and explorer")
	upgrade = flag.Bool("u", false, "Upgrade proofs; with no arguments, "+
		"sweep every pending proof in the local store")
	doVerify = flag.Bool("verify", false, "Verify proofs against the "+
		"blockchain instead of stamping")
	verbose   = flag.Bool("v", false, "Verbose")
	digestStr = flag.String("digest", "", "Stamp a raw hex encoded SHA256 "+
		"digest instead of files")
	calendarsStr = flag.String("c", "", "Comma separated calendar URLs, "+
		"overrides the default pool")
	explorerURL = flag.String("e", "", "Block explorer URL, overrides the "+
		"default esplora instance")
	storeDir = flag.String("d", "", "Proof store directory")
)

var (
	defaultCalendars = []string{
		"https://a.pool.opentimestamps.org",
		"https://b.pool.opentimestamps.org",
		"https://a.pool.eternitywall.com",
	}
	defaultTestnetCalendars = []string{
		"https://testnet.calendar.opentimestamps.org",
	}
)

func defaultStoreDir() string {
	return filepath.Join(defaultHomeDir(), "proofs")
}

// enableLog routes subsystem logs to stdout.  Off unless -v is set.
func enableLog() {
	backend := slog.NewBackend(os.Stdout)
	subsystems := map[string]func(slog.Logger){
		"CALR": calendar.UseLogger,
		"ENGN": engine.UseLogger,
		"VRFY": verify.UseLogger,
		"STOR": proofstore.UseLogger,
	}
	for tag, use := range subsystems {
		l := backend.Logger(tag)
		l.SetLevel(slog.LevelDebug)
		use(l)
	}
}

// loadProof reads and decodes a serialized proof.
func loadProof(path string) (*ots.Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rec, err := ots.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%v: %v", path, err)
	}
	return rec, nil
}

// saveProof serializes a record to path and mirrors it into the store.
func saveProof(store *proofstore.Store, path string, rec *ots.Record) error {
	b, err := ots.Encode(rec)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0600); err != nil {
		return err
	}
	return store.Put(rec.Digest, b)
}

// proofPath maps an argument to its proof file: a .ots argument is used as
// is, anything else gets the suffix appended.
func proofPath(arg string) string {
	if strings.HasSuffix(arg, proofSuffix) {
		return arg
	}
	return arg + proofSuffix
}

// stamp computes digests for the given files, submits them and writes one
// proof per file.
func stamp(ctx context.Context, e *engine.Engine, store *proofstore.Store, files []string) error {
	for _, f := range files {
		d, err := util.DigestFile(f)
		if err != nil {
			return err
		}
		rec, err := e.CreateFromDigest(d, ots.SHA256)
		if err != nil {
			return err
		}
		if err := e.Submit(ctx, rec); err != nil {
			return fmt.Errorf("%v: submit: %v", f, err)
		}

		out := f + proofSuffix
		if err := saveProof(store, out, rec); err != nil {
			return err
		}
		fmt.Printf("%x %v -> %v\n", rec.Digest, f, out)
	}
	return nil
}

// stampDigest submits a caller supplied digest and writes <hex>.ots in the
// working directory.
func stampDigest(ctx context.Context, e *engine.Engine, store *proofstore.Store, digest string) error {
	d, err := hex.DecodeString(digest)
	if err != nil {
		return fmt.Errorf("invalid digest: %v", err)
	}
	rec, err := e.CreateFromDigest(d, ots.SHA256)
	if err != nil {
		return err
	}
	if err := e.Submit(ctx, rec); err != nil {
		return fmt.Errorf("submit: %v", err)
	}

	out := digest + proofSuffix
	if err := saveProof(store, out, rec); err != nil {
		return err
	}
	fmt.Printf("%x -> %v\n", rec.Digest, out)
	return nil
}

// upgradeOne polls the calendars behind a record's pending branches and
// reports whether it advanced.
func upgradeOne(ctx context.Context, e *engine.Engine, rec *ots.Record) (bool, error) {
	changed, err := e.Upgrade(ctx, rec)
	if err != nil {
		return false, err
	}
	if changed {
		fmt.Printf("%x %v\n", rec.Digest, rec.Status)
	} else if *verbose {
		fmt.Printf("%x not yet attested\n", rec.Digest)
	}
	return changed, nil
}

// upgradeFiles upgrades the proof file behind each argument in place.
func upgradeFiles(ctx context.Context, e *engine.Engine, store *proofstore.Store, args []string) error {
	for _, a := range args {
		path := proofPath(a)
		rec, err := loadProof(path)
		if err != nil {
			return err
		}
		changed, err := upgradeOne(ctx, e, rec)
		if err != nil {
			return fmt.Errorf("%v: %v", path, err)
		}
		if changed {
			if err := saveProof(store, path, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// upgradeStore sweeps every proof in the store that still has a pending
// branch.
func upgradeStore(ctx context.Context, e *engine.Engine, store *proofstore.Store) error {
	pending, err := store.Pending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Printf("nothing pending\n")
		return nil
	}
	for _, digest := range pending {
		b, err := store.Get(digest)
		if err != nil {
			return err
		}
		rec, err := ots.Decode(b)
		if err != nil {
			return err
		}
		changed, err := upgradeOne(ctx, e, rec)
		if err != nil {
			fmt.Printf("%x upgrade failed: %v\n", digest, err)
			continue
		}
		if !changed {
			continue
		}
		nb, err := ots.Encode(rec)
		if err != nil {
			return err
		}
		if err := store.Put(digest, nb); err != nil {
			return err
		}
	}
	return nil
}

// verifyFiles checks each argument's proof against the blockchain.  When the
// original file sits next to the proof its digest is recomputed first, so a
// swapped file fails even if the proof itself is sound.
func verifyFiles(ctx context.Context, e *engine.Engine, args []string) error {
	var failed bool
	for _, a := range args {
		path := proofPath(a)
		rec, err := loadProof(path)
		if err != nil {
			return err
		}

		original := strings.TrimSuffix(path, proofSuffix)
		if util.FileExists(original) {
			d, err := util.DigestFile(original)
			if err != nil {
				return err
			}
			if !bytes.Equal(d, rec.Digest) {
				fmt.Printf("%x FAIL digest mismatch, %v was "+
					"modified\n", rec.Digest, original)
				failed = true
				continue
			}
		}

		res, err := e.Verify(ctx, rec)
		if err != nil {
			return fmt.Errorf("%v: %v", path, err)
		}
		switch res.Status {
		case verify.StatusVerified:
			fmt.Printf("%x OK\n", rec.Digest)
		case verify.StatusPending:
			fmt.Printf("%x Pending\n", rec.Digest)
		case verify.StatusFailed:
			fmt.Printf("%x FAIL %v\n", rec.Digest,
				res.FailureReason())
			failed = true
		}

		if *verbose {
			for _, l := range res.Leaves {
				fmt.Printf("  %-10v %v\n", l.Status,
					l.Leaf.Attestation)
			}
		}
	}
	if failed {
		return fmt.Errorf("verification failed")
	}
	return nil
}

func _main() error {
	flag.Parse()

	if *upgrade && *doVerify {
		return fmt.Errorf("-u and -verify cannot be used simultaneously")
	}
	if *digestStr != "" && (*upgrade || *doVerify) {
		return fmt.Errorf("-digest only applies when stamping")
	}

	if *verbose {
		enableLog()
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not load configuration: %v", err)
	}

	// Defaults, then config file, then command line.
	calendars := defaultCalendars
	explorer := chaindata.DefaultMainnetURL
	if *testnet {
		calendars = defaultTestnetCalendars
		explorer = chaindata.DefaultTestnetURL
	}
	if len(cfg.Calendars) != 0 {
		calendars = cfg.Calendars
	}
	if cfg.Explorer != "" {
		explorer = cfg.Explorer
	}
	if *calendarsStr != "" {
		calendars = strings.Split(*calendarsStr, ",")
	}
	if *explorerURL != "" {
		explorer = *explorerURL
	}

	dir := *storeDir
	if dir == "" {
		dir = cfg.StoreDir
	}
	if dir == "" {
		dir = defaultStoreDir()
	}
	store, err := proofstore.Open(dir)
	if err != nil {
		return fmt.Errorf("open proof store: %v", err)
	}
	defer store.Close()

	e, err := engine.New(&engine.Config{
		Calendars: calendars,
		Headers:   chaindata.NewEsplora(explorer, 0),
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	args := flag.Args()

	switch {
	case *upgrade:
		if len(args) == 0 {
			return upgradeStore(ctx, e, store)
		}
		return upgradeFiles(ctx, e, store, args)
	case *doVerify:
		if len(args) == 0 {
			return fmt.Errorf("nothing to verify")
		}
		return verifyFiles(ctx, e, args)
	case *digestStr != "":
		return stampDigest(ctx, e, store, *digestStr)
	default:
		if len(args) == 0 {
			return fmt.Errorf("nothing to do")
		}
		return stamp(ctx, e, store, args)
	}
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
