// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// calendard is a minimal calendar server for development and integration
// testing.  It implements the calendar protocol (digest submission and proof
// upgrade) and a small esplora-compatible block endpoint so the full
// submit/upgrade/verify loop can run without touching public infrastructure.
// Anchoring is simulated: each cron flush aggregates the pending round into a
// merkle tree and mints a development block committing its root.
package main

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/robfig/cron"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/chainstamp/chainstamp/merkle"
	"github.com/chainstamp/chainstamp/ots"
	"github.com/chainstamp/chainstamp/util"
)

const (
	contentTypeOTS = "application/vnd.opentimestamps.v1"

	maxDigestSize = sha256.Size
)

// Database key prefixes.  A single leveldb holds the pending round, anchored
// fragments and the development chain.
var (
	pendingPrefix  = []byte("p") // p + digest → received unix time
	anchoredPrefix = []byte("a") // a + digest → fragment bytes
	heightPrefix   = []byte("h") // h + be64 height → block hash
	blockPrefix    = []byte("b") // b + block hash → block JSON
	heightKey      = []byte("meta:height")
)

// devBlock is the esplora-shaped block served by the development chain
// endpoints.  Hashes are in reversed display order, like the real API.
type devBlock struct {
	ID         string `json:"id"`
	Height     uint64 `json:"height"`
	MerkleRoot string `json:"merkle_root"`
	Timestamp  int64  `json:"timestamp"`
}

// calendarServer is the application context.
type calendarServer struct {
	sync.Mutex // Guards the height counter across flushes.

	cfg    *config
	db     *leveldb.DB
	router *mux.Router
	cron   *cron.Cron
}

// newCalendarServer wires the application context and its routes.
func newCalendarServer(cfg *config, db *leveldb.DB) *calendarServer {
	s := &calendarServer{
		cfg:    cfg,
		db:     db,
		router: mux.NewRouter(),
		cron:   cron.New(),
	}
	s.router.HandleFunc("/digest", s.digest).Methods("POST")
	s.router.HandleFunc("/timestamp/{digest:[0-9a-fA-F]{64}}",
		s.timestamp).Methods("GET")
	s.router.HandleFunc("/api/block-height/{height:[0-9]+}",
		s.blockHeight).Methods("GET")
	s.router.HandleFunc("/api/block/{hash:[0-9a-fA-F]{64}}",
		s.block).Methods("GET")
	return s
}

func be64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// nextHeight advances and persists the development block height.
//
// Must be called with the lock held.
func (s *calendarServer) nextHeight() (uint64, error) {
	height := s.cfg.StartHeight
	b, err := s.db.Get(heightKey, nil)
	switch {
	case err == nil:
		height = binary.BigEndian.Uint64(b) + 1
	case err != leveldb.ErrNotFound:
		return 0, err
	}
	if err := s.db.Put(heightKey, be64(height), nil); err != nil {
		return 0, err
	}
	return height, nil
}

// digest handles POST /digest: accept a raw digest into the pending round
// and answer with a pending chain fragment.  Re-submitting an already
// anchored digest returns the anchored fragment.
func (s *calendarServer) digest(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	digest, err := io.ReadAll(io.LimitReader(r.Body, maxDigestSize+1))
	if err != nil || len(digest) != maxDigestSize {
		util.RespondWithError(w, http.StatusBadRequest,
			"Request body must be a raw 32 byte digest")
		return
	}

	// Already anchored digests get their final fragment straight away.
	if frag, err := s.db.Get(append(anchoredPrefix, digest...), nil); err == nil {
		util.RespondWithBinary(w, http.StatusOK, contentTypeOTS, frag)
		return
	}

	now := time.Now().Unix()
	err = s.db.Put(append(pendingPrefix, digest...), be64(uint64(now)), nil)
	if err != nil {
		log.Errorf("digest %x: put: %v", digest, err)
		util.RespondWithError(w, http.StatusInternalServerError,
			"Could not store digest, try again later")
		return
	}

	frag, err := ots.EncodeFragment(ots.NewChain(nil,
		ots.PendingAttestation{Calendar: s.cfg.PublicURL}))
	if err != nil {
		log.Errorf("digest %x: encode fragment: %v", digest, err)
		util.RespondWithError(w, http.StatusInternalServerError,
			"Internal error")
		return
	}

	log.Infof("Digest %v: accepted %x", r.RemoteAddr, digest)
	util.RespondWithBinary(w, http.StatusOK, contentTypeOTS, frag)
}

// timestamp handles GET /timestamp/{digest}: return the anchored fragment
// for a digest, or 404 while it is still pending.
func (s *calendarServer) timestamp(w http.ResponseWriter, r *http.Request) {
	digest, err := hex.DecodeString(mux.Vars(r)["digest"])
	if err != nil || len(digest) != maxDigestSize {
		util.RespondWithError(w, http.StatusBadRequest,
			"Invalid digest")
		return
	}

	frag, err := s.db.Get(append(anchoredPrefix, digest...), nil)
	if err == leveldb.ErrNotFound {
		// Not an error: the digest simply has not been anchored yet.
		util.RespondWithError(w, http.StatusNotFound,
			"Not yet attested")
		return
	}
	if err != nil {
		log.Errorf("timestamp %x: get: %v", digest, err)
		util.RespondWithError(w, http.StatusInternalServerError,
			"Internal error")
		return
	}

	log.Infof("Timestamp %v: upgraded %x", r.RemoteAddr, digest)
	util.RespondWithBinary(w, http.StatusOK, contentTypeOTS, frag)
}

// blockHeight handles GET /api/block-height/{height}: the development chain
// answer to esplora's height-to-hash lookup.
func (s *calendarServer) blockHeight(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		util.RespondWithError(w, http.StatusBadRequest,
			"Invalid height")
		return
	}

	hash, err := s.db.Get(append(heightPrefix, be64(height)...), nil)
	if err == leveldb.ErrNotFound {
		util.RespondWithError(w, http.StatusNotFound, "Block not found")
		return
	}
	if err != nil {
		util.RespondWithError(w, http.StatusInternalServerError,
			"Internal error")
		return
	}

	var ch chainhash.Hash
	copy(ch[:], hash)
	util.RespondWithBinary(w, http.StatusOK, "text/plain",
		[]byte(ch.String()))
}

// block handles GET /api/block/{hash}.
func (s *calendarServer) block(w http.ResponseWriter, r *http.Request) {
	ch, err := chainhash.NewHashFromStr(mux.Vars(r)["hash"])
	if err != nil {
		util.RespondWithError(w, http.StatusBadRequest, "Invalid hash")
		return
	}

	blob, err := s.db.Get(append(blockPrefix, ch[:]...), nil)
	if err == leveldb.ErrNotFound {
		util.RespondWithError(w, http.StatusNotFound, "Block not found")
		return
	}
	if err != nil {
		util.RespondWithError(w, http.StatusInternalServerError,
			"Internal error")
		return
	}

	util.RespondWithBinary(w, http.StatusOK, "application/json", blob)
}

// flush anchors the pending round: aggregate all pending digests into a
// merkle tree, mint a development block committing the root, and store one
// anchored fragment per digest.
func (s *calendarServer) flush() error {
	s.Lock()
	defer s.Unlock()

	// Snapshot the pending round.
	var digests [][]byte
	iter := s.db.NewIterator(nil, nil)
	for iter.Next() {
		key := iter.Key()
		if len(key) != len(pendingPrefix)+maxDigestSize ||
			key[0] != pendingPrefix[0] {
			continue
		}
		d := make([]byte, maxDigestSize)
		copy(d, key[1:])
		digests = append(digests, d)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	if len(digests) == 0 {
		log.Debugf("Flush: nothing pending")
		return nil
	}

	root, paths, err := merkle.Paths(digests)
	if err != nil {
		return err
	}
	height, err := s.nextHeight()
	if err != nil {
		return err
	}

	// Mint the development block.  The hash only needs to be unique and
	// stable, so hash the root and height together.
	hashInput := append(append([]byte{}, root...), be64(height)...)
	blockHash := sha256.Sum256(hashInput)
	var chHash, chRoot chainhash.Hash
	copy(chHash[:], blockHash[:])
	copy(chRoot[:], root)
	blob, err := json.Marshal(devBlock{
		ID:         chHash.String(),
		Height:     height,
		MerkleRoot: chRoot.String(),
		Timestamp:  time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put(append(heightPrefix, be64(height)...), blockHash[:])
	batch.Put(append(blockPrefix, blockHash[:]...), blob)
	for i, d := range digests {
		frag, err := ots.EncodeFragment(ots.NewChain(paths[i],
			ots.BitcoinAttestation{Height: height}))
		if err != nil {
			return err
		}
		batch.Put(append(anchoredPrefix, d...), frag)
		batch.Delete(append(pendingPrefix, d...))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return err
	}

	log.Infof("Flush: anchored %v digests at height %v root %x",
		len(digests), height, root)
	return nil
}

func _main() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not load configuration: %v", err)
	}
	initLogRotator(cfg.LogFile)
	defer logRotator.Close()
	setLogLevel(cfg.DebugLevel)

	log.Infof("Home dir: %v", cfg.HomeDir)
	log.Infof("Public URL: %v", cfg.PublicURL)

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return err
	}

	if cfg.UseTLS && !util.FileExists(cfg.HTTPSKey) &&
		!util.FileExists(cfg.HTTPSCert) {
		log.Infof("Generating HTTPS keypair...")
		err := util.GenCertPair("calendard", cfg.HTTPSCert, cfg.HTTPSKey)
		if err != nil {
			return fmt.Errorf("unable to create https keypair: %v",
				err)
		}
	}

	db, err := leveldb.OpenFile(filepath.Join(cfg.DataDir, "calendar"), nil)
	if err != nil {
		return err
	}
	defer db.Close()

	s := newCalendarServer(cfg, db)

	if err := s.cron.AddFunc(cfg.AnchorSchedule, func() {
		if err := s.flush(); err != nil {
			log.Errorf("Flush: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid anchor schedule %q: %v",
			cfg.AnchorSchedule, err)
	}
	s.cron.Start()
	defer s.cron.Stop()

	handler := handlers.CombinedLoggingHandler(logWriter{}, s.router)

	listenC := make(chan error)
	go func() {
		log.Infof("Listen: %v", cfg.Listen)
		if cfg.UseTLS {
			listenC <- http.ListenAndServeTLS(cfg.Listen,
				cfg.HTTPSCert, cfg.HTTPSKey, handler)
			return
		}
		listenC <- http.ListenAndServe(cfg.Listen, handler)
	}()

	log.Infof("Start of day")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigs:
		log.Infof("Terminating with %v", sig)
	case err := <-listenC:
		log.Errorf("%v", err)
	}

	log.Infof("Exiting")
	return nil
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
