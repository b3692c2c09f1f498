// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaindata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

const (
	// DefaultMainnetURL is the default esplora instance for mainnet.
	DefaultMainnetURL = "https://blockstream.info/api"

	// DefaultTestnetURL is the default esplora instance for testnet.
	DefaultTestnetURL = "https://blockstream.info/testnet/api"

	defaultEsploraTimeout = 15 * time.Second

	maxEsploraResponse = 1 << 16
)

// esploraBlock is the provider's block JSON, reduced to the fields we read.
// Hashes arrive in reversed display order.
type esploraBlock struct {
	ID         string `json:"id"`
	Height     uint64 `json:"height"`
	MerkleRoot string `json:"merkle_root"`
	Timestamp  int64  `json:"timestamp"`
}

// Esplora is a Source backed by an esplora compatible block explorer API.
type Esplora struct {
	url        string
	httpClient *http.Client
}

var _ Source = (*Esplora)(nil)

// NewEsplora returns an esplora client for the given API base URL.  A zero
// timeout selects a default.
func NewEsplora(url string, timeout time.Duration) *Esplora {
	if timeout <= 0 {
		timeout = defaultEsploraTimeout
	}
	return &Esplora{
		url:        strings.TrimRight(url, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// get performs a GET and returns the body, mapping 404 to ErrBlockNotFound.
func (e *Esplora) get(ctx context.Context, route string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		e.url+route, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP Get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrBlockNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("invalid explorer answer: %v",
			resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxEsploraResponse))
}

// BlockHeader implements Source.  It resolves the height to a block hash and
// fetches that block's header fields.
func (e *Esplora) BlockHeader(ctx context.Context, height uint64) (*BlockHeader, error) {
	hashHex, err := e.get(ctx, "/block-height/"+
		strconv.FormatUint(height, 10))
	if err != nil {
		return nil, err
	}
	blockHash, err := chainhash.NewHashFromStr(strings.TrimSpace(string(hashHex)))
	if err != nil {
		return nil, fmt.Errorf("invalid block hash: %w", err)
	}

	body, err := e.get(ctx, "/block/"+blockHash.String())
	if err != nil {
		return nil, err
	}
	var blk esploraBlock
	if err := json.Unmarshal(body, &blk); err != nil {
		return nil, fmt.Errorf("invalid block JSON: %w", err)
	}
	if blk.Height != height {
		return nil, fmt.Errorf("explorer returned height %v, want %v",
			blk.Height, height)
	}

	// The explorer reports the merkle root in reversed display order;
	// verification compares internal byte order.
	root, err := chainhash.NewHashFromStr(blk.MerkleRoot)
	if err != nil {
		return nil, fmt.Errorf("invalid merkle root: %w", err)
	}

	return &BlockHeader{
		Height:     height,
		Hash:       *blockHash,
		MerkleRoot: root[:],
		Time:       time.Unix(blk.Timestamp, 0).UTC(),
	}, nil
}
