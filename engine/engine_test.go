// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/chainstamp/chainstamp/chaindata"
	"github.com/chainstamp/chainstamp/ots"
	"github.com/chainstamp/chainstamp/verify"
)

// mockCalendar is an in-memory calendar server.  Submissions get a pending
// fragment; once a digest is anchored with anchor, upgrades return the final
// fragment.
type mockCalendar struct {
	srv *httptest.Server

	mtx      sync.Mutex
	anchored map[string][]byte
}

func newMockCalendar(t *testing.T) *mockCalendar {
	t.Helper()
	c := &mockCalendar{anchored: make(map[string][]byte)}

	r := mux.NewRouter()
	r.HandleFunc("/digest", func(w http.ResponseWriter, req *http.Request) {
		frag, err := ots.EncodeFragment(ots.NewChain(nil,
			ots.PendingAttestation{Calendar: c.srv.URL}))
		require.NoError(t, err)
		w.Write(frag)
	}).Methods("POST")
	r.HandleFunc("/timestamp/{digest:[0-9a-fA-F]+}",
		func(w http.ResponseWriter, req *http.Request) {
			c.mtx.Lock()
			frag, ok := c.anchored[mux.Vars(req)["digest"]]
			c.mtx.Unlock()
			if !ok {
				http.NotFound(w, req)
				return
			}
			w.Write(frag)
		}).Methods("GET")

	c.srv = httptest.NewServer(r)
	t.Cleanup(c.srv.Close)
	return c
}

// anchor marks digest as attested: upgrades now return a fragment appending
// salt, hashing, and claiming the result is in the block at height.
func (c *mockCalendar) anchor(t *testing.T, digest []byte, salt string, height uint64) []byte {
	t.Helper()
	frag, err := ots.EncodeFragment(ots.NewChain([]ots.Operation{
		ots.Append{Data: []byte(salt)},
		ots.Hash{Algorithm: ots.SHA256},
	}, ots.BitcoinAttestation{Height: height}))
	require.NoError(t, err)

	c.mtx.Lock()
	c.anchored[hex.EncodeToString(digest)] = frag
	c.mtx.Unlock()

	value := sha256.Sum256(append(append([]byte{}, digest...), salt...))
	return value[:]
}

// fakeExplorer serves esplora-shaped block data for a single height.
func fakeExplorer(t *testing.T, height uint64, merkleRoot []byte) *httptest.Server {
	t.Helper()
	blockHash := sha256.Sum256(merkleRoot)
	var chHash, chRoot chainhash.Hash
	copy(chHash[:], blockHash[:])
	copy(chRoot[:], merkleRoot)

	m := http.NewServeMux()
	m.HandleFunc(fmt.Sprintf("/block-height/%v", height),
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, chHash.String())
		})
	m.HandleFunc("/block/"+chHash.String(),
		func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id":          chHash.String(),
				"height":      height,
				"merkle_root": chRoot.String(),
				"timestamp":   1700000000,
			})
		})
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)
	return srv
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	cal := newMockCalendar(t)

	content := []byte("hello")
	digest := sha256.Sum256(content)

	// The anchor commits sha256(digest||salt) to block 812371; the
	// explorer agrees.
	value := cal.anchor(t, digest[:], "salt", 812371)
	explorer := fakeExplorer(t, 812371, value)

	e, err := New(&Config{
		Calendars: []string{cal.srv.URL},
		Headers:   chaindata.NewEsplora(explorer.URL, time.Second),
	})
	require.NoError(t, err)

	rec := e.Create(content)
	require.Equal(t, digest[:], rec.Digest)
	require.Equal(t, ots.StatusDraft, rec.Status)

	// Submit: one calendar, one pending branch.
	require.NoError(t, e.Submit(ctx, rec))
	require.Equal(t, ots.StatusSubmitted, rec.Status)
	require.Len(t, rec.Chain.PendingBranches(), 1)

	// Upgrade: the calendar has the anchor, verification passes.
	changed, err := e.Upgrade(ctx, rec)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, ots.StatusVerified, rec.Status)
	require.Empty(t, rec.Chain.PendingBranches())

	// Upgrade again: nothing pending, idempotent no-op.
	blob, err := ots.Encode(rec)
	require.NoError(t, err)
	changed, err = e.Upgrade(ctx, rec)
	require.NoError(t, err)
	require.False(t, changed)
	blob2, err := ots.Encode(rec)
	require.NoError(t, err)
	require.True(t, bytes.Equal(blob, blob2),
		"no-op upgrade changed the serialized proof")

	// Independent verification of the final record.
	res, err := e.Verify(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, verify.StatusVerified, res.Status)
}

func TestUpgradeBeforeAnchor(t *testing.T) {
	ctx := context.Background()
	cal := newMockCalendar(t)
	explorer := fakeExplorer(t, 1, make([]byte, sha256.Size))

	e, err := New(&Config{
		Calendars: []string{cal.srv.URL},
		Headers:   chaindata.NewEsplora(explorer.URL, time.Second),
	})
	require.NoError(t, err)

	rec := e.Create([]byte("hello"))
	require.NoError(t, e.Submit(ctx, rec))
	blob, err := ots.Encode(rec)
	require.NoError(t, err)

	// Calendar answers 404: not an error, nothing changes, and repeated
	// calls leave the serialized form untouched.
	for i := 0; i < 3; i++ {
		changed, err := e.Upgrade(ctx, rec)
		require.NoError(t, err)
		require.False(t, changed)
	}
	require.Equal(t, ots.StatusSubmitted, rec.Status)
	blob2, err := ots.Encode(rec)
	require.NoError(t, err)
	require.True(t, bytes.Equal(blob, blob2))
}

func TestSubmitPartialFailure(t *testing.T) {
	ctx := context.Background()
	cal := newMockCalendar(t)
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	explorer := fakeExplorer(t, 1, make([]byte, sha256.Size))

	e, err := New(&Config{
		Calendars: []string{cal.srv.URL, dead.URL},
		Headers:   chaindata.NewEsplora(explorer.URL, time.Second),
	})
	require.NoError(t, err)

	// One of two calendars down: the record still goes through with a
	// single branch.
	rec := e.Create([]byte("hello"))
	require.NoError(t, e.Submit(ctx, rec))
	require.Equal(t, ots.StatusSubmitted, rec.Status)
	require.Len(t, rec.Chain.PendingBranches(), 1)
}

func TestSubmitTotalFailure(t *testing.T) {
	ctx := context.Background()
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	explorer := fakeExplorer(t, 1, make([]byte, sha256.Size))

	e, err := New(&Config{
		Calendars: []string{dead.URL},
		Headers:   chaindata.NewEsplora(explorer.URL, time.Second),
	})
	require.NoError(t, err)

	rec := e.Create([]byte("hello"))
	require.Error(t, e.Submit(ctx, rec))
	require.Equal(t, ots.StatusFailed, rec.Status)

	// Failed submissions may be retried.
	cal := newMockCalendar(t)
	e2, err := New(&Config{
		Calendars: []string{cal.srv.URL},
		Headers:   chaindata.NewEsplora(explorer.URL, time.Second),
	})
	require.NoError(t, err)
	require.NoError(t, e2.Submit(ctx, rec))
	require.Equal(t, ots.StatusSubmitted, rec.Status)

	// Submitted records may not be submitted again.
	require.ErrorIs(t, e2.Submit(ctx, rec), ErrWrongState)
}

func TestUpgradeExplorerDown(t *testing.T) {
	ctx := context.Background()
	cal := newMockCalendar(t)
	explorer := fakeExplorer(t, 812371, make([]byte, sha256.Size))
	explorer.Close() // Headers unreachable from here on.

	e, err := New(&Config{
		Calendars: []string{cal.srv.URL},
		Headers:   chaindata.NewEsplora(explorer.URL, time.Second),
	})
	require.NoError(t, err)

	rec := e.Create([]byte("hello"))
	require.NoError(t, e.Submit(ctx, rec))
	cal.anchor(t, rec.Digest, "salt", 812371)

	// The anchor arrives but cannot be re-checked: the record is
	// confirmed, not failed.  Verification stays available for later.
	changed, err := e.Upgrade(ctx, rec)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, ots.StatusConfirmed, rec.Status)
}

func TestVerifyImportedProof(t *testing.T) {
	// Verify is a pure check: a proof decoded from disk with no
	// submission history verifies on its own.
	ctx := context.Background()
	digest := sha256.Sum256([]byte("hello"))
	salt := "salt"
	value := sha256.Sum256(append(append([]byte{}, digest[:]...), salt...))
	explorer := fakeExplorer(t, 812371, value[:])

	rec, err := ots.NewRecord(digest[:], ots.SHA256)
	require.NoError(t, err)
	rec.Chain = ots.NewChain([]ots.Operation{
		ots.Append{Data: []byte(salt)},
		ots.Hash{Algorithm: ots.SHA256},
	}, ots.BitcoinAttestation{Height: 812371})
	rec.Status = ots.StatusConfirmed

	blob, err := ots.Encode(rec)
	require.NoError(t, err)
	imported, err := ots.Decode(blob)
	require.NoError(t, err)

	e, err := New(&Config{
		Calendars: []string{"https://unused.example"},
		Headers:   chaindata.NewEsplora(explorer.URL, time.Second),
	})
	require.NoError(t, err)

	res, err := e.Verify(ctx, imported)
	require.NoError(t, err)
	require.Equal(t, verify.StatusVerified, res.Status)

	// Verify never mutates: the in-memory status is untouched.
	require.Equal(t, ots.StatusConfirmed, imported.Status)
}

func TestNewValidation(t *testing.T) {
	_, err := New(&Config{Headers: chaindata.NewEsplora("http://x", 0)})
	require.ErrorIs(t, err, ErrNoCalendars)

	_, err = New(&Config{Calendars: []string{"http://x"}})
	require.Error(t, err)
}
