// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package calendar implements the client side of the calendar HTTP protocol:
// submitting digests for aggregation and polling for upgraded proofs.  It
// carries no cryptographic logic; responses are handed to the proof codec.
package calendar

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chainstamp/chainstamp/ots"
)

const (
	// DefaultTimeout bounds a single calendar request.
	DefaultTimeout = 15 * time.Second

	// SubmitRoute is the digest submission endpoint, relative to the
	// calendar URL.  The request body is the raw digest.
	SubmitRoute = "/digest"

	// UpgradeRoute is the proof status endpoint.  The digest is appended
	// hex encoded.
	UpgradeRoute = "/timestamp/"

	acceptHeader      = "application/vnd.opentimestamps.v1"
	contentTypeHeader = "application/x-www-form-urlencoded"

	// maxResponseSize clamps calendar response bodies.  Fragments are
	// merkle paths plus an attestation; anything bigger is not a proof.
	maxResponseSize = 1 << 16
)

var (
	// ErrAllServersUnreachable is returned by Submit when not a single
	// configured server produced a usable response.  Recoverable; retry
	// with the same or a different server set.
	ErrAllServersUnreachable = errors.New("no calendar server reachable")

	// ErrServerError is returned by Upgrade on a non-404 error status.
	// Recoverable; poll again on a later schedule.
	ErrServerError = errors.New("calendar server error")

	// ErrMalformedResponse is returned by Upgrade when the response body
	// does not decode as a chain fragment.  Recoverable per branch.
	ErrMalformedResponse = errors.New("malformed calendar response")
)

// Submission is one calendar's answer to a submit call: the server that
// responded and the pending chain fragment it returned.  Submissions are
// merged into a record's chain and discarded.
type Submission struct {
	Calendar string
	Fragment *ots.Chain
}

// Client talks to calendar servers.  A zero timeout means DefaultTimeout.
// Client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// New returns a calendar client with the given per-request timeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// normalizeURL strips a trailing slash so routes concatenate cleanly.
func normalizeURL(u string) string {
	return strings.TrimRight(u, "/")
}

// Submit posts digest to every server concurrently and returns one
// Submission per server that answered with a well formed fragment, in server
// list order.  Servers that time out, error, or return garbage are dropped.
// Submit fails only when every server was dropped.
func (c *Client) Submit(ctx context.Context, digest []byte, servers []string) ([]Submission, error) {
	if len(servers) == 0 {
		return nil, ErrAllServersUnreachable
	}

	results := make([]*Submission, len(servers))
	var wg sync.WaitGroup
	for i, server := range servers {
		wg.Add(1)
		go func(i int, server string) {
			defer wg.Done()
			frag, err := c.submitOne(ctx, server, digest)
			if err != nil {
				log.Debugf("Submit %v: %v", server, err)
				return
			}
			results[i] = &Submission{
				Calendar: normalizeURL(server),
				Fragment: frag,
			}
		}(i, server)
	}
	wg.Wait()

	subs := make([]Submission, 0, len(servers))
	for _, r := range results {
		if r != nil {
			subs = append(subs, *r)
		}
	}
	if len(subs) == 0 {
		return nil, ErrAllServersUnreachable
	}
	return subs, nil
}

// submitOne posts digest to a single server and decodes the fragment.
func (c *Client) submitOne(ctx context.Context, server string, digest []byte) (*ots.Chain, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := normalizeURL(server) + SubmitRoute
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u,
		bytes.NewReader(digest))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentTypeHeader)
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %v", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	frag, err := ots.DecodeFragment(body)
	if err != nil {
		return nil, fmt.Errorf("decode fragment: %w", err)
	}
	return frag, nil
}

// Upgrade polls a single calendar for an updated proof of digest.  The bool
// reports whether the calendar had anything new: (nil, false, nil) means not
// yet attested, an expected and frequent outcome, not an error.
func (c *Client) Upgrade(ctx context.Context, calendarURL string, digest []byte) (*ots.Chain, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := normalizeURL(calendarURL) + UpgradeRoute + hex.EncodeToString(digest)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrServerError, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// Calendar has no newer information yet.
		return nil, false, nil
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("%w: status %v", ErrServerError,
			resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrServerError, err)
	}
	frag, err := ots.DecodeFragment(body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	log.Debugf("Upgrade %v: %x advanced", calendarURL, digest)
	return frag, true, nil
}
