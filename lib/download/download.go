// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package download implements the verify-on-fetch consumer side of a
// buildchain store published over HTTP: fetch the chain tip, verify
// its signature against a known public key, fetch the manifest object
// it references, and fetch individual artifacts on demand. Every
// object is verified against the digest it was requested by before it
// is handed to the caller.
//
// The transport is untrusted by design: correctness depends only on
// signature and digest equality, not on TLS. Requests are issued
// sequentially with no retry or backoff; a transport or verification
// failure is surfaced immediately and retry policy belongs to the
// caller. Cancellation and timeouts ride on the request context and
// the injected http.Client.
package download

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"sort"

	"github.com/bureau-foundation/buildchain/lib/block"
	"github.com/bureau-foundation/buildchain/lib/digest"
	"github.com/bureau-foundation/buildchain/lib/manifest"
	"github.com/bureau-foundation/buildchain/lib/store"
)

// ErrIntegrity reports a fetched object whose content digest does not
// match the digest it was requested by. The mismatched bytes are
// discarded, never returned to the caller.
var ErrIntegrity = errors.New("download: content digest mismatch")

// ErrUnknownFile reports a file name that is not present in the
// manifest.
var ErrUnknownFile = errors.New("download: file not in manifest")

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download: GET %s: status %d", e.URL, e.StatusCode)
}

// Downloader fetches and verifies chain data for one project/branch
// from a remote store.
type Downloader struct {
	base    *url.URL
	project string
	branch  string
	pub     ed25519.PublicKey
	client  *http.Client
}

// Option configures a Downloader.
type Option func(*Downloader) error

// WithCertificate adds an additional trusted CA certificate (PEM) to
// the transport, on top of the system roots. Used for stores served
// under private certificate authorities.
func WithCertificate(pemData []byte) Option {
	return func(d *Downloader) error {
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pemData) {
			return fmt.Errorf("no certificates found in PEM data")
		}
		d.client = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{RootCAs: pool},
			},
		}
		return nil
	}
}

// WithClient replaces the HTTP client entirely.
func WithClient(client *http.Client) Option {
	return func(d *Downloader) error {
		d.client = client
		return nil
	}
}

// New creates a Downloader for the store at baseURL. keyText is the
// trusted signer's public key in base-32 form; malformed or
// wrong-length key text is a construction-time error.
func New(baseURL, keyText, project, branch string, opts ...Option) (*Downloader, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL %q: %w", baseURL, err)
	}

	raw, err := digest.Encoding.DecodeString(keyText)
	if err != nil {
		return nil, fmt.Errorf("decoding public key %q: %w", keyText, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key %q decodes to %d bytes, want %d", keyText, len(raw), ed25519.PublicKeySize)
	}

	d := &Downloader{
		base:    base,
		project: project,
		branch:  branch,
		pub:     ed25519.PublicKey(raw),
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// get issues a single blocking GET and returns the full response
// body. Any status outside the 2xx range is a *StatusError.
func (d *Downloader) get(ctx context.Context, elem ...string) ([]byte, error) {
	u := d.base.JoinPath(elem...).String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", u, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: u, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", u, err)
	}
	return body, nil
}

// fetchTail fetches and verifies the current chain tip, returning
// both the wire form (for caching) and the decoded form.
func (d *Downloader) fetchTail(ctx context.Context) (*block.SignedBlock, *block.Block, error) {
	body, err := d.get(ctx, "tail", d.project, d.branch)
	if err != nil {
		return nil, nil, err
	}

	signed, err := block.Decode(body)
	if err != nil {
		return nil, nil, err
	}
	decoded, err := signed.Verify(d.pub)
	if err != nil {
		return nil, nil, err
	}
	return signed, decoded, nil
}

// FetchTail fetches the current chain tip for the configured
// project/branch and verifies it against the trusted public key.
func (d *Downloader) FetchTail(ctx context.Context) (*block.Block, error) {
	_, decoded, err := d.fetchTail(ctx)
	return decoded, err
}

// FetchObject fetches the object with digest want and verifies the
// response body against it. On mismatch the bytes are discarded and
// ErrIntegrity returned; the caller may retry the fetch but must
// never see the mismatched content.
func (d *Downloader) FetchObject(ctx context.Context, want digest.Digest) ([]byte, error) {
	body, err := d.get(ctx, "object", want.String())
	if err != nil {
		return nil, err
	}
	if digest.Compute(body) != want {
		return nil, fmt.Errorf("%w: object %s", ErrIntegrity, want)
	}
	return body, nil
}

// Manifest fetches the chain tip, verifies it, and returns the
// manifest it attests to.
func (d *Downloader) Manifest(ctx context.Context) (*manifest.Manifest, error) {
	_, _, _, m, err := d.manifest(ctx)
	return m, err
}

// manifest runs the fetch-tail → fetch-manifest-object path and
// returns every intermediate the callers need: the wire-form tail,
// its decoded form, and the manifest in both raw and parsed form.
func (d *Downloader) manifest(ctx context.Context) (*block.SignedBlock, *block.Block, []byte, *manifest.Manifest, error) {
	signed, decoded, err := d.fetchTail(ctx)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	want, err := digest.Parse(decoded.Digest)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("tail block digest: %w", err)
	}

	body, err := d.FetchObject(ctx, want)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	m, err := manifest.Parse(body)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return signed, decoded, body, m, nil
}

// FetchFile fetches a single named artifact through the manifest,
// verified by its digest.
func (d *Downloader) FetchFile(ctx context.Context, m *manifest.Manifest, name string) ([]byte, error) {
	want, ok, err := m.Digest(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFile, name)
	}
	return d.FetchObject(ctx, want)
}

// Mirror downloads the verified tail block, manifest, and every
// artifact into a local cache store, and returns the decoded tail and
// manifest. Artifacts already present in the cache are not fetched
// again: the cache is content-addressed, so presence implies verified
// content.
func (d *Downloader) Mirror(ctx context.Context, cache *store.Store) (*block.Block, *manifest.Manifest, error) {
	signed, decoded, manifestBytes, m, err := d.manifest(ctx)
	if err != nil {
		return nil, nil, err
	}

	if _, err := cache.WriteTail(d.project, d.branch, signed.Bytes()); err != nil {
		return nil, nil, err
	}
	if _, err := cache.WriteManifest(manifestBytes); err != nil {
		return nil, nil, err
	}

	names := make([]string, 0, len(m.Files))
	for name := range m.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		want, _, err := m.Digest(name)
		if err != nil {
			return nil, nil, err
		}

		if f, err := cache.OpenObject(want); err == nil {
			f.Close()
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, err
		}

		content, err := d.FetchObject(ctx, want)
		if err != nil {
			return nil, nil, err
		}
		if _, err := cache.WriteObject(content); err != nil {
			return nil, nil, err
		}
	}

	return decoded, m, nil
}
