// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package signer defines the external signing collaborator: given the
// serialized manifest bytes, a signer returns a complete 400-byte
// signed block extending the chain. The core does not know or care
// whether the signer is a subprocess holding a hardware key, a
// network call, or an in-process key; only the byte-exact contract
// matters.
package signer

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/bureau-foundation/buildchain/lib/block"
	"github.com/bureau-foundation/buildchain/lib/digest"
)

// Signer produces a signed block attesting to a serialized manifest.
// A response of anything other than exactly 400 bytes is a fatal
// error, never a partial result to be retried internally.
type Signer interface {
	Sign(ctx context.Context, manifest []byte) ([block.BlockSize]byte, error)
}

// ExecSigner invokes an external signing process, writing the
// manifest bytes to its stdin and reading the signed block from its
// stdout. The process holds the private key; its key handling is
// entirely its own business.
type ExecSigner struct {
	// Command is the signing binary to invoke.
	Command string

	// Args are passed to the command verbatim.
	Args []string
}

// Sign runs the signing command once. The command must write exactly
// 400 bytes to stdout and exit zero.
func (e *ExecSigner) Sign(ctx context.Context, manifest []byte) ([block.BlockSize]byte, error) {
	var response [block.BlockSize]byte

	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Stdin = bytes.NewReader(manifest)

	out, err := cmd.Output()
	if err != nil {
		return response, fmt.Errorf("running signer %s: %w", e.Command, err)
	}
	if len(out) != block.BlockSize {
		return response, fmt.Errorf("signer %s returned %d bytes, want %d", e.Command, len(out), block.BlockSize)
	}

	copy(response[:], out)
	return response, nil
}

// KeySigner signs blocks with an in-process Ed25519 key. It holds the
// chain state (previous signature and counter) for a single
// project/branch chain; a KeySigner must not be shared across chains.
// Safe for concurrent use, though callers serialize tail updates
// anyway (single writer per project/branch).
type KeySigner struct {
	// Now reports the current time for block timestamps. Defaults to
	// time.Now; tests substitute a fixed clock.
	Now func() time.Time

	priv ed25519.PrivateKey

	mu       sync.Mutex
	previous [block.SignatureSize]byte
	counter  uint64
}

// NewKeySigner creates a signer starting a fresh chain: the first
// block has counter zero and an all-zero previous signature.
func NewKeySigner(priv ed25519.PrivateKey) *KeySigner {
	return &KeySigner{Now: time.Now, priv: priv}
}

// NewKeySignerAt creates a signer resuming an existing chain at the
// given previous signature and next counter value, e.g. after reading
// the current tail block from a store.
func NewKeySignerAt(priv ed25519.PrivateKey, previous [block.SignatureSize]byte, counter uint64) *KeySigner {
	return &KeySigner{Now: time.Now, priv: priv, previous: previous, counter: counter}
}

// PublicKey returns the verifying key for blocks this signer produces.
func (k *KeySigner) PublicKey() ed25519.PublicKey {
	return k.priv.Public().(ed25519.PublicKey)
}

// Sign produces the next block in the chain, attesting to the digest
// of the manifest bytes, and advances the chain state.
func (k *KeySigner) Sign(ctx context.Context, manifest []byte) ([block.BlockSize]byte, error) {
	if err := ctx.Err(); err != nil {
		return [block.BlockSize]byte{}, err
	}

	d := digest.Compute(manifest)

	k.mu.Lock()
	defer k.mu.Unlock()

	wire := block.Sign(k.priv, k.previous, k.counter, uint64(k.Now().Unix()), d)
	copy(k.previous[:], wire[:block.SignatureSize])
	k.counter++

	return wire, nil
}
