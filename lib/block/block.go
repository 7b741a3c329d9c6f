// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package block implements the 400-byte signed chain entry that
// anchors a build manifest into a per-project/per-branch chain.
//
// A block is an Ed25519 attached signature: the first 64 bytes are
// the signature and the remaining 336 bytes are the signed message.
// The message carries the signer's public key, the previous block's
// signature (chain linkage), a counter, a timestamp, and an embedded
// signing request whose final field is the SHA-384 digest of the
// manifest the block attests to.
//
// Wire layout (all integers little-endian, fixed offsets):
//
//	[0:64]    signature over [64:400]
//	[64:96]   public key
//	[96:160]  previous signature
//	[160:168] counter
//	[168:176] timestamp
//	[176:240] request signature (opaque to verifiers)
//	[240:272] request public key         (must mirror [64:96])
//	[272:336] request previous signature (must mirror [96:160])
//	[336:344] request counter            (must mirror [160:168])
//	[344:352] request timestamp          (must mirror [168:176])
//	[352:400] request digest (manifest SHA-384)
//
// Decoding validates total length before reading any field; there is
// no reinterpretation of untrusted memory as a typed structure.
package block

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bureau-foundation/buildchain/lib/digest"
)

// BlockSize is the exact wire size of a signed block. Shorter or
// longer inputs are malformed; nothing is truncated or zero-padded.
const BlockSize = 400

// SignatureSize is the byte length of an Ed25519 signature.
const SignatureSize = 64

// Field offsets within the 400-byte buffer.
const (
	offSignature        = 0
	offPublicKey        = 64
	offPrevSignature    = 96
	offCounter          = 160
	offTimestamp        = 168
	offReqSignature     = 176
	offReqPublicKey     = 240
	offReqPrevSignature = 272
	offReqCounter       = 336
	offReqTimestamp     = 344
	offReqDigest        = 352
)

// Verification and decoding failures. All are terminal for the block
// in question: no partial trust is granted, and retry (e.g. a
// re-fetch after a transport hiccup) is the caller's business.
var (
	// ErrBlockSize reports a buffer that is not exactly BlockSize
	// bytes long.
	ErrBlockSize = errors.New("block: wrong size")

	// ErrWrongSigner reports a block whose embedded public key is
	// not the key the caller trusts. The verifier never trusts
	// whatever key is embedded in the block itself.
	ErrWrongSigner = errors.New("block: public key mismatch")

	// ErrBadSignature reports a cryptographically invalid signature.
	ErrBadSignature = errors.New("block: signature invalid")

	// ErrPayloadMismatch reports a signed payload whose embedded
	// request fields do not mirror the outer chain fields. A valid
	// signer always emits matching copies; a mismatch means the
	// signed bytes are not the fields they claim to be.
	ErrPayloadMismatch = errors.New("block: payload mismatch")
)

// Request is the embedded signing request. Its signature field is
// opaque to verifiers (it is simply part of the signed payload); the
// remaining fields mirror the outer block fields and terminate in the
// manifest digest.
type Request struct {
	Signature         [SignatureSize]byte
	PublicKey         [ed25519.PublicKeySize]byte
	PreviousSignature [SignatureSize]byte
	Counter           uint64
	Timestamp         uint64
	Digest            digest.Digest
}

// SignedBlock is the decoded but unverified wire form. It retains the
// raw buffer so verification can check the signature over the exact
// bytes received.
type SignedBlock struct {
	Signature         [SignatureSize]byte
	PublicKey         [ed25519.PublicKeySize]byte
	PreviousSignature [SignatureSize]byte
	Counter           uint64
	Timestamp         uint64
	Request           Request

	raw [BlockSize]byte
}

// Block is the human-facing projection of a verified block: binary
// fields as base-32 strings, integers native. It is produced only by
// successful verification, never constructed from untrusted data
// directly.
type Block struct {
	Signature         string `json:"signature"`
	PublicKey         string `json:"public_key"`
	PreviousSignature string `json:"previous_signature"`
	Counter           uint64 `json:"counter"`
	Timestamp         uint64 `json:"timestamp"`
	Digest            string `json:"digest"`
}

// Decode parses buf into a SignedBlock. It fails with ErrBlockSize
// unless buf is exactly BlockSize bytes.
func Decode(buf []byte) (*SignedBlock, error) {
	if len(buf) != BlockSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrBlockSize, len(buf), BlockSize)
	}

	var b SignedBlock
	copy(b.raw[:], buf)

	copy(b.Signature[:], buf[offSignature:offPublicKey])
	copy(b.PublicKey[:], buf[offPublicKey:offPrevSignature])
	copy(b.PreviousSignature[:], buf[offPrevSignature:offCounter])
	b.Counter = binary.LittleEndian.Uint64(buf[offCounter:])
	b.Timestamp = binary.LittleEndian.Uint64(buf[offTimestamp:])

	copy(b.Request.Signature[:], buf[offReqSignature:offReqPublicKey])
	copy(b.Request.PublicKey[:], buf[offReqPublicKey:offReqPrevSignature])
	copy(b.Request.PreviousSignature[:], buf[offReqPrevSignature:offReqCounter])
	b.Request.Counter = binary.LittleEndian.Uint64(buf[offReqCounter:])
	b.Request.Timestamp = binary.LittleEndian.Uint64(buf[offReqTimestamp:])
	copy(b.Request.Digest[:], buf[offReqDigest:BlockSize])

	return &b, nil
}

// Bytes returns a copy of the raw 400-byte wire form.
func (b *SignedBlock) Bytes() []byte {
	out := make([]byte, BlockSize)
	copy(out, b.raw[:])
	return out
}

// Verify authenticates the block against the caller's trusted public
// key and returns the decoded form. The checks run in order:
//
//  1. The embedded public key must equal expected (ErrWrongSigner).
//     This enforces a single trusted root of identity per caller.
//  2. The first 64 bytes must be a valid Ed25519 signature by that
//     key over the remaining 336 bytes (ErrBadSignature).
//  3. The request's mirror fields must byte-for-byte equal the outer
//     chain fields (ErrPayloadMismatch). The signature only proves
//     the signer produced these 336 bytes; the mirror check proves
//     the signed request is about the same chain position the outer
//     fields advertise.
//
// Any failure leaves the block completely unverified.
func (b *SignedBlock) Verify(expected ed25519.PublicKey) (*Block, error) {
	if len(expected) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: expected key is %d bytes, want %d", ErrWrongSigner, len(expected), ed25519.PublicKeySize)
	}
	if !bytes.Equal(b.PublicKey[:], expected) {
		return nil, ErrWrongSigner
	}

	if !ed25519.Verify(b.PublicKey[:], b.raw[offPublicKey:], b.raw[:offPublicKey]) {
		return nil, ErrBadSignature
	}

	if b.Request.PublicKey != b.PublicKey ||
		b.Request.PreviousSignature != b.PreviousSignature ||
		b.Request.Counter != b.Counter ||
		b.Request.Timestamp != b.Timestamp {
		return nil, ErrPayloadMismatch
	}

	return &Block{
		Signature:         digest.Encoding.EncodeToString(b.Signature[:]),
		PublicKey:         digest.Encoding.EncodeToString(b.PublicKey[:]),
		PreviousSignature: digest.Encoding.EncodeToString(b.PreviousSignature[:]),
		Counter:           b.Counter,
		Timestamp:         b.Timestamp,
		Digest:            b.Request.Digest.String(),
	}, nil
}

// Sign constructs a new signed block. The embedded request carries
// its own attached signature over the request's trailing fields; the
// outer signature covers everything after the signature field. This
// is the byte-exact contract an external signer must honor; it is
// also used by the in-process signer and by tests.
func Sign(priv ed25519.PrivateKey, previous [SignatureSize]byte, counter, timestamp uint64, d digest.Digest) [BlockSize]byte {
	var buf [BlockSize]byte

	pub := priv.Public().(ed25519.PublicKey)

	copy(buf[offPublicKey:], pub)
	copy(buf[offPrevSignature:], previous[:])
	binary.LittleEndian.PutUint64(buf[offCounter:], counter)
	binary.LittleEndian.PutUint64(buf[offTimestamp:], timestamp)

	copy(buf[offReqPublicKey:], pub)
	copy(buf[offReqPrevSignature:], previous[:])
	binary.LittleEndian.PutUint64(buf[offReqCounter:], counter)
	binary.LittleEndian.PutUint64(buf[offReqTimestamp:], timestamp)
	copy(buf[offReqDigest:], d[:])

	requestSig := ed25519.Sign(priv, buf[offReqPublicKey:])
	copy(buf[offReqSignature:], requestSig)

	outerSig := ed25519.Sign(priv, buf[offPublicKey:])
	copy(buf[offSignature:], outerSig)

	return buf
}
