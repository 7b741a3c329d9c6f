// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest implements the SHA-384 content identifier used
// throughout buildchain. A digest is 48 raw bytes; its canonical
// textual form is unpadded RFC 4648 base-32, which is what appears in
// manifests, store paths, and URLs.
package digest

import (
	"crypto/sha512"
	"encoding/base32"
	"fmt"
	"io"
)

// Size is the byte length of a digest (SHA-384 output).
const Size = 48

// EncodedLen is the length of the base-32 textual form of a digest.
const EncodedLen = 77

// readChunkSize is the buffer size used when hashing a stream.
// Streaming in fixed chunks keeps memory bounded regardless of
// artifact size.
const readChunkSize = 4096

// Encoding is the unpadded RFC 4648 base-32 alphabet shared by
// digests, block signatures, and staging identifiers. Exported so the
// store can encode 64-byte signatures and random staging IDs with the
// same alphabet.
var Encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Digest is a SHA-384 content identifier. It is an immutable value
// type; equality is byte-wise (== works).
type Digest [Size]byte

// Compute returns the digest of data.
func Compute(data []byte) Digest {
	return Digest(sha512.Sum384(data))
}

// ComputeReader returns the digest of everything readable from r,
// hashing in fixed-size chunks.
func ComputeReader(r io.Reader) (Digest, error) {
	hasher := sha512.New384()
	buf := make([]byte, readChunkSize)
	if _, err := io.CopyBuffer(hasher, r, buf); err != nil {
		return Digest{}, fmt.Errorf("hashing stream: %w", err)
	}
	var d Digest
	copy(d[:], hasher.Sum(nil))
	return d, nil
}

// String returns the canonical unpadded base-32 form.
func (d Digest) String() string {
	return Encoding.EncodeToString(d[:])
}

// Parse decodes the canonical base-32 form back into a Digest. It
// fails on invalid base-32 input or when the decoded length is not
// exactly Size bytes; callers must never accept a digest of any other
// length.
func Parse(text string) (Digest, error) {
	raw, err := Encoding.DecodeString(text)
	if err != nil {
		return Digest{}, fmt.Errorf("decoding digest %q: %w", text, err)
	}
	if len(raw) != Size {
		return Digest{}, fmt.Errorf("digest %q decodes to %d bytes, want %d", text, len(raw), Size)
	}
	var d Digest
	copy(d[:], raw)
	return d, nil
}

// MarshalText implements encoding.TextMarshaler so digests serialize
// as their base-32 form in JSON manifests.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
