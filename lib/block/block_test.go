// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package block

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/bureau-foundation/buildchain/lib/digest"
)

func testKey(t *testing.T, seed byte) ed25519.PrivateKey {
	t.Helper()
	seedBytes := make([]byte, ed25519.SeedSize)
	for i := range seedBytes {
		seedBytes[i] = seed
	}
	return ed25519.NewKeyFromSeed(seedBytes)
}

// testBlock signs a block with fixed chain fields and returns its
// wire form.
func testBlock(t *testing.T, priv ed25519.PrivateKey) [BlockSize]byte {
	t.Helper()
	var previous [SignatureSize]byte
	for i := range previous {
		previous[i] = 0xab
	}
	d := digest.Compute([]byte("manifest content"))
	return Sign(priv, previous, 7, 1500000000, d)
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	for _, size := range []int{0, 1, 64, 399, 401, 800} {
		if _, err := Decode(make([]byte, size)); !errors.Is(err, ErrBlockSize) {
			t.Errorf("Decode of %d bytes: err = %v, want ErrBlockSize", size, err)
		}
	}
}

func TestVerifySuccess(t *testing.T) {
	priv := testKey(t, 1)
	wire := testBlock(t, priv)

	signed, err := Decode(wire[:])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	decoded, err := signed.Verify(priv.Public().(ed25519.PublicKey))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if decoded.Counter != 7 {
		t.Errorf("Counter = %d, want 7", decoded.Counter)
	}
	if decoded.Timestamp != 1500000000 {
		t.Errorf("Timestamp = %d, want 1500000000", decoded.Timestamp)
	}
	wantDigest := digest.Compute([]byte("manifest content")).String()
	if decoded.Digest != wantDigest {
		t.Errorf("Digest = %s, want %s", decoded.Digest, wantDigest)
	}
	if decoded.Signature != digest.Encoding.EncodeToString(wire[:64]) {
		t.Errorf("Signature = %s", decoded.Signature)
	}
	if decoded.PublicKey != digest.Encoding.EncodeToString(priv.Public().(ed25519.PublicKey)) {
		t.Errorf("PublicKey = %s", decoded.PublicKey)
	}
	if decoded.PreviousSignature != digest.Encoding.EncodeToString(wire[96:160]) {
		t.Errorf("PreviousSignature = %s", decoded.PreviousSignature)
	}
}

func TestVerifyWrongSigner(t *testing.T) {
	priv := testKey(t, 1)
	other := testKey(t, 2)
	wire := testBlock(t, priv)

	signed, err := Decode(wire[:])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if _, err := signed.Verify(other.Public().(ed25519.PublicKey)); !errors.Is(err, ErrWrongSigner) {
		t.Errorf("Verify with wrong key: err = %v, want ErrWrongSigner", err)
	}
}

func TestVerifyRejectsTruncatedKey(t *testing.T) {
	priv := testKey(t, 1)
	wire := testBlock(t, priv)

	signed, err := Decode(wire[:])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if _, err := signed.Verify(ed25519.PublicKey(nil)); !errors.Is(err, ErrWrongSigner) {
		t.Errorf("Verify with nil key: err = %v, want ErrWrongSigner", err)
	}
}

func TestVerifyDetectsBitFlips(t *testing.T) {
	priv := testKey(t, 1)
	pub := priv.Public().(ed25519.PublicKey)
	wire := testBlock(t, priv)

	// Flipping any bit in the signed region [64:400) must fail
	// verification; nothing may silently succeed. Flips inside the
	// public key field surface as ErrWrongSigner (the key no longer
	// matches the trusted one), everything else as ErrBadSignature
	// or ErrPayloadMismatch.
	for offset := 64; offset < BlockSize; offset++ {
		mutated := wire
		mutated[offset] ^= 0x01

		signed, err := Decode(mutated[:])
		if err != nil {
			t.Fatalf("Decode failed at offset %d: %v", offset, err)
		}
		if _, err := signed.Verify(pub); err == nil {
			t.Fatalf("Verify succeeded with bit flip at offset %d", offset)
		}
	}

	// Flips inside the signature itself must also fail.
	for _, offset := range []int{0, 13, 63} {
		mutated := wire
		mutated[offset] ^= 0x01

		signed, err := Decode(mutated[:])
		if err != nil {
			t.Fatalf("Decode failed at offset %d: %v", offset, err)
		}
		if _, err := signed.Verify(pub); !errors.Is(err, ErrBadSignature) {
			t.Errorf("flip at offset %d: err = %v, want ErrBadSignature", offset, err)
		}
	}
}

func TestVerifyPayloadMismatch(t *testing.T) {
	// Forge a block whose signature is valid but whose request
	// mirror fields disagree with the outer chain fields. The
	// signature check alone would accept it; the mirror comparison
	// must not.
	priv := testKey(t, 1)
	pub := priv.Public().(ed25519.PublicKey)
	wire := testBlock(t, priv)

	// Bump the request counter, then re-sign the payload so the
	// outer signature is cryptographically valid again.
	binary.LittleEndian.PutUint64(wire[336:], 99)
	copy(wire[:64], ed25519.Sign(priv, wire[64:]))

	signed, err := Decode(wire[:])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, err := signed.Verify(pub); !errors.Is(err, ErrPayloadMismatch) {
		t.Errorf("Verify of forged mirror: err = %v, want ErrPayloadMismatch", err)
	}
}

func TestBytesRoundtrip(t *testing.T) {
	priv := testKey(t, 1)
	wire := testBlock(t, priv)

	signed, err := Decode(wire[:])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	raw := signed.Bytes()
	if len(raw) != BlockSize {
		t.Fatalf("Bytes length = %d, want %d", len(raw), BlockSize)
	}
	for i := range raw {
		if raw[i] != wire[i] {
			t.Fatalf("Bytes differs from wire form at offset %d", i)
		}
	}
}

func TestSignChainsPreviousSignature(t *testing.T) {
	priv := testKey(t, 3)
	pub := priv.Public().(ed25519.PublicKey)

	first := Sign(priv, [SignatureSize]byte{}, 0, 1000, digest.Compute([]byte("one")))

	var previous [SignatureSize]byte
	copy(previous[:], first[:64])
	second := Sign(priv, previous, 1, 1001, digest.Compute([]byte("two")))

	signed, err := Decode(second[:])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	decoded, err := signed.Verify(pub)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if decoded.PreviousSignature != digest.Encoding.EncodeToString(first[:64]) {
		t.Errorf("PreviousSignature does not reference the first block's signature")
	}
	if decoded.Counter != 1 {
		t.Errorf("Counter = %d, want 1", decoded.Counter)
	}
}
