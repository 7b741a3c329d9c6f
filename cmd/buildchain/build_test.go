// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"crypto/ed25519"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/buildchain/lib/block"
	"github.com/bureau-foundation/buildchain/lib/digest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeTestKey writes a deterministic signing key file and returns
// its path and the corresponding public key.
func writeTestKey(t *testing.T, dir string) (string, ed25519.PublicKey) {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = 0x11
	}
	path := filepath.Join(dir, "signing.key")
	if err := os.WriteFile(path, []byte(digest.Encoding.EncodeToString(seed)+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path, ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
}

func writeArtifacts(t *testing.T, storeDir string, files map[string]string) string {
	t.Helper()
	artifacts := filepath.Join(storeDir, "artifacts")
	if err := os.MkdirAll(artifacts, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(artifacts, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return artifacts
}

func readTail(t *testing.T, storeDir, project, branch string) *block.SignedBlock {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(storeDir, "tail", project, branch))
	if err != nil {
		t.Fatalf("reading tail: %v", err)
	}
	signed, err := block.Decode(raw)
	if err != nil {
		t.Fatalf("decoding tail: %v", err)
	}
	return signed
}

func TestBuildCommandSignsAndChains(t *testing.T) {
	storeDir := t.TempDir()
	keyPath, pub := writeTestKey(t, t.TempDir())
	writeArtifacts(t, storeDir, map[string]string{"x.bin": "first build"})

	args := []string{
		"--store", storeDir,
		"--project", "proj",
		"--branch", "main",
		"--time", "1000",
		"--key", keyPath,
	}
	if err := buildCmd(args, testLogger()); err != nil {
		t.Fatalf("buildCmd failed: %v", err)
	}

	tail := readTail(t, storeDir, "proj", "main")
	decoded, err := tail.Verify(pub)
	if err != nil {
		t.Fatalf("tail does not verify: %v", err)
	}
	if decoded.Counter != 0 {
		t.Errorf("first build counter = %d, want 0", decoded.Counter)
	}
	if decoded.Timestamp == 0 {
		t.Errorf("timestamp not set")
	}

	if _, err := os.Readlink(filepath.Join(storeDir, "manifest.json")); err != nil {
		t.Errorf("manifest.json reference missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(storeDir, "tmp")); err == nil {
		t.Errorf("staging directory not removed")
	}

	// A second build resumes the chain: counter increments and the
	// previous signature references the first tail.
	writeArtifacts(t, storeDir, map[string]string{"y.bin": "second build"})
	args[7] = "1001" // --time
	if err := buildCmd(args, testLogger()); err != nil {
		t.Fatalf("second buildCmd failed: %v", err)
	}

	second := readTail(t, storeDir, "proj", "main")
	decodedSecond, err := second.Verify(pub)
	if err != nil {
		t.Fatalf("second tail does not verify: %v", err)
	}
	if decodedSecond.Counter != 1 {
		t.Errorf("second build counter = %d, want 1", decodedSecond.Counter)
	}
	if decodedSecond.PreviousSignature != digest.Encoding.EncodeToString(tail.Signature[:]) {
		t.Errorf("second build does not chain to the first tail")
	}
}

func TestBuildCommandRejectsConflictingSigners(t *testing.T) {
	storeDir := t.TempDir()
	writeArtifacts(t, storeDir, map[string]string{"a": "x"})

	args := []string{
		"--store", storeDir,
		"--project", "proj",
		"--time", "1",
		"--key", "k",
		"--sign-cmd", "sign",
	}
	if err := buildCmd(args, testLogger()); err == nil {
		t.Errorf("buildCmd accepted both --key and --sign-cmd")
	}
}

func TestDownloadCommandFetchesFile(t *testing.T) {
	// Publish a signed build, serve the store, then download one
	// file through the CLI path.
	storeDir := t.TempDir()
	keyPath, pub := writeTestKey(t, t.TempDir())
	writeArtifacts(t, storeDir, map[string]string{"x.bin": "payload"})

	buildArgs := []string{
		"--store", storeDir,
		"--project", "proj",
		"--branch", "main",
		"--time", "1000",
		"--key", keyPath,
	}
	if err := buildCmd(buildArgs, testLogger()); err != nil {
		t.Fatalf("buildCmd failed: %v", err)
	}

	server := httptest.NewServer(http.FileServer(http.Dir(storeDir)))
	t.Cleanup(server.Close)

	out := filepath.Join(t.TempDir(), "fetched.bin")
	downloadArgs := []string{
		"--project", "proj",
		"--branch", "main",
		"--output", out,
		digest.Encoding.EncodeToString(pub),
		server.URL,
		"x.bin",
	}
	if err := downloadCmd(downloadArgs, testLogger()); err != nil {
		t.Fatalf("downloadCmd failed: %v", err)
	}

	content, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "payload" {
		t.Errorf("fetched content = %q, want %q", content, "payload")
	}
}
