// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest defines the build manifest: the mapping from
// artifact file name to SHA-384 content digest, plus the timestamp of
// the source revision that produced the artifacts. Manifests are
// serialized as JSON for storage as objects and for network transfer;
// the manifest digest is what a signed block attests to.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/bureau-foundation/buildchain/lib/digest"
)

// Manifest maps artifact file names to their content digests.
// Insertion order is irrelevant; encoding/json emits map keys sorted,
// so serialization is deterministic.
type Manifest struct {
	// Time is the timestamp of the source control revision that was
	// built, in seconds since the epoch.
	Time uint64 `json:"time"`

	// Files maps artifact file name to the base-32 SHA-384 digest of
	// its content.
	Files map[string]string `json:"files"`
}

// New builds a manifest by hashing every file in the artifacts
// directory. It does not store anything; use the store's
// ImportArtifacts to hash and import in one pass.
func New(revisionTime uint64, dir string) (*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading artifacts directory: %w", err)
	}

	files := make(map[string]string, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !utf8.ValidString(name) {
			return nil, fmt.Errorf("artifact name %q is not valid UTF-8", name)
		}

		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("opening artifact %s: %w", name, err)
		}
		d, err := digest.ComputeReader(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("hashing artifact %s: %w", name, err)
		}

		files[name] = d.String()
	}

	return &Manifest{Time: revisionTime, Files: files}, nil
}

// Parse decodes a JSON manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

// Marshal encodes the manifest as indented JSON. The output is
// deterministic for a given manifest, so the manifest digest is
// stable across writers.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return data, nil
}

// Digest returns the digest of the file with the given name, parsed
// back into binary form. Returns false if the name is not in the
// manifest.
func (m *Manifest) Digest(name string) (digest.Digest, bool, error) {
	text, ok := m.Files[name]
	if !ok {
		return digest.Digest{}, false, nil
	}
	d, err := digest.Parse(text)
	if err != nil {
		return digest.Digest{}, false, fmt.Errorf("manifest entry %s: %w", name, err)
	}
	return d, true, nil
}
