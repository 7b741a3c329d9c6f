// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store implements the content-addressed build store: a base
// directory holding immutable objects keyed by SHA-384 digest,
// immutable 400-byte signed blocks keyed by signature, and mutable
// tail references (one per project/branch) pointing at the newest
// block.
//
// All writes go through a stage-then-rename protocol: content is
// written to a uniquely named file in tmp/ with create-exclusive
// semantics and mode 0400, fsynced, and only then renamed into its
// canonical content-addressed path. Rename within the store tree is
// atomic, so a reader observing a canonical path sees either nothing
// or the complete final bytes, never a partial write, even across a
// crash. Identical content renames to an identical destination, which
// makes object and block writes idempotent and safe under unlimited
// concurrent distinct-content writers. Tail updates are symlink
// replacements and are only safe with a single writer per
// project/branch.
//
// The on-disk layout is a durable contract; external tooling may read
// it directly:
//
//	tmp/<base32 random id>       staging files, never a commit target
//	object/<base32 digest>       immutable content, mode 0400
//	block/<base32 signature>     immutable signed blocks, mode 0400
//	tail/<project>/<branch>      symlink → ../../block/<signature>
//	manifest.json                symlink → object/<digest>
package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/bureau-foundation/buildchain/lib/block"
	"github.com/bureau-foundation/buildchain/lib/digest"
	"github.com/bureau-foundation/buildchain/lib/manifest"
)

// Directory names within the store root.
const (
	stagingDir = "tmp"
	objectDir  = "object"
	blockDir   = "block"
	tailDir    = "tail"

	// manifestLink is the store-root symlink naming the most
	// recently written manifest object.
	manifestLink = "manifest.json"
)

// stageIDSize is the byte length of a staging file identifier. 15
// random bytes (120 bits) encode to 24 base-32 characters and are
// collision-free in practice without coordination, so concurrent
// writers can share one staging directory safely.
const stageIDSize = 15

// objectMode is the permission bits for committed objects and blocks.
// Content is read-only from the moment it is staged.
const objectMode = 0o400

// ErrInvalidName reports an artifact whose file name is not valid
// UTF-8 and therefore cannot appear in a manifest.
var ErrInvalidName = errors.New("store: artifact name is not valid UTF-8")

// Store manages a content-addressed build store rooted at a base
// directory. Subdirectories are created lazily on first use. The zero
// value is not usable; call New.
type Store struct {
	base string
}

// New returns a Store rooted at base. The directory itself is not
// created or inspected until the first operation.
func New(base string) *Store {
	return &Store{base: base}
}

// Base returns the store's base directory.
func (s *Store) Base() string {
	return s.base
}

// ObjectPath returns the canonical path of the object with digest d.
func (s *Store) ObjectPath(d digest.Digest) string {
	return filepath.Join(s.base, objectDir, d.String())
}

// BlockPath returns the canonical path of the block with the given
// signature.
func (s *Store) BlockPath(sig [block.SignatureSize]byte) string {
	return filepath.Join(s.base, blockDir, digest.Encoding.EncodeToString(sig[:]))
}

// TailPath returns the path of the tail reference for a
// project/branch pair.
func (s *Store) TailPath(project, branch string) string {
	return filepath.Join(s.base, tailDir, project, branch)
}

// StagePath returns a fresh, unique path in the staging directory.
// Nothing is created at the returned path; it is reserved by the
// 120-bit random identifier alone.
func (s *Store) StagePath() (string, error) {
	id := make([]byte, stageIDSize)
	if _, err := rand.Read(id); err != nil {
		return "", fmt.Errorf("generating staging id: %w", err)
	}
	return filepath.Join(s.base, stagingDir, digest.Encoding.EncodeToString(id)), nil
}

// RemoveStagingDir removes the staging directory. It must only be
// called once every staged path from this build has been renamed out:
// a leftover staged file makes the directory non-empty and the
// removal fails, signalling a write that never got committed.
func (s *Store) RemoveStagingDir() error {
	if err := os.Remove(filepath.Join(s.base, stagingDir)); err != nil {
		return fmt.Errorf("removing staging directory: %w", err)
	}
	return nil
}

// stageContent writes content to a fresh staging file with
// create-exclusive semantics and mode 0400, fsyncs it, and returns
// the staged path.
func (s *Store) stageContent(content []byte) (string, error) {
	path, err := s.StagePath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, objectMode)
	if err != nil {
		return "", fmt.Errorf("creating staging file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing staging file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("syncing staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("closing staging file: %w", err)
	}
	return path, nil
}

// commit atomically renames a staged file into its canonical path,
// creating the parent directory on demand. If the destination already
// exists the staged file is discarded: the destination is
// content-addressed, so existing content is identical by
// construction and the write is an idempotent success.
func (s *Store) commit(staged, canonical string) error {
	if err := os.MkdirAll(filepath.Dir(canonical), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(canonical), err)
	}
	if _, err := os.Lstat(canonical); err == nil {
		if err := os.Remove(staged); err != nil {
			return fmt.Errorf("discarding redundant staged file: %w", err)
		}
		return nil
	}
	if err := os.Rename(staged, canonical); err != nil {
		return fmt.Errorf("committing %s: %w", canonical, err)
	}
	return nil
}

// replaceLink atomically replaces (or creates) the symlink at path
// with one pointing at target. The replacement symlink is created
// under a unique temporary name in the same directory and renamed
// over the final name, so readers always observe a complete link.
func (s *Store) replaceLink(path, target string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	id := make([]byte, stageIDSize)
	if _, err := rand.Read(id); err != nil {
		return fmt.Errorf("generating link id: %w", err)
	}
	tmp := path + "." + digest.Encoding.EncodeToString(id)

	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("creating link %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing link %s: %w", path, err)
	}
	return nil
}

// WriteObject stores content under its own digest and returns the
// digest. Writing identical content twice (or from two concurrent
// callers) is a no-op success.
func (s *Store) WriteObject(content []byte) (digest.Digest, error) {
	d := digest.Compute(content)
	staged, err := s.stageContent(content)
	if err != nil {
		return digest.Digest{}, err
	}
	if err := s.commit(staged, s.ObjectPath(d)); err != nil {
		return digest.Digest{}, err
	}
	return d, nil
}

// ImportObject moves an existing file into the object namespace
// without copying its bytes: the file is hashed in place, marked
// read-only, fsynced, and renamed from its original location into
// object/<digest>. The source path is consumed. The source must live
// on the same filesystem as the store.
func (s *Store) ImportObject(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return digest.Digest{}, fmt.Errorf("opening %s: %w", path, err)
	}

	if err := f.Chmod(objectMode); err != nil {
		f.Close()
		return digest.Digest{}, fmt.Errorf("marking %s read-only: %w", path, err)
	}

	d, err := digest.ComputeReader(f)
	if err != nil {
		f.Close()
		return digest.Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return digest.Digest{}, fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return digest.Digest{}, fmt.Errorf("closing %s: %w", path, err)
	}

	if err := s.commit(path, s.ObjectPath(d)); err != nil {
		return digest.Digest{}, err
	}
	return d, nil
}

// ImportArtifacts imports every file in dir into the object namespace
// and returns the resulting manifest. Each original artifact path is
// replaced with a symlink into object/, so the artifacts directory
// remains browsable after the import without duplicating storage.
// Fails fast with ErrInvalidName if any file name is not valid UTF-8.
func (s *Store) ImportArtifacts(revisionTime uint64, dir string) (*manifest.Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading artifacts directory: %w", err)
	}

	files := make(map[string]string, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !utf8.ValidString(name) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
		}

		path := filepath.Join(dir, name)
		d, err := s.ImportObject(path)
		if err != nil {
			return nil, fmt.Errorf("importing artifact %s: %w", name, err)
		}
		files[name] = d.String()

		target, err := filepath.Rel(dir, s.ObjectPath(d))
		if err != nil {
			// The store and artifacts directory share no relative
			// path; fall back to the absolute object path.
			target = s.ObjectPath(d)
		}
		if err := os.Symlink(target, path); err != nil {
			return nil, fmt.Errorf("linking artifact %s: %w", name, err)
		}
	}

	return &manifest.Manifest{Time: revisionTime, Files: files}, nil
}

// WriteManifest stores serialized manifest bytes as an object and
// points the store-root manifest.json link at it.
func (s *Store) WriteManifest(content []byte) (digest.Digest, error) {
	d, err := s.WriteObject(content)
	if err != nil {
		return digest.Digest{}, err
	}
	target := filepath.Join(objectDir, d.String())
	if err := s.replaceLink(filepath.Join(s.base, manifestLink), target); err != nil {
		return digest.Digest{}, err
	}
	return d, nil
}

// WriteBlock stores a 400-byte signed block under its signature (the
// first 64 bytes) and returns the signature. Like objects, blocks are
// write-once and idempotent.
func (s *Store) WriteBlock(raw []byte) ([block.SignatureSize]byte, error) {
	var sig [block.SignatureSize]byte
	if len(raw) != block.BlockSize {
		return sig, fmt.Errorf("%w: got %d bytes, want %d", block.ErrBlockSize, len(raw), block.BlockSize)
	}
	copy(sig[:], raw[:block.SignatureSize])

	staged, err := s.stageContent(raw)
	if err != nil {
		return sig, err
	}
	if err := s.commit(staged, s.BlockPath(sig)); err != nil {
		return sig, err
	}
	return sig, nil
}

// WriteTail stores the block and replaces the tail reference for the
// project/branch pair with a relative symlink to it. The tail is the
// only mutable chain state; replacing it is not transactionally
// linked to the previous tip, so concurrent writers to the same
// project/branch are not safe.
func (s *Store) WriteTail(project, branch string, raw []byte) ([block.SignatureSize]byte, error) {
	sig, err := s.WriteBlock(raw)
	if err != nil {
		return sig, err
	}

	// tail/PROJECT/BRANCH → ../../block/SIGNATURE
	target := filepath.Join("..", "..", blockDir, digest.Encoding.EncodeToString(sig[:]))
	if err := s.replaceLink(s.TailPath(project, branch), target); err != nil {
		return sig, err
	}
	return sig, nil
}

// OpenObject opens the object with digest d for reading. The error
// wraps fs.ErrNotExist if the object is absent.
func (s *Store) OpenObject(d digest.Digest) (*os.File, error) {
	return os.Open(s.ObjectPath(d))
}

// OpenBlock opens the block with the given signature for reading. The
// error wraps fs.ErrNotExist if the block is absent.
func (s *Store) OpenBlock(sig [block.SignatureSize]byte) (*os.File, error) {
	return os.Open(s.BlockPath(sig))
}
