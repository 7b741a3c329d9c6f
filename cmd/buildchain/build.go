// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildchain/lib/block"
	"github.com/bureau-foundation/buildchain/lib/digest"
	"github.com/bureau-foundation/buildchain/lib/project"
	"github.com/bureau-foundation/buildchain/lib/signer"
	"github.com/bureau-foundation/buildchain/lib/store"
)

func buildCmd(args []string, logger *slog.Logger) error {
	flags := pflag.NewFlagSet("build", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "buildchain.json", "project definition file")
	storeDir := flags.StringP("store", "s", ".", "store base directory")
	artifactsDir := flags.String("artifacts", "", "artifacts directory (default <store>/artifacts)")
	revisionTime := flags.Uint64("time", 0, "source revision timestamp (default: newest artifact mtime)")
	projectName := flags.String("project", "", "tail project name (default: project definition name)")
	branchName := flags.String("branch", "master", "tail branch name")
	signCommand := flags.String("sign-cmd", "", "external signing command (stdin: manifest, stdout: 400-byte block)")
	keyPath := flags.String("key", "", "signing key file for in-process signing")
	if err := flags.Parse(args); err != nil {
		return err
	}

	name := *projectName
	if name == "" {
		config, err := project.ReadFile(*configPath)
		if err != nil {
			return fmt.Errorf("no --project given and the project definition is unreadable: %w", err)
		}
		name = config.Name
	}

	st := store.New(*storeDir)

	artifacts := *artifactsDir
	if artifacts == "" {
		artifacts = filepath.Join(*storeDir, "artifacts")
	}

	buildTime := *revisionTime
	if buildTime == 0 {
		derived, err := newestModTime(artifacts)
		if err != nil {
			return fmt.Errorf("deriving revision time: %w", err)
		}
		buildTime = derived
	}

	m, err := st.ImportArtifacts(buildTime, artifacts)
	if err != nil {
		return fmt.Errorf("importing artifacts: %w", err)
	}
	logger.Info("imported artifacts", "count", len(m.Files), "time", buildTime)

	manifestBytes, err := m.Marshal()
	if err != nil {
		return err
	}
	manifestDigest, err := st.WriteManifest(manifestBytes)
	if err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	logger.Info("wrote manifest", "digest", manifestDigest)

	blockSigner, err := selectSigner(st, name, *branchName, *signCommand, *keyPath)
	if err != nil {
		return err
	}
	if blockSigner != nil {
		wire, err := blockSigner.Sign(context.Background(), manifestBytes)
		if err != nil {
			return fmt.Errorf("signing manifest: %w", err)
		}
		sig, err := st.WriteTail(name, *branchName, wire[:])
		if err != nil {
			return fmt.Errorf("writing tail: %w", err)
		}
		logger.Info("wrote tail",
			"project", name,
			"branch", *branchName,
			"signature", digest.Encoding.EncodeToString(sig[:]))
	}

	if err := st.RemoveStagingDir(); err != nil {
		return err
	}

	logger.Info("build recorded", "store", *storeDir)
	return nil
}

// selectSigner builds the configured signing collaborator: an
// external command, an in-process key, or nothing (manifest-only
// build). An in-process signer resumes the chain from the store's
// current tail if one exists.
func selectSigner(st *store.Store, projectName, branch, signCommand, keyPath string) (signer.Signer, error) {
	switch {
	case signCommand != "" && keyPath != "":
		return nil, fmt.Errorf("--sign-cmd and --key are mutually exclusive")
	case signCommand != "":
		parts := strings.Fields(signCommand)
		if len(parts) == 0 {
			return nil, fmt.Errorf("--sign-cmd is empty")
		}
		return &signer.ExecSigner{Command: parts[0], Args: parts[1:]}, nil
	case keyPath != "":
		priv, err := loadSigningKey(keyPath)
		if err != nil {
			return nil, err
		}
		previous, counter, err := chainState(st, projectName, branch)
		if err != nil {
			return nil, err
		}
		return signer.NewKeySignerAt(priv, previous, counter), nil
	default:
		return nil, nil
	}
}

// loadSigningKey reads a base-32 encoded Ed25519 seed written by
// `buildchain keygen`.
func loadSigningKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signing key %s: %w", path, err)
	}
	seed, err := digest.Encoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding signing key %s: %w", path, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key %s decodes to %d bytes, want %d", path, len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// chainState reads the current tail block of a project/branch to
// resume its chain: the next block references the tail's signature
// and carries the incremented counter. A missing tail starts a fresh
// chain.
func chainState(st *store.Store, projectName, branch string) ([block.SignatureSize]byte, uint64, error) {
	var previous [block.SignatureSize]byte

	raw, err := os.ReadFile(st.TailPath(projectName, branch))
	if errors.Is(err, fs.ErrNotExist) {
		return previous, 0, nil
	}
	if err != nil {
		return previous, 0, fmt.Errorf("reading current tail: %w", err)
	}

	tail, err := block.Decode(raw)
	if err != nil {
		return previous, 0, fmt.Errorf("current tail: %w", err)
	}
	return tail.Signature, tail.Counter + 1, nil
}

// newestModTime returns the most recent modification time (seconds
// since epoch) of any file in dir. Used when no explicit revision
// time is given, matching the behavior of directory-based sources.
func newestModTime(dir string) (uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("no artifacts in %s", dir)
	}

	var newest int64
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return 0, err
		}
		if t := info.ModTime().Unix(); t > newest {
			newest = t
		}
	}
	if newest < 0 {
		return 0, fmt.Errorf("artifact modification times predate the epoch")
	}
	return uint64(newest), nil
}
