// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command buildchain publishes and consumes tamper-evident build
// chains: signed, content-addressed records of reproducible build
// outputs.
package main

import (
	"fmt"
	"log/slog"
	"os"
)

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: buildchain <command> [flags]

Commands:
  build     Import build artifacts, write a manifest, and append a
            signed block to the project's chain
  download  Fetch and verify a published chain tip, its manifest, and
            artifacts from a remote store
  keygen    Generate an Ed25519 signing key for in-process signing

Run 'buildchain <command> --help' for command flags.
Set BUILDCHAIN_DEBUG=1 for debug logging.
`)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("BUILDCHAIN_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "build":
		err = buildCmd(args, logger)
	case "download":
		err = downloadCmd(args, logger)
	case "keygen":
		err = keygenCmd(args)
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "buildchain: %v\n", err)
		os.Exit(1)
	}
}
