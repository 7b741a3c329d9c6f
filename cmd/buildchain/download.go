// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildchain/lib/clientconfig"
	"github.com/bureau-foundation/buildchain/lib/download"
	"github.com/bureau-foundation/buildchain/lib/manifest"
	"github.com/bureau-foundation/buildchain/lib/store"
)

func downloadCmd(args []string, logger *slog.Logger) error {
	flags := pflag.NewFlagSet("download", pflag.ContinueOnError)
	configPath := flags.String("config", "", "YAML download config file")
	projectName := flags.String("project", "default", "tail project name")
	branchName := flags.String("branch", "master", "tail branch name")
	certPath := flags.String("cert", "", "additional trusted CA certificate (PEM)")
	cacheDir := flags.String("cache", "", "local store directory to mirror verified downloads into")
	output := flags.StringP("output", "o", "", "write the fetched file here (default: the file name)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	rest := flags.Args()

	// Without --config the positionals are KEY URL [FILE]; with it,
	// only an optional [FILE] remains and the rest comes from the
	// file, overridable by flags.
	config := clientconfig.Default()
	var fileName string
	if *configPath != "" {
		loaded, err := clientconfig.Load(*configPath)
		if err != nil {
			return err
		}
		config = loaded
		if len(rest) > 0 {
			fileName = rest[0]
		}
	} else {
		if len(rest) < 2 {
			return fmt.Errorf("usage: buildchain download [flags] KEY URL [FILE]")
		}
		config.PublicKey = rest[0]
		config.URL = rest[1]
		if len(rest) > 2 {
			fileName = rest[2]
		}
	}
	if flags.Changed("project") || *configPath == "" {
		config.Project = *projectName
	}
	if flags.Changed("branch") || *configPath == "" {
		config.Branch = *branchName
	}
	if flags.Changed("cert") {
		config.Certificate = *certPath
	}
	if flags.Changed("cache") {
		config.Cache = *cacheDir
	}

	var opts []download.Option
	if config.Certificate != "" {
		pem, err := os.ReadFile(config.Certificate)
		if err != nil {
			return fmt.Errorf("reading certificate: %w", err)
		}
		opts = append(opts, download.WithCertificate(pem))
	}

	d, err := download.New(config.URL, config.PublicKey, config.Project, config.Branch, opts...)
	if err != nil {
		return err
	}
	ctx := context.Background()

	var m *manifest.Manifest
	if config.Cache != "" {
		tail, mirrored, err := d.Mirror(ctx, store.New(config.Cache))
		if err != nil {
			return err
		}
		m = mirrored
		logger.Info("mirrored chain tip",
			"counter", tail.Counter,
			"digest", tail.Digest,
			"cache", config.Cache)
	} else {
		fetched, err := d.Manifest(ctx)
		if err != nil {
			return err
		}
		m = fetched
	}

	if fileName == "" {
		names := make([]string, 0, len(m.Files))
		for name := range m.Files {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}

	content, err := d.FetchFile(ctx, m, fileName)
	if err != nil {
		return err
	}

	out := *output
	if out == "" {
		out = fileName
	}
	if out == "-" {
		_, err := os.Stdout.Write(content)
		return err
	}
	if err := os.WriteFile(out, content, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	logger.Info("downloaded", "file", fileName, "bytes", len(content), "output", out)
	return nil
}
