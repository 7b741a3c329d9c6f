// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clientconfig loads download client configuration. The
// config names the remote store, the trusted signer key, and local
// cache settings, so a consumer can run `buildchain download` without
// repeating them on every invocation.
//
// Configuration comes from a single YAML file passed explicitly;
// there is no automatic discovery or hidden override. Flags given on
// the command line win over file values.
package clientconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds download defaults for one remote store.
type Config struct {
	// URL is the base URL of the remote store.
	URL string `yaml:"url"`

	// PublicKey is the trusted signer's public key in base-32 form.
	PublicKey string `yaml:"public_key"`

	// Project and Branch select the chain to follow.
	Project string `yaml:"project"`
	Branch  string `yaml:"branch"`

	// Cache is a local store directory to mirror verified downloads
	// into. Empty disables caching.
	Cache string `yaml:"cache,omitempty"`

	// Certificate is a path to an additional trusted CA certificate
	// (PEM) for the transport layer.
	Certificate string `yaml:"certificate,omitempty"`
}

// Default returns the configuration defaults applied before the file
// is read.
func Default() *Config {
	return &Config{
		Project: "default",
		Branch:  "master",
	}
}

// Load reads a YAML config file over the defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Validate checks that the fields required to reach a remote store
// are present. Key format errors are detected later, when the
// downloader is constructed.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("config has no url")
	}
	if c.PublicKey == "" {
		return fmt.Errorf("config has no public_key")
	}
	if c.Project == "" || c.Branch == "" {
		return fmt.Errorf("config has empty project or branch")
	}
	return nil
}
