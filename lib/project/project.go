// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package project parses buildchain project definitions. A project is
// defined by a buildchain.json file at the repository root naming the
// project and listing the command sequences an orchestrator runs to
// prepare a build environment, build, and publish artifacts.
//
// The file is authored as JSONC (JSON extended with // line comments,
// /* block comments */, and trailing commas). Running the command
// lists is the orchestrator's business; this package only loads and
// validates the definition.
package project

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Config is a build project definition.
type Config struct {
	// Name identifies the project; it is the default project name
	// for tail references.
	Name string `json:"name"`

	// Base is the container image the build environment starts from.
	Base string `json:"base"`

	// Privileged requests a privileged build container.
	Privileged bool `json:"privileged,omitempty"`

	// Prepare are the commands that turn the base image into a build
	// environment. The prepared environment is cached keyed on the
	// digest of (base, prepare).
	Prepare [][]string `json:"prepare"`

	// Build are the commands that build the source in the
	// environment.
	Build [][]string `json:"build"`

	// Publish are the commands that place the build outputs into the
	// artifacts directory.
	Publish [][]string `json:"publish"`
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals and validates the project definition.
func Parse(data []byte) (*Config, error) {
	stripped := jsonc.ToJSON(data)

	var config Config
	if err := json.Unmarshal(stripped, &config); err != nil {
		return nil, fmt.Errorf("parsing project definition: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ReadFile loads and parses a project definition from disk.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Validate performs structural checks: the project must be named and
// every listed command must have at least an argv[0].
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("project definition has no name")
	}
	for _, group := range []struct {
		name     string
		commands [][]string
	}{
		{"prepare", c.Prepare},
		{"build", c.Build},
		{"publish", c.Publish},
	} {
		for i, command := range group.commands {
			if len(command) == 0 {
				return fmt.Errorf("%s command %d is empty", group.name, i)
			}
		}
	}
	return nil
}
