// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildchain/lib/digest"
)

func keygenCmd(args []string) error {
	flags := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	output := flags.StringP("output", "o", "buildchain.key", "private key output path")
	if err := flags.Parse(args); err != nil {
		return err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generating key: %w", err)
	}

	seed := digest.Encoding.EncodeToString(priv.Seed()) + "\n"
	f, err := os.OpenFile(*output, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("creating key file %s: %w", *output, err)
	}
	if _, err := f.WriteString(seed); err != nil {
		f.Close()
		return fmt.Errorf("writing key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing key file: %w", err)
	}

	// The public key is what downloaders are configured with.
	fmt.Println(digest.Encoding.EncodeToString(pub))
	return nil
}
