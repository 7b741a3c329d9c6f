// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/bureau-foundation/buildchain/lib/digest"
)

func TestNewScansDirectory(t *testing.T) {
	dir := t.TempDir()
	inputs := map[string]string{"a": "hello", "b": "world"}
	for name, content := range inputs {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	m, err := New(1500000000, dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if m.Time != 1500000000 {
		t.Errorf("Time = %d, want 1500000000", m.Time)
	}
	want := map[string]string{
		"a": digest.Compute([]byte("hello")).String(),
		"b": digest.Compute([]byte("world")).String(),
	}
	if !reflect.DeepEqual(m.Files, want) {
		t.Errorf("Files = %v, want %v", m.Files, want)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	m := &Manifest{
		Time: 1000,
		Files: map[string]string{
			"z": digest.Compute([]byte("z")).String(),
			"a": digest.Compute([]byte("a")).String(),
		},
	}

	first, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Errorf("Marshal output is not deterministic")
	}
}

func TestParseRoundtrip(t *testing.T) {
	m := &Manifest{
		Time:  42,
		Files: map[string]string{"x.bin": digest.Compute([]byte{1, 2, 3}).String()},
	}

	data, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	back, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !reflect.DeepEqual(back, m) {
		t.Errorf("roundtrip = %+v, want %+v", back, m)
	}
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	if _, err := Parse([]byte(`{"time": "not a number"}`)); err == nil {
		t.Errorf("Parse of malformed manifest succeeded")
	}
}

func TestDigestLookup(t *testing.T) {
	d := digest.Compute([]byte("content"))
	m := &Manifest{Time: 1, Files: map[string]string{"file": d.String()}}

	got, ok, err := m.Digest("file")
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	if !ok {
		t.Fatalf("Digest reported file as unknown")
	}
	if got != d {
		t.Errorf("Digest = %s, want %s", got, d)
	}

	if _, ok, err := m.Digest("absent"); err != nil || ok {
		t.Errorf("Digest of unknown name: ok = %v, err = %v", ok, err)
	}

	bad := &Manifest{Time: 1, Files: map[string]string{"file": "not base32!"}}
	if _, _, err := bad.Digest("file"); err == nil {
		t.Errorf("Digest with malformed entry succeeded")
	}
}
