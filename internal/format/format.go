// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package format implements the pluggable result serializer described in
// spec.md §5 ("Format interface (consumed)"): write(value, dir), read(dir),
// checksum(dir). The directory-backed StepCache treats Format as an opaque
// collaborator; this package supplies the one concrete implementation the
// engine ships with.
package format

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/sumdb/dirhash"
	"gopkg.in/yaml.v3"
)

// payloadFile is the name of the single file a default-format directory
// holds, per spec.md §5's directory layout sketch.
const payloadFile = "result.yaml.gz"

// Format serializes a step's result to/from a directory and computes a
// content checksum over it. The directory-backed cache never inspects the
// serialized bytes itself; it only compares checksums and looks for
// metadata.json as the commit marker.
type Format interface {
	// Write serializes value into dir, which already exists. dir may already
	// hold other entries, such as a step's persistent "run/" scratch
	// directory.
	Write(value any, dir string) error
	// Read deserializes the value previously written to dir.
	Read(dir string) (any, error)
	// Checksum returns a content hash of dir, stable across machines and
	// independent of file ownership/mtimes.
	Checksum(dir string) (string, error)
}

// Default is a gzip-compressed YAML object format. It uses
// golang.org/x/mod/sumdb/dirhash for content hashing and follows the teacher's general preference for yaml.v3 over JSON for
// anything hand-editable; step results pass through this format, so
// human-readable-when-decompressed is worth the trade against a binary
// encoding.
type Default struct{}

var _ Format = Default{}

// Write implements Format.
func (Default) Write(value any, dir string) error {
	path := filepath.Join(dir, payloadFile)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("format: creating %s: %w", path, err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	enc := yaml.NewEncoder(gz)
	if err := enc.Encode(value); err != nil {
		return fmt.Errorf("format: encoding result: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("format: closing yaml encoder: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("format: closing gzip writer: %w", err)
	}
	return f.Close()
}

// Read implements Format.
func (Default) Read(dir string) (any, error) {
	path := filepath.Join(dir, payloadFile)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("format: opening %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("format: creating gzip reader: %w", err)
	}
	defer gz.Close()

	var out any
	if err := yaml.NewDecoder(gz).Decode(&out); err != nil {
		return nil, fmt.Errorf("format: decoding result: %w", err)
	}
	return out, nil
}

// Checksum implements Format.
func (Default) Checksum(dir string) (string, error) {
	sum, err := dirhash.HashDir(dir, "", dirhash.Hash1)
	if err != nil {
		return "", fmt.Errorf("format: hashing %s: %w", dir, err)
	}
	return sum, nil
}
