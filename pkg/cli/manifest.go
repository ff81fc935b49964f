// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spannerbatch/pkg/batch"
)

// Manifest is what a coordinator hands to its workers.
type Manifest struct {
	Snapshot   batch.BatchTransactionID `json:"snapshot"`
	Partitions []string                 `json:"partitions"`
}

// makeManifest encodes the partitions of a snapshot.
func makeManifest(id batch.BatchTransactionID, parts []batch.Partition) (Manifest, error) {
	m := Manifest{Snapshot: id, Partitions: make([]string, 0, len(parts))}
	for i, p := range parts {
		s, err := batch.EncodePartition(p)
		if err != nil {
			return Manifest{}, errors.Wrapf(err, "encoding partition %d", i)
		}
		m.Partitions = append(m.Partitions, s)
	}
	return m, nil
}

// Decode returns the manifest's partitions.
func (m Manifest) Decode() ([]batch.Partition, error) {
	parts := make([]batch.Partition, 0, len(m.Partitions))
	for i, s := range m.Partitions {
		p, err := batch.DecodePartition(s)
		if err != nil {
			return nil, errors.Wrapf(err, "partition %d", i)
		}
		parts = append(parts, p)
	}
	return parts, nil
}

func writeManifest(w io.Writer, m Manifest) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(m), "writing manifest")
}

func readManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return Manifest{}, errors.Wrap(err, "reading manifest")
	}
	if m.Snapshot.SessionPath() == "" {
		return Manifest{}, errors.New("manifest has no snapshot")
	}
	return m, nil
}

// openInput opens path for reading, with "-" meaning in.
func openInput(path string, in io.Reader) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(in), nil
	}
	f, err := os.Open(path)
	return f, errors.Wrap(err, "opening input")
}

// openOutput opens path for writing, with "" meaning out.
func openOutput(path string, out io.Writer) (io.WriteCloser, error) {
	if path == "" {
		return nopWriteCloser{out}, nil
	}
	f, err := os.Create(path)
	return f, errors.Wrap(err, "creating output")
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
