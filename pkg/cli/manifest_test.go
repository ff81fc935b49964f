// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spannerbatch/pkg/batch"
	"github.com/stretchr/testify/require"
)

func TestManifestFile(t *testing.T) {
	id, err := batch.MakeBatchTransactionID(
		testDatabase+"/sessions/s1", []byte("tx-123"), time.Date(2024, 3, 1, 12, 0, 0, 5, time.UTC))
	require.NoError(t, err)
	parts := []batch.Partition{
		batch.QueryPartition{Request: &spannerpb.ExecuteSqlRequest{Sql: "SELECT 1", PartitionToken: []byte("p1")}},
		batch.ReadPartition{Request: &spannerpb.ReadRequest{Table: "users", Columns: []string{"name"}}},
		batch.EmptyPartition{},
	}
	m, err := makeManifest(id, parts)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "manifest.json")
	w, err := openOutput(path, nil)
	require.NoError(t, err)
	require.NoError(t, writeManifest(w, m))
	require.NoError(t, w.Close())

	r, err := openInput(path, nil)
	require.NoError(t, err)
	defer r.Close()
	read, err := readManifest(r)
	require.NoError(t, err)
	require.True(t, id.Equal(read.Snapshot))

	decoded, err := read.Decode()
	require.NoError(t, err)
	require.Len(t, decoded, len(parts))
	for i := range parts {
		require.True(t, batch.PartitionsEqual(parts[i], decoded[i]), "partition %d", i)
	}
}

func TestManifestStdio(t *testing.T) {
	var out strings.Builder
	w, err := openOutput("", &out)
	require.NoError(t, err)
	_, err = io.WriteString(w, "x")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.Equal(t, "x", out.String())

	r, err := openInput("-", strings.NewReader("y"))
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "y", string(b))
}

func TestManifestErrors(t *testing.T) {
	_, err := openInput(filepath.Join(t.TempDir(), "missing"), nil)
	require.True(t, errors.Is(err, os.ErrNotExist), "%+v", err)

	_, err = readManifest(strings.NewReader("[]"))
	require.ErrorContains(t, err, "reading manifest")

	m := Manifest{Partitions: []string{`{"execute":"AA==","read":"AA=="}`}}
	_, err = m.Decode()
	require.True(t, errors.Is(err, batch.ErrMalformedPartition))
	require.ErrorContains(t, err, "partition 0")
}
