// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package cliflags describes the command line flags of spanbatch.
package cliflags

import (
	"fmt"
	"strings"
)

// FlagInfo contains the static information for a CLI flag.
type FlagInfo struct {
	// Name of the flag as used on the command line.
	Name string
	// Shorthand is the short form of the flag (optional).
	Shorthand string
	// EnvVar is the environment variable that supplies the default when
	// the flag is not given. It is read during configuration assembly, not
	// by the flag parser, and is only mentioned in the usage text.
	EnvVar string
	// Description of the flag.
	Description string
}

// Usage returns a formatted usage string for the flag.
func (f FlagInfo) Usage() string {
	s := strings.TrimSpace(f.Description)
	if f.EnvVar != "" {
		s += fmt.Sprintf("\nEnvironment variable: %s", f.EnvVar)
	}
	return s
}

// Global flags.
var (
	Config = FlagInfo{
		Name:        "config",
		Description: `YAML file with default values for the flags below.`,
	}

	Project = FlagInfo{
		Name:        "project",
		Description: `Google Cloud project of the database.`,
	}

	Instance = FlagInfo{
		Name:        "instance",
		Description: `Spanner instance of the database.`,
	}

	Database = FlagInfo{
		Name:        "database",
		Description: `Spanner database to read from.`,
	}

	Host = FlagInfo{
		Name:   "host",
		EnvVar: "SPANNER_EMULATOR_HOST",
		Description: `
Default endpoint. Used unless resource based routing resolves an
instance specific endpoint. The emulator variable also implies --insecure.`,
	}

	Insecure = FlagInfo{
		Name:        "insecure",
		Description: `Connect without TLS or credentials.`,
	}

	ResourceBasedRouting = FlagInfo{
		Name:   "resource-based-routing",
		EnvVar: "SPANNER_ENABLE_RESOURCE_BASED_ROUTING",
		Description: `
Route requests to the endpoint published by the instance. When the flag
is not given, routing is enabled only if the environment variable is
exactly "true".`,
	}

	MetricsAddr = FlagInfo{
		Name:        "metrics-addr",
		Description: `Address on which to serve prometheus metrics at /metrics.`,
	}

	Verbosity = FlagInfo{
		Name:        "v",
		Description: `Log verbosity level.`,
	}

	RPCTimeout = FlagInfo{
		Name:        "timeout",
		EnvVar:      "SPANBATCH_RPC_TIMEOUT",
		Description: `Deadline for the whole command.`,
	}
)

// Command flags.
var (
	SQL = FlagInfo{
		Name:        "sql",
		Description: `SQL query to partition.`,
	}

	Table = FlagInfo{
		Name:        "table",
		Description: `Table to read.`,
	}

	Index = FlagInfo{
		Name:        "index",
		Description: `Index to read instead of the primary key.`,
	}

	Columns = FlagInfo{
		Name:        "columns",
		Description: `Comma separated columns to read.`,
	}

	Keys = FlagInfo{
		Name: "keys",
		Description: `
Comma separated single column primary keys to read. All rows are read
when empty.`,
	}

	PartitionSizeBytes = FlagInfo{
		Name:        "partition-size-bytes",
		Description: `Desired partition size hint.`,
	}

	MaxPartitions = FlagInfo{
		Name:        "max-partitions",
		Description: `Desired maximum number of partitions hint.`,
	}

	Snapshot = FlagInfo{
		Name:        "snapshot",
		Description: `Batch transaction id as printed in a manifest.`,
	}

	Partition = FlagInfo{
		Name:        "partition",
		Description: `Encoded partition as printed in a manifest.`,
	}

	Manifest = FlagInfo{
		Name:        "manifest",
		Shorthand:   "f",
		Description: `Manifest file written by partition-query or partition-read; - for stdin.`,
	}

	Output = FlagInfo{
		Name:        "output",
		Shorthand:   "o",
		Description: `File to write to instead of stdout.`,
	}

	Concurrency = FlagInfo{
		Name:        "concurrency",
		EnvVar:      "SPANBATCH_CONCURRENCY",
		Description: `Number of partitions executed at once.`,
	}

	CloseAfter = FlagInfo{
		Name: "close-after",
		Description: `
Delete the snapshot's session once every partition ran. Only use this
when no other worker is still executing partitions of the snapshot.`,
	}
)
