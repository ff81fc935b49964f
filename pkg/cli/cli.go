// Copyright 2015 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package cli implements the spanbatch command line tool.
//
// A coordinator runs partition-query or partition-read, which opens a batch
// snapshot and prints a manifest: the snapshot's id and the encoded
// partitions. Workers receive the manifest, or single partitions from it,
// and run them with run or execute-partition. Every worker resolves its own
// endpoint. The coordinator finally runs close-snapshot.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spannerbatch/pkg/batch"
	"github.com/cockroachdb/spannerbatch/pkg/cli/exit"
	"github.com/cockroachdb/spannerbatch/pkg/util/envutil"
	"github.com/spf13/cobra"
)

// Proxy to allow overrides in tests.
var stderr io.Writer = os.Stderr

// errConfig marks errors in flags or configuration.
var errConfig = errors.New("invalid configuration")

func newRootCmd(st *cliState) *cobra.Command {
	root := &cobra.Command{
		Use:   "spanbatch [command] (flags)",
		Short: "partitioned, snapshot consistent reads from Spanner",
		Long: `
Partitioned, snapshot consistent reads from Spanner.

A coordinator splits a query or read into partitions and prints a manifest.
Workers execute the partitions from the manifest, all at the timestamp of
the coordinator's snapshot.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addGlobalFlags(root, st)
	AddPersistentPreRunE(root, st.assemble)

	cobra.EnableCommandSorting = false
	root.AddCommand(
		newResolveCmd(st),
		newPartitionQueryCmd(st),
		newPartitionReadCmd(st),
		newExecutePartitionCmd(st),
		newRunCmd(st),
		newCloseSnapshotCmd(st),
	)
	return root
}

// Run executes the command line args.
func Run(ctx context.Context, args []string) error {
	cmd := newRootCmd(newCLIState(envutil.OSLookup))
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// Main is the entry point of the spanbatch binary.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	// The code must be computed while ctx is live: stop cancels it.
	code := report(ctx, Run(ctx, os.Args[1:]))
	stop()
	if code != exit.Success() {
		exit.WithCode(code)
	}
}

// report prints err with its hints to stderr and returns the exit code.
func report(ctx context.Context, err error) exit.Code {
	if err == nil {
		return exit.Success()
	}
	fmt.Fprintf(stderr, "ERROR: %v\n", err)
	if hint := errors.FlattenHints(err); hint != "" {
		fmt.Fprintf(stderr, "HINT: %s\n", hint)
	}
	return exitCode(ctx, err)
}

func exitCode(ctx context.Context, err error) exit.Code {
	switch {
	case err == nil:
		return exit.Success()
	case ctx.Err() != nil:
		return exit.Interrupted()
	case errors.Is(err, errConfig):
		return exit.CommandLineFlagError()
	case errors.IsAny(err, batch.ErrMalformedPartition, batch.ErrEmptyPartition):
		return exit.PartitionError()
	default:
		return exit.UnspecifiedError()
	}
}
