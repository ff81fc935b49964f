// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/spannerbatch/pkg/batch"
	"github.com/cockroachdb/spannerbatch/pkg/cli/cliflags"
	"github.com/cockroachdb/spannerbatch/pkg/util/log"
	"github.com/cockroachdb/spannerbatch/pkg/util/syncutil"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/types/known/structpb"
)

// withSpanner runs fn with an open connection under the command deadline.
func (st *cliState) withSpanner(
	cmd *cobra.Command, fn func(ctx context.Context, c *spannerConn) error,
) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), st.cfg.RPCTimeout)
	defer cancel()
	c, err := st.openSpanner(ctx)
	if err != nil {
		return err
	}
	defer c.Close(ctx)
	return fn(ctx, c)
}

func (st *cliState) partitionOptions() batch.PartitionOptions {
	return batch.PartitionOptions{
		PartitionSizeBytes: st.cfg.PartitionSizeBytes,
		MaxPartitions:      st.cfg.MaxPartitions,
	}
}

func newResolveCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "print the endpoint requests for the instance are sent to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return st.withSpanner(cmd, func(ctx context.Context, c *spannerConn) error {
				ep, err := c.resolver.Endpoint(ctx)
				if err != nil {
					return err
				}
				log.VEventf(ctx, 1, "routing enabled: %t", st.cfg.RoutingConfig().Enabled())
				_, err = fmt.Fprintln(cmd.OutOrStdout(), ep)
				return err
			})
		},
	}
}

// partitionAndWrite opens a snapshot, partitions it with split and writes
// the manifest. The snapshot stays open for the workers unless no manifest
// could be written.
func (st *cliState) partitionAndWrite(
	cmd *cobra.Command,
	split func(ctx context.Context, snap *batch.BatchSnapshot) ([]batch.Partition, error),
) error {
	return st.withSpanner(cmd, func(ctx context.Context, c *spannerConn) (retErr error) {
		snap, err := c.client.BatchSnapshot(ctx, batch.TimestampBound{})
		if err != nil {
			return err
		}
		defer func() {
			if retErr == nil {
				return
			}
			if err := snap.Close(ctx); err != nil {
				log.Warningf(ctx, "closing snapshot after failure: %v", err)
			}
		}()
		parts, err := split(ctx, snap)
		if err != nil {
			return err
		}
		m, err := makeManifest(snap.ID(), parts)
		if err != nil {
			return err
		}
		out, err := openOutput(st.output, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if err := writeManifest(out, m); err != nil {
			_ = out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return errors.Wrap(err, "closing manifest")
		}
		if size := st.cfg.PartitionSizeBytes; size > 0 {
			log.Infof(ctx, "snapshot %s: %d partitions of about %s", snap.ID(), len(parts),
				humanize.IBytes(uint64(size)))
		} else {
			log.Infof(ctx, "snapshot %s: %d partitions", snap.ID(), len(parts))
		}
		return nil
	})
}

func newPartitionQueryCmd(st *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partition-query --sql <query>",
		Short: "open a batch snapshot and partition a query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if st.sql == "" {
				return errors.Mark(errors.New("--sql is required"), errConfig)
			}
			return st.partitionAndWrite(cmd, func(ctx context.Context, snap *batch.BatchSnapshot) ([]batch.Partition, error) {
				return snap.PartitionQuery(ctx, batch.Statement{SQL: st.sql}, st.partitionOptions())
			})
		},
	}
	StringFlag(cmd.Flags(), &st.sql, cliflags.SQL, "")
	addPartitionOptionFlags(cmd, st)
	return cmd
}

// keySet turns --keys into a key set of single column keys.
func keySet(keys []string) *spannerpb.KeySet {
	if len(keys) == 0 {
		return nil
	}
	ks := &spannerpb.KeySet{}
	for _, k := range keys {
		ks.Keys = append(ks.Keys, &structpb.ListValue{
			Values: []*structpb.Value{structpb.NewStringValue(k)},
		})
	}
	return ks
}

func newPartitionReadCmd(st *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partition-read --table <table> --columns <a,b>",
		Short: "open a batch snapshot and partition a table read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if st.table == "" || len(st.columns) == 0 {
				return errors.Mark(errors.New("--table and --columns are required"), errConfig)
			}
			read := batch.ReadSpec{
				Table:   st.table,
				Index:   st.index,
				Columns: st.columns,
				KeySet:  keySet(st.keys),
			}
			return st.partitionAndWrite(cmd, func(ctx context.Context, snap *batch.BatchSnapshot) ([]batch.Partition, error) {
				return snap.PartitionRead(ctx, read, st.partitionOptions())
			})
		},
	}
	f := cmd.Flags()
	StringFlag(f, &st.table, cliflags.Table, "")
	StringFlag(f, &st.index, cliflags.Index, "")
	StringSliceFlag(f, &st.columns, cliflags.Columns)
	StringSliceFlag(f, &st.keys, cliflags.Keys)
	addPartitionOptionFlags(cmd, st)
	return cmd
}

// rowWriter prints rows as JSON lines. It is safe for concurrent use.
type rowWriter struct {
	mu  syncutil.Mutex
	enc *json.Encoder
}

func newRowWriter(w io.Writer) *rowWriter {
	return &rowWriter{enc: json.NewEncoder(w)}
}

func (w *rowWriter) write(r *batch.Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Wrap(w.enc.Encode(r.AsMap()), "writing row")
}

func executeOne(
	ctx context.Context, snap *batch.BatchSnapshot, p batch.Partition, out *rowWriter,
) (rows int, _ error) {
	it, err := snap.ExecutePartition(ctx, p)
	if err != nil {
		return 0, err
	}
	err = it.Do(func(r *batch.Row) error {
		rows++
		return out.write(r)
	})
	return rows, err
}

func newExecutePartitionCmd(st *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute-partition --snapshot <id> --partition <partition>",
		Short: "execute one partition and print its rows as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := batch.DecodeBatchTransactionID(st.snapshot)
			if err != nil {
				return errors.Mark(err, errConfig)
			}
			p, err := batch.DecodePartition(st.partition)
			if err != nil {
				return err
			}
			return st.withSpanner(cmd, func(ctx context.Context, c *spannerConn) error {
				rows, err := executeOne(ctx, c.client.LoadBatchSnapshot(id), p, newRowWriter(cmd.OutOrStdout()))
				log.VEventf(ctx, 1, "%d rows", rows)
				return err
			})
		},
	}
	f := cmd.Flags()
	StringFlag(f, &st.snapshot, cliflags.Snapshot, "")
	StringFlag(f, &st.partition, cliflags.Partition, "")
	return cmd
}

func newRunCmd(st *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run --manifest <file>",
		Short: "execute every partition of a manifest concurrently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := openInput(st.manifest, cmd.InOrStdin())
			if err != nil {
				return errors.Mark(err, errConfig)
			}
			m, err := readManifest(in)
			_ = in.Close()
			if err != nil {
				return errors.Mark(err, errConfig)
			}
			parts, err := m.Decode()
			if err != nil {
				return err
			}
			return st.withSpanner(cmd, func(ctx context.Context, c *spannerConn) error {
				snap := c.client.LoadBatchSnapshot(m.Snapshot)
				if err := st.runPartitions(ctx, snap, parts, newRowWriter(cmd.OutOrStdout())); err != nil {
					return err
				}
				if st.closeAfter {
					return snap.Close(ctx)
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	StringFlag(f, &st.manifest, cliflags.Manifest, "-")
	IntFlag(f, &st.flags.Concurrency, cliflags.Concurrency, st.flags.Concurrency)
	BoolFlag(f, &st.closeAfter, cliflags.CloseAfter, false)
	return cmd
}

// runPartitions executes parts with at most cfg.Concurrency in flight. The
// first failure cancels the rest.
func (st *cliState) runPartitions(
	ctx context.Context, snap *batch.BatchSnapshot, parts []batch.Partition, out *rowWriter,
) error {
	ctx = logtags.AddTag(ctx, "run", uuid.New().String()[:8])
	log.Infof(ctx, "executing %d partitions of %s, %d at a time",
		len(parts), snap.ID(), st.cfg.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(st.cfg.Concurrency)
	progress := log.Every(5 * time.Second)
	var done, rows atomic.Int64
	for i, p := range parts {
		i, p := i, p
		g.Go(func() error {
			ctx := logtags.AddTag(gctx, "partition", i)
			n, err := executeOne(ctx, snap, p, out)
			if err != nil {
				// Only the first error is returned; the others would be lost.
				if gctx.Err() == nil {
					log.Errorf(ctx, "partition failed: %v", err)
				}
				return errors.Wrapf(err, "partition %d", i)
			}
			log.VEventf(ctx, 2, "%d rows", n)
			rows.Add(int64(n))
			if d := done.Add(1); progress.ShouldLog() {
				log.Infof(ctx, "%d/%d partitions done", d, len(parts))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Infof(ctx, "done: %d partitions, %s rows", len(parts), humanize.Comma(rows.Load()))
	return nil
}

func newCloseSnapshotCmd(st *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close-snapshot --snapshot <id>",
		Short: "delete the session of a batch snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := batch.DecodeBatchTransactionID(st.snapshot)
			if err != nil {
				return errors.Mark(err, errConfig)
			}
			return st.withSpanner(cmd, func(ctx context.Context, c *spannerConn) error {
				return c.client.LoadBatchSnapshot(id).Close(ctx)
			})
		},
	}
	StringFlag(cmd.Flags(), &st.snapshot, cliflags.Snapshot, "")
	return cmd
}
