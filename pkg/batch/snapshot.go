// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package batch

import (
	"context"
	"sync/atomic"

	"cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spannerbatch/pkg/util/log"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Statement is a SQL statement with its parameters.
type Statement struct {
	SQL    string
	Params map[string]*structpb.Value
	// ParamTypes is only needed where the type of a parameter cannot be
	// inferred from its value, e.g. BYTES or TIMESTAMP.
	ParamTypes map[string]*spannerpb.Type
}

func (s Statement) params() *structpb.Struct {
	if len(s.Params) == 0 {
		return nil
	}
	return &structpb.Struct{Fields: s.Params}
}

// ReadSpec describes a read of a table or index.
type ReadSpec struct {
	Table   string
	Index   string
	Columns []string
	// KeySet selects the rows; nil reads all rows.
	KeySet *spannerpb.KeySet
}

func (r ReadSpec) keySet() *spannerpb.KeySet {
	if r.KeySet == nil {
		return &spannerpb.KeySet{All: true}
	}
	return r.KeySet
}

// PartitionOptions are hints to the server. Zero values leave the choice to
// the server.
type PartitionOptions struct {
	PartitionSizeBytes int64
	MaxPartitions      int64
}

func (o PartitionOptions) proto() *spannerpb.PartitionOptions {
	if o == (PartitionOptions{}) {
		return nil
	}
	return &spannerpb.PartitionOptions{
		PartitionSizeBytes: o.PartitionSizeBytes,
		MaxPartitions:      o.MaxPartitions,
	}
}

// BatchSnapshot is a read-only transaction at a fixed timestamp that can be
// shared between processes through its ID.
//
// Several goroutines may execute partitions of one BatchSnapshot
// concurrently.
type BatchSnapshot struct {
	client *Client
	id     BatchTransactionID
	closed atomic.Bool
}

// ID returns the identity other processes use to join the snapshot.
func (s *BatchSnapshot) ID() BatchTransactionID { return s.id }

func (s *BatchSnapshot) check() error {
	if err := s.checkClient(); err != nil {
		return err
	}
	if s.closed.Load() {
		return errors.Newf("batch snapshot %s is closed", s.id)
	}
	return nil
}

func (s *BatchSnapshot) checkClient() error {
	if s == nil || s.client == nil || s.client.rpc == nil {
		return errors.AssertionFailedf("batch snapshot has no rpc client")
	}
	return nil
}

func (s *BatchSnapshot) selector() *spannerpb.TransactionSelector {
	return &spannerpb.TransactionSelector{
		Selector: &spannerpb.TransactionSelector_Id{Id: s.id.TransactionID()},
	}
}

// PartitionQuery splits stmt into partitions. Each one carries a complete
// request and can be executed by any process holding the snapshot's ID.
func (s *BatchSnapshot) PartitionQuery(
	ctx context.Context, stmt Statement, opts PartitionOptions,
) ([]Partition, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	resp, err := s.client.rpc.PartitionQuery(ctx, &spannerpb.PartitionQueryRequest{
		Session:          s.id.SessionPath(),
		Transaction:      s.selector(),
		Sql:              stmt.SQL,
		Params:           stmt.params(),
		ParamTypes:       stmt.ParamTypes,
		PartitionOptions: opts.proto(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "partitioning query")
	}
	parts := make([]Partition, 0, len(resp.GetPartitions()))
	for _, p := range resp.GetPartitions() {
		parts = append(parts, QueryPartition{Request: &spannerpb.ExecuteSqlRequest{
			Session:        s.id.SessionPath(),
			Transaction:    s.selector(),
			Sql:            stmt.SQL,
			Params:         stmt.params(),
			ParamTypes:     stmt.ParamTypes,
			PartitionToken: p.GetPartitionToken(),
		}})
	}
	log.VEventf(ctx, 1, "query split into %d partitions", len(parts))
	return parts, nil
}

// PartitionRead splits a read into partitions.
func (s *BatchSnapshot) PartitionRead(
	ctx context.Context, read ReadSpec, opts PartitionOptions,
) ([]Partition, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	resp, err := s.client.rpc.PartitionRead(ctx, &spannerpb.PartitionReadRequest{
		Session:          s.id.SessionPath(),
		Transaction:      s.selector(),
		Table:            read.Table,
		Index:            read.Index,
		Columns:          read.Columns,
		KeySet:           read.keySet(),
		PartitionOptions: opts.proto(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "partitioning read of %s", read.Table)
	}
	parts := make([]Partition, 0, len(resp.GetPartitions()))
	for _, p := range resp.GetPartitions() {
		parts = append(parts, ReadPartition{Request: &spannerpb.ReadRequest{
			Session:        s.id.SessionPath(),
			Transaction:    s.selector(),
			Table:          read.Table,
			Index:          read.Index,
			Columns:        read.Columns,
			KeySet:         read.keySet(),
			PartitionToken: p.GetPartitionToken(),
		}})
	}
	log.VEventf(ctx, 1, "read of %s split into %d partitions", read.Table, len(parts))
	return parts, nil
}

// ExecutePartition runs p within the snapshot. The request's session and
// transaction are replaced by the snapshot's, everything else is sent as
// decoded. An EmptyPartition fails with ErrEmptyPartition without any RPC.
func (s *BatchSnapshot) ExecutePartition(ctx context.Context, p Partition) (*RowIterator, error) {
	switch p := p.(type) {
	case QueryPartition:
		if p.Request == nil {
			return nil, errors.Mark(errors.New("query partition without a request"), ErrMalformedPartition)
		}
		if err := s.check(); err != nil {
			return nil, err
		}
		req := proto.Clone(p.Request).(*spannerpb.ExecuteSqlRequest)
		req.Session, req.Transaction = s.id.SessionPath(), s.selector()
		stream, err := s.client.rpc.ExecuteStreamingSQL(ctx, req)
		if err != nil {
			return nil, errors.Wrap(err, "executing query partition")
		}
		return newRowIterator(stream), nil

	case ReadPartition:
		if p.Request == nil {
			return nil, errors.Mark(errors.New("read partition without a request"), ErrMalformedPartition)
		}
		if err := s.check(); err != nil {
			return nil, err
		}
		req := proto.Clone(p.Request).(*spannerpb.ReadRequest)
		req.Session, req.Transaction = s.id.SessionPath(), s.selector()
		stream, err := s.client.rpc.StreamingRead(ctx, req)
		if err != nil {
			return nil, errors.Wrapf(err, "executing read partition of %s", req.Table)
		}
		return newRowIterator(stream), nil

	case EmptyPartition, nil:
		return nil, errors.WithStack(ErrEmptyPartition)

	default:
		return nil, errors.AssertionFailedf("unknown partition type %T", p)
	}
}

// Execute runs stmt in full at the snapshot's timestamp.
func (s *BatchSnapshot) Execute(ctx context.Context, stmt Statement) (*RowIterator, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	stream, err := s.client.rpc.ExecuteStreamingSQL(ctx, &spannerpb.ExecuteSqlRequest{
		Session:     s.id.SessionPath(),
		Transaction: s.selector(),
		Sql:         stmt.SQL,
		Params:      stmt.params(),
		ParamTypes:  stmt.ParamTypes,
	})
	if err != nil {
		return nil, errors.Wrap(err, "executing query")
	}
	return newRowIterator(stream), nil
}

// Read reads in full at the snapshot's timestamp.
func (s *BatchSnapshot) Read(ctx context.Context, read ReadSpec) (*RowIterator, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	stream, err := s.client.rpc.StreamingRead(ctx, &spannerpb.ReadRequest{
		Session:     s.id.SessionPath(),
		Transaction: s.selector(),
		Table:       read.Table,
		Index:       read.Index,
		Columns:     read.Columns,
		KeySet:      read.keySet(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", read.Table)
	}
	return newRowIterator(stream), nil
}

// Close deletes the snapshot's session. Every process sharing the snapshot
// loses it, so only the coordinator should call Close, after all
// partitions have run. Closing twice is a no-op.
func (s *BatchSnapshot) Close(ctx context.Context) error {
	if err := s.checkClient(); err != nil {
		return err
	}
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.client.rpc.DeleteSession(ctx, &spannerpb.DeleteSessionRequest{
		Name: s.id.SessionPath(),
	}); err != nil {
		return errors.Wrapf(err, "deleting session %s", s.id.SessionPath())
	}
	log.VEventf(ctx, 1, "closed batch snapshot %s", s.id)
	return nil
}
