// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package spanrpc contains the RPC surface used to talk to Spanner.
//
// Service is the raw surface: every call names the endpoint it must be sent
// to. Client is the same surface without that parameter; RoutedClient turns
// a Service into a Client by asking an EndpointSource for the endpoint on
// every call. GRPCService implements Service over gRPC.
package spanrpc

import (
	"context"

	"cloud.google.com/go/spanner/apiv1/spannerpb"
)

// ResourcePrefixHeader carries the database name on every data-plane call.
const ResourcePrefixHeader = "google-cloud-resource-prefix"

// ResultStream is a server stream of partial result sets. Recv returns
// io.EOF after the last set.
type ResultStream interface {
	Recv() (*spannerpb.PartialResultSet, error)
}

// Service is the underlying Spanner RPC surface. endpoint is the network
// address of the server the call is sent to.
type Service interface {
	CreateSession(ctx context.Context, endpoint string, req *spannerpb.CreateSessionRequest) (*spannerpb.Session, error)
	BatchCreateSessions(ctx context.Context, endpoint string, req *spannerpb.BatchCreateSessionsRequest) (*spannerpb.BatchCreateSessionsResponse, error)
	DeleteSession(ctx context.Context, endpoint string, req *spannerpb.DeleteSessionRequest) error
	ExecuteStreamingSQL(ctx context.Context, endpoint string, req *spannerpb.ExecuteSqlRequest) (ResultStream, error)
	StreamingRead(ctx context.Context, endpoint string, req *spannerpb.ReadRequest) (ResultStream, error)
	ExecuteBatchDML(ctx context.Context, endpoint string, req *spannerpb.ExecuteBatchDmlRequest) (*spannerpb.ExecuteBatchDmlResponse, error)
	PartitionQuery(ctx context.Context, endpoint string, req *spannerpb.PartitionQueryRequest) (*spannerpb.PartitionResponse, error)
	PartitionRead(ctx context.Context, endpoint string, req *spannerpb.PartitionReadRequest) (*spannerpb.PartitionResponse, error)
	Commit(ctx context.Context, endpoint string, req *spannerpb.CommitRequest) (*spannerpb.CommitResponse, error)
	Rollback(ctx context.Context, endpoint string, req *spannerpb.RollbackRequest) error
	BeginTransaction(ctx context.Context, endpoint string, req *spannerpb.BeginTransactionRequest) (*spannerpb.Transaction, error)
	// CreateSnapshot begins a read-only transaction in session.
	CreateSnapshot(ctx context.Context, endpoint string, session string, opts *spannerpb.TransactionOptions_ReadOnly) (*spannerpb.Transaction, error)
	// CreatePDMLTransaction begins a partitioned DML transaction in session.
	CreatePDMLTransaction(ctx context.Context, endpoint string, session string) (*spannerpb.Transaction, error)
}

// Client is Service with the endpoint chosen by the implementation.
type Client interface {
	CreateSession(ctx context.Context, req *spannerpb.CreateSessionRequest) (*spannerpb.Session, error)
	BatchCreateSessions(ctx context.Context, req *spannerpb.BatchCreateSessionsRequest) (*spannerpb.BatchCreateSessionsResponse, error)
	DeleteSession(ctx context.Context, req *spannerpb.DeleteSessionRequest) error
	ExecuteStreamingSQL(ctx context.Context, req *spannerpb.ExecuteSqlRequest) (ResultStream, error)
	StreamingRead(ctx context.Context, req *spannerpb.ReadRequest) (ResultStream, error)
	ExecuteBatchDML(ctx context.Context, req *spannerpb.ExecuteBatchDmlRequest) (*spannerpb.ExecuteBatchDmlResponse, error)
	PartitionQuery(ctx context.Context, req *spannerpb.PartitionQueryRequest) (*spannerpb.PartitionResponse, error)
	PartitionRead(ctx context.Context, req *spannerpb.PartitionReadRequest) (*spannerpb.PartitionResponse, error)
	Commit(ctx context.Context, req *spannerpb.CommitRequest) (*spannerpb.CommitResponse, error)
	Rollback(ctx context.Context, req *spannerpb.RollbackRequest) error
	BeginTransaction(ctx context.Context, req *spannerpb.BeginTransactionRequest) (*spannerpb.Transaction, error)
	CreateSnapshot(ctx context.Context, session string, opts *spannerpb.TransactionOptions_ReadOnly) (*spannerpb.Transaction, error)
	CreatePDMLTransaction(ctx context.Context, session string) (*spannerpb.Transaction, error)
}

// SnapshotOptions returns the transaction options for a read-only
// transaction with the given bound.
func SnapshotOptions(ro *spannerpb.TransactionOptions_ReadOnly) *spannerpb.TransactionOptions {
	return &spannerpb.TransactionOptions{
		Mode: &spannerpb.TransactionOptions_ReadOnly_{ReadOnly: ro},
	}
}

// PDMLOptions returns the transaction options for partitioned DML.
func PDMLOptions() *spannerpb.TransactionOptions {
	return &spannerpb.TransactionOptions{
		Mode: &spannerpb.TransactionOptions_PartitionedDml_{
			PartitionedDml: &spannerpb.TransactionOptions_PartitionedDml{},
		},
	}
}
