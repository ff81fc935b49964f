// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package spanrpc

import (
	"context"

	"cloud.google.com/go/spanner/apiv1/spannerpb"
)

// EndpointSource supplies the endpoint for outbound calls. It is satisfied
// by *routing.Resolver.
type EndpointSource interface {
	Endpoint(ctx context.Context) (string, error)
}

// RoutedClient implements Client by sending every call to the endpoint
// reported by its EndpointSource. Arguments and results pass through
// untouched; nothing is cached or retried here.
type RoutedClient struct {
	svc      Service
	endpoint EndpointSource
}

var _ Client = (*RoutedClient)(nil)

// NewRoutedClient returns a Client forwarding to svc.
func NewRoutedClient(svc Service, endpoint EndpointSource) *RoutedClient {
	return &RoutedClient{svc: svc, endpoint: endpoint}
}

// CreateSession implements Client.
func (c *RoutedClient) CreateSession(
	ctx context.Context, req *spannerpb.CreateSessionRequest,
) (*spannerpb.Session, error) {
	ep, err := c.endpoint.Endpoint(ctx)
	if err != nil {
		return nil, err
	}
	return c.svc.CreateSession(ctx, ep, req)
}

// BatchCreateSessions implements Client.
func (c *RoutedClient) BatchCreateSessions(
	ctx context.Context, req *spannerpb.BatchCreateSessionsRequest,
) (*spannerpb.BatchCreateSessionsResponse, error) {
	ep, err := c.endpoint.Endpoint(ctx)
	if err != nil {
		return nil, err
	}
	return c.svc.BatchCreateSessions(ctx, ep, req)
}

// DeleteSession implements Client.
func (c *RoutedClient) DeleteSession(ctx context.Context, req *spannerpb.DeleteSessionRequest) error {
	ep, err := c.endpoint.Endpoint(ctx)
	if err != nil {
		return err
	}
	return c.svc.DeleteSession(ctx, ep, req)
}

// ExecuteStreamingSQL implements Client.
func (c *RoutedClient) ExecuteStreamingSQL(
	ctx context.Context, req *spannerpb.ExecuteSqlRequest,
) (ResultStream, error) {
	ep, err := c.endpoint.Endpoint(ctx)
	if err != nil {
		return nil, err
	}
	return c.svc.ExecuteStreamingSQL(ctx, ep, req)
}

// StreamingRead implements Client.
func (c *RoutedClient) StreamingRead(
	ctx context.Context, req *spannerpb.ReadRequest,
) (ResultStream, error) {
	ep, err := c.endpoint.Endpoint(ctx)
	if err != nil {
		return nil, err
	}
	return c.svc.StreamingRead(ctx, ep, req)
}

// ExecuteBatchDML implements Client.
func (c *RoutedClient) ExecuteBatchDML(
	ctx context.Context, req *spannerpb.ExecuteBatchDmlRequest,
) (*spannerpb.ExecuteBatchDmlResponse, error) {
	ep, err := c.endpoint.Endpoint(ctx)
	if err != nil {
		return nil, err
	}
	return c.svc.ExecuteBatchDML(ctx, ep, req)
}

// PartitionQuery implements Client.
func (c *RoutedClient) PartitionQuery(
	ctx context.Context, req *spannerpb.PartitionQueryRequest,
) (*spannerpb.PartitionResponse, error) {
	ep, err := c.endpoint.Endpoint(ctx)
	if err != nil {
		return nil, err
	}
	return c.svc.PartitionQuery(ctx, ep, req)
}

// PartitionRead implements Client.
func (c *RoutedClient) PartitionRead(
	ctx context.Context, req *spannerpb.PartitionReadRequest,
) (*spannerpb.PartitionResponse, error) {
	ep, err := c.endpoint.Endpoint(ctx)
	if err != nil {
		return nil, err
	}
	return c.svc.PartitionRead(ctx, ep, req)
}

// Commit implements Client.
func (c *RoutedClient) Commit(
	ctx context.Context, req *spannerpb.CommitRequest,
) (*spannerpb.CommitResponse, error) {
	ep, err := c.endpoint.Endpoint(ctx)
	if err != nil {
		return nil, err
	}
	return c.svc.Commit(ctx, ep, req)
}

// Rollback implements Client.
func (c *RoutedClient) Rollback(ctx context.Context, req *spannerpb.RollbackRequest) error {
	ep, err := c.endpoint.Endpoint(ctx)
	if err != nil {
		return err
	}
	return c.svc.Rollback(ctx, ep, req)
}

// BeginTransaction implements Client.
func (c *RoutedClient) BeginTransaction(
	ctx context.Context, req *spannerpb.BeginTransactionRequest,
) (*spannerpb.Transaction, error) {
	ep, err := c.endpoint.Endpoint(ctx)
	if err != nil {
		return nil, err
	}
	return c.svc.BeginTransaction(ctx, ep, req)
}

// CreateSnapshot implements Client.
func (c *RoutedClient) CreateSnapshot(
	ctx context.Context, session string, opts *spannerpb.TransactionOptions_ReadOnly,
) (*spannerpb.Transaction, error) {
	ep, err := c.endpoint.Endpoint(ctx)
	if err != nil {
		return nil, err
	}
	return c.svc.CreateSnapshot(ctx, ep, session, opts)
}

// CreatePDMLTransaction implements Client.
func (c *RoutedClient) CreatePDMLTransaction(
	ctx context.Context, session string,
) (*spannerpb.Transaction, error) {
	ep, err := c.endpoint.Endpoint(ctx)
	if err != nil {
		return nil, err
	}
	return c.svc.CreatePDMLTransaction(ctx, ep, session)
}
