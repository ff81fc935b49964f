// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package spanrpctest provides an in-memory spanrpc.Service for tests.
package spanrpctest

import (
	"context"
	"io"

	"cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spannerbatch/pkg/spanrpc"
	"github.com/cockroachdb/spannerbatch/pkg/util/syncutil"
	"google.golang.org/protobuf/proto"
)

// Call is one recorded invocation.
type Call struct {
	Method   string
	Endpoint string
	// Request is the request as passed in, or for CreateSnapshot and
	// CreatePDMLTransaction, the equivalent BeginTransactionRequest.
	Request proto.Message
}

// Service records every call and answers from canned responses. A method
// whose response is not set returns an empty message. If Err is set every
// call fails with it; MethodErrs fails only the named methods.
type Service struct {
	Session           *spannerpb.Session
	Transaction       *spannerpb.Transaction
	PartitionResponse *spannerpb.PartitionResponse
	CommitResponse    *spannerpb.CommitResponse
	BatchDMLResponse  *spannerpb.ExecuteBatchDmlResponse
	Results           []*spannerpb.PartialResultSet
	Err               error
	MethodErrs        map[string]error

	mu struct {
		syncutil.Mutex
		calls []Call
	}
}

var _ spanrpc.Service = (*Service)(nil)

// Calls returns the calls recorded so far.
func (s *Service) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.mu.calls...)
}

// Methods returns the method names recorded so far, in order.
func (s *Service) Methods() []string {
	var methods []string
	for _, c := range s.Calls() {
		methods = append(methods, c.Method)
	}
	return methods
}

func (s *Service) record(method, endpoint string, req proto.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.calls = append(s.mu.calls, Call{Method: method, Endpoint: endpoint, Request: req})
	if err, ok := s.MethodErrs[method]; ok {
		return err
	}
	return s.Err
}

func orEmpty[T any](v, empty *T) *T {
	if v == nil {
		return empty
	}
	return v
}

// CreateSession implements spanrpc.Service.
func (s *Service) CreateSession(
	_ context.Context, endpoint string, req *spannerpb.CreateSessionRequest,
) (*spannerpb.Session, error) {
	if err := s.record("CreateSession", endpoint, req); err != nil {
		return nil, err
	}
	return orEmpty(s.Session, &spannerpb.Session{}), nil
}

// BatchCreateSessions implements spanrpc.Service.
func (s *Service) BatchCreateSessions(
	_ context.Context, endpoint string, req *spannerpb.BatchCreateSessionsRequest,
) (*spannerpb.BatchCreateSessionsResponse, error) {
	if err := s.record("BatchCreateSessions", endpoint, req); err != nil {
		return nil, err
	}
	resp := &spannerpb.BatchCreateSessionsResponse{}
	if s.Session != nil {
		for i := int32(0); i < req.GetSessionCount(); i++ {
			resp.Session = append(resp.Session, s.Session)
		}
	}
	return resp, nil
}

// DeleteSession implements spanrpc.Service.
func (s *Service) DeleteSession(
	_ context.Context, endpoint string, req *spannerpb.DeleteSessionRequest,
) error {
	return s.record("DeleteSession", endpoint, req)
}

// ExecuteStreamingSQL implements spanrpc.Service.
func (s *Service) ExecuteStreamingSQL(
	_ context.Context, endpoint string, req *spannerpb.ExecuteSqlRequest,
) (spanrpc.ResultStream, error) {
	if err := s.record("ExecuteStreamingSQL", endpoint, req); err != nil {
		return nil, err
	}
	return NewResultStream(s.Results...), nil
}

// StreamingRead implements spanrpc.Service.
func (s *Service) StreamingRead(
	_ context.Context, endpoint string, req *spannerpb.ReadRequest,
) (spanrpc.ResultStream, error) {
	if err := s.record("StreamingRead", endpoint, req); err != nil {
		return nil, err
	}
	return NewResultStream(s.Results...), nil
}

// ExecuteBatchDML implements spanrpc.Service.
func (s *Service) ExecuteBatchDML(
	_ context.Context, endpoint string, req *spannerpb.ExecuteBatchDmlRequest,
) (*spannerpb.ExecuteBatchDmlResponse, error) {
	if err := s.record("ExecuteBatchDML", endpoint, req); err != nil {
		return nil, err
	}
	return orEmpty(s.BatchDMLResponse, &spannerpb.ExecuteBatchDmlResponse{}), nil
}

// PartitionQuery implements spanrpc.Service.
func (s *Service) PartitionQuery(
	_ context.Context, endpoint string, req *spannerpb.PartitionQueryRequest,
) (*spannerpb.PartitionResponse, error) {
	if err := s.record("PartitionQuery", endpoint, req); err != nil {
		return nil, err
	}
	return orEmpty(s.PartitionResponse, &spannerpb.PartitionResponse{}), nil
}

// PartitionRead implements spanrpc.Service.
func (s *Service) PartitionRead(
	_ context.Context, endpoint string, req *spannerpb.PartitionReadRequest,
) (*spannerpb.PartitionResponse, error) {
	if err := s.record("PartitionRead", endpoint, req); err != nil {
		return nil, err
	}
	return orEmpty(s.PartitionResponse, &spannerpb.PartitionResponse{}), nil
}

// Commit implements spanrpc.Service.
func (s *Service) Commit(
	_ context.Context, endpoint string, req *spannerpb.CommitRequest,
) (*spannerpb.CommitResponse, error) {
	if err := s.record("Commit", endpoint, req); err != nil {
		return nil, err
	}
	return orEmpty(s.CommitResponse, &spannerpb.CommitResponse{}), nil
}

// Rollback implements spanrpc.Service.
func (s *Service) Rollback(
	_ context.Context, endpoint string, req *spannerpb.RollbackRequest,
) error {
	return s.record("Rollback", endpoint, req)
}

// BeginTransaction implements spanrpc.Service.
func (s *Service) BeginTransaction(
	_ context.Context, endpoint string, req *spannerpb.BeginTransactionRequest,
) (*spannerpb.Transaction, error) {
	if err := s.record("BeginTransaction", endpoint, req); err != nil {
		return nil, err
	}
	return orEmpty(s.Transaction, &spannerpb.Transaction{}), nil
}

// CreateSnapshot implements spanrpc.Service.
func (s *Service) CreateSnapshot(
	_ context.Context, endpoint string, session string, opts *spannerpb.TransactionOptions_ReadOnly,
) (*spannerpb.Transaction, error) {
	req := &spannerpb.BeginTransactionRequest{Session: session, Options: spanrpc.SnapshotOptions(opts)}
	if err := s.record("CreateSnapshot", endpoint, req); err != nil {
		return nil, err
	}
	return orEmpty(s.Transaction, &spannerpb.Transaction{}), nil
}

// CreatePDMLTransaction implements spanrpc.Service.
func (s *Service) CreatePDMLTransaction(
	_ context.Context, endpoint string, session string,
) (*spannerpb.Transaction, error) {
	req := &spannerpb.BeginTransactionRequest{Session: session, Options: spanrpc.PDMLOptions()}
	if err := s.record("CreatePDMLTransaction", endpoint, req); err != nil {
		return nil, err
	}
	return orEmpty(s.Transaction, &spannerpb.Transaction{}), nil
}

// ResultStream replays a fixed list of partial result sets.
type ResultStream struct {
	sets []*spannerpb.PartialResultSet
	err  error
}

var _ spanrpc.ResultStream = (*ResultStream)(nil)

// NewResultStream returns a stream yielding sets and then io.EOF.
func NewResultStream(sets ...*spannerpb.PartialResultSet) *ResultStream {
	return &ResultStream{sets: sets, err: io.EOF}
}

// FailAfter makes the stream return err instead of io.EOF once the sets are
// exhausted.
func (r *ResultStream) FailAfter(err error) *ResultStream {
	r.err = errors.Wrap(err, "stream")
	return r
}

// Recv implements spanrpc.ResultStream.
func (r *ResultStream) Recv() (*spannerpb.PartialResultSet, error) {
	if len(r.sets) == 0 {
		return nil, r.err
	}
	s := r.sets[0]
	r.sets = r.sets[1:]
	return s, nil
}

// EndpointSource is a fixed spanrpc.EndpointSource.
type EndpointSource struct {
	Addr string
	Err  error

	mu struct {
		syncutil.Mutex
		calls int
	}
}

// Endpoint implements spanrpc.EndpointSource.
func (e *EndpointSource) Endpoint(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mu.calls++
	if e.Err != nil {
		return "", e.Err
	}
	return e.Addr, nil
}

// Calls returns how many times Endpoint was called.
func (e *EndpointSource) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mu.calls
}
