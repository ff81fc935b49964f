// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package spanrpc

import (
	"context"
	"crypto/tls"
	"net"
	"strings"

	"cloud.google.com/go/spanner/admin/instance/apiv1/instancepb"
	"cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spannerbatch/pkg/util/log"
	"github.com/cockroachdb/spannerbatch/pkg/util/syncutil"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/credentials/oauth"
	"google.golang.org/grpc/metadata"
)

// Scopes are the OAuth scopes requested by DefaultTokenSource.
var Scopes = []string{
	"https://www.googleapis.com/auth/spanner.data",
	"https://www.googleapis.com/auth/spanner.admin",
}

// DefaultTokenSource returns the application default credentials.
func DefaultTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	ts, err := google.DefaultTokenSource(ctx, Scopes...)
	if err != nil {
		return nil, errors.Wrap(err, "loading application default credentials")
	}
	return ts, nil
}

type serviceOptions struct {
	insecure bool
	perRPC   credentials.PerRPCCredentials
	dialOpts []grpc.DialOption
	metrics  *Metrics
}

// ServiceOption configures a GRPCService.
type ServiceOption func(*serviceOptions)

// WithInsecure disables transport security, e.g. for the emulator.
func WithInsecure() ServiceOption {
	return func(o *serviceOptions) {
		o.insecure = true
	}
}

// WithTokenSource attaches OAuth tokens from ts to every call.
func WithTokenSource(ts oauth2.TokenSource) ServiceOption {
	return func(o *serviceOptions) {
		o.perRPC = oauth.TokenSource{TokenSource: ts}
	}
}

// WithContextDialer replaces the network dialer.
func WithContextDialer(dialer func(context.Context, string) (net.Conn, error)) ServiceOption {
	return func(o *serviceOptions) {
		o.dialOpts = append(o.dialOpts, grpc.WithContextDialer(dialer))
	}
}

// WithDialOptions appends raw gRPC dial options.
func WithDialOptions(opts ...grpc.DialOption) ServiceOption {
	return func(o *serviceOptions) {
		o.dialOpts = append(o.dialOpts, opts...)
	}
}

// WithServiceMetrics records into m instead of private counters.
func WithServiceMetrics(m *Metrics) ServiceOption {
	return func(o *serviceOptions) {
		o.metrics = m
	}
}

// GRPCService implements Service over gRPC. It keeps one connection per
// endpoint, opened on first use and closed by Close.
type GRPCService struct {
	opts serviceOptions

	mu struct {
		syncutil.Mutex
		conns  map[string]*grpc.ClientConn
		closed bool
	}
}

var _ Service = (*GRPCService)(nil)

// NewGRPCService returns a GRPCService. No connection is made until the
// first call.
func NewGRPCService(opts ...ServiceOption) *GRPCService {
	s := &GRPCService{}
	for _, opt := range opts {
		opt(&s.opts)
	}
	if s.opts.metrics == nil {
		s.opts.metrics = NewMetrics()
	}
	s.mu.conns = make(map[string]*grpc.ClientConn)
	return s
}

// DialTarget converts an endpoint, which may be a bare host or an https URI
// as published in instance metadata, into a gRPC dial target.
func DialTarget(endpoint string) string {
	target := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	target = strings.TrimSuffix(target, "/")
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, "443")
	}
	return target
}

func (s *GRPCService) dialOptions() []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithChainUnaryInterceptor(s.opts.metrics.unaryInterceptor),
		grpc.WithChainStreamInterceptor(s.opts.metrics.streamInterceptor),
	}
	if s.opts.insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
		if s.opts.perRPC != nil {
			opts = append(opts, grpc.WithPerRPCCredentials(s.opts.perRPC))
		}
	}
	return append(opts, s.opts.dialOpts...)
}

// conn returns the connection for endpoint, dialing it if necessary.
func (s *GRPCService) conn(ctx context.Context, endpoint string) (*grpc.ClientConn, error) {
	if endpoint == "" {
		return nil, errors.AssertionFailedf("no endpoint")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.closed {
		return nil, errors.New("spanrpc: service is closed")
	}
	if c, ok := s.mu.conns[endpoint]; ok {
		return c, nil
	}
	return s.dialLocked(ctx, endpoint)
}

// dialLocked dials endpoint and adds the connection to the pool. s.mu must
// be held.
func (s *GRPCService) dialLocked(ctx context.Context, endpoint string) (*grpc.ClientConn, error) {
	s.mu.AssertHeld()
	target := DialTarget(endpoint)
	log.VEventf(ctx, 1, "dialing %s", target)
	c, err := grpc.DialContext(ctx, target, s.dialOptions()...)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", target)
	}
	s.mu.conns[endpoint] = c
	s.opts.metrics.Connections.Inc()
	return c, nil
}

func (s *GRPCService) spanner(ctx context.Context, endpoint string) (spannerpb.SpannerClient, error) {
	c, err := s.conn(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return spannerpb.NewSpannerClient(c), nil
}

// withResourcePrefix attaches the database name to an outgoing call.
func withResourcePrefix(ctx context.Context, database string) context.Context {
	if database == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, ResourcePrefixHeader, database)
}

// Close closes every connection. Calls made after Close fail.
func (s *GRPCService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.closed {
		return nil
	}
	s.mu.closed = true
	var err error
	for ep, c := range s.mu.conns {
		err = errors.CombineErrors(err, errors.Wrapf(c.Close(), "closing connection to %s", ep))
		s.opts.metrics.Connections.Dec()
	}
	s.mu.conns = nil
	return err
}

// CreateSession implements Service.
func (s *GRPCService) CreateSession(
	ctx context.Context, endpoint string, req *spannerpb.CreateSessionRequest,
) (*spannerpb.Session, error) {
	c, err := s.spanner(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return c.CreateSession(withResourcePrefix(ctx, req.GetDatabase()), req)
}

// BatchCreateSessions implements Service.
func (s *GRPCService) BatchCreateSessions(
	ctx context.Context, endpoint string, req *spannerpb.BatchCreateSessionsRequest,
) (*spannerpb.BatchCreateSessionsResponse, error) {
	c, err := s.spanner(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return c.BatchCreateSessions(withResourcePrefix(ctx, req.GetDatabase()), req)
}

// DeleteSession implements Service.
func (s *GRPCService) DeleteSession(
	ctx context.Context, endpoint string, req *spannerpb.DeleteSessionRequest,
) error {
	c, err := s.spanner(ctx, endpoint)
	if err != nil {
		return err
	}
	_, err = c.DeleteSession(withResourcePrefix(ctx, databaseOfSession(req.GetName())), req)
	return err
}

// ExecuteStreamingSQL implements Service.
func (s *GRPCService) ExecuteStreamingSQL(
	ctx context.Context, endpoint string, req *spannerpb.ExecuteSqlRequest,
) (ResultStream, error) {
	c, err := s.spanner(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return c.ExecuteStreamingSql(withResourcePrefix(ctx, databaseOfSession(req.GetSession())), req)
}

// StreamingRead implements Service.
func (s *GRPCService) StreamingRead(
	ctx context.Context, endpoint string, req *spannerpb.ReadRequest,
) (ResultStream, error) {
	c, err := s.spanner(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return c.StreamingRead(withResourcePrefix(ctx, databaseOfSession(req.GetSession())), req)
}

// ExecuteBatchDML implements Service.
func (s *GRPCService) ExecuteBatchDML(
	ctx context.Context, endpoint string, req *spannerpb.ExecuteBatchDmlRequest,
) (*spannerpb.ExecuteBatchDmlResponse, error) {
	c, err := s.spanner(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return c.ExecuteBatchDml(withResourcePrefix(ctx, databaseOfSession(req.GetSession())), req)
}

// PartitionQuery implements Service.
func (s *GRPCService) PartitionQuery(
	ctx context.Context, endpoint string, req *spannerpb.PartitionQueryRequest,
) (*spannerpb.PartitionResponse, error) {
	c, err := s.spanner(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return c.PartitionQuery(withResourcePrefix(ctx, databaseOfSession(req.GetSession())), req)
}

// PartitionRead implements Service.
func (s *GRPCService) PartitionRead(
	ctx context.Context, endpoint string, req *spannerpb.PartitionReadRequest,
) (*spannerpb.PartitionResponse, error) {
	c, err := s.spanner(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return c.PartitionRead(withResourcePrefix(ctx, databaseOfSession(req.GetSession())), req)
}

// Commit implements Service.
func (s *GRPCService) Commit(
	ctx context.Context, endpoint string, req *spannerpb.CommitRequest,
) (*spannerpb.CommitResponse, error) {
	c, err := s.spanner(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return c.Commit(withResourcePrefix(ctx, databaseOfSession(req.GetSession())), req)
}

// Rollback implements Service.
func (s *GRPCService) Rollback(
	ctx context.Context, endpoint string, req *spannerpb.RollbackRequest,
) error {
	c, err := s.spanner(ctx, endpoint)
	if err != nil {
		return err
	}
	_, err = c.Rollback(withResourcePrefix(ctx, databaseOfSession(req.GetSession())), req)
	return err
}

// BeginTransaction implements Service.
func (s *GRPCService) BeginTransaction(
	ctx context.Context, endpoint string, req *spannerpb.BeginTransactionRequest,
) (*spannerpb.Transaction, error) {
	c, err := s.spanner(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return c.BeginTransaction(withResourcePrefix(ctx, databaseOfSession(req.GetSession())), req)
}

// CreateSnapshot implements Service.
func (s *GRPCService) CreateSnapshot(
	ctx context.Context, endpoint string, session string, opts *spannerpb.TransactionOptions_ReadOnly,
) (*spannerpb.Transaction, error) {
	return s.BeginTransaction(ctx, endpoint, &spannerpb.BeginTransactionRequest{
		Session: session,
		Options: SnapshotOptions(opts),
	})
}

// CreatePDMLTransaction implements Service.
func (s *GRPCService) CreatePDMLTransaction(
	ctx context.Context, endpoint string, session string,
) (*spannerpb.Transaction, error) {
	return s.BeginTransaction(ctx, endpoint, &spannerpb.BeginTransactionRequest{
		Session: session,
		Options: PDMLOptions(),
	})
}

// InstanceAdmin is an instance admin client pinned to one endpoint. It is
// used to look up instance metadata during endpoint resolution.
type InstanceAdmin struct {
	svc      *GRPCService
	endpoint string
}

// InstanceAdmin returns an admin client that sends calls to endpoint.
func (s *GRPCService) InstanceAdmin(endpoint string) *InstanceAdmin {
	return &InstanceAdmin{svc: s, endpoint: endpoint}
}

// GetInstance fetches instance metadata. Errors are returned as received so
// that callers can inspect their status code.
func (a *InstanceAdmin) GetInstance(
	ctx context.Context, req *instancepb.GetInstanceRequest,
) (*instancepb.Instance, error) {
	c, err := a.svc.conn(ctx, a.endpoint)
	if err != nil {
		return nil, err
	}
	return instancepb.NewInstanceAdminClient(c).GetInstance(ctx, req)
}
