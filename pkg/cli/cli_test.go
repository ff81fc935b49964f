// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/spanner/admin/instance/apiv1/instancepb"
	"cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spannerbatch/pkg/base"
	"github.com/cockroachdb/spannerbatch/pkg/batch"
	"github.com/cockroachdb/spannerbatch/pkg/util/envutil"
	"github.com/cockroachdb/spannerbatch/pkg/util/log"
	"github.com/cockroachdb/spannerbatch/pkg/util/syncutil"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const testDatabase = "projects/p/instances/i/databases/d"

// fakeSpanner serves a database with one single-column table. Each
// partition token yields the rows named in it, separated by commas.
type fakeSpanner struct {
	spannerpb.UnimplementedSpannerServer
	instancepb.UnimplementedInstanceAdminServer

	endpoints    []string
	instanceErr  error
	partitions   []string
	partitionErr error

	mu struct {
		syncutil.Mutex
		sessions map[string]bool
		dialed   map[string]int
		methods  []string
	}
}

func (f *fakeSpanner) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mu.methods = append(f.mu.methods, method)
}

func (f *fakeSpanner) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.mu.methods...)
}

func (f *fakeSpanner) dialedTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var targets []string
	for t := range f.mu.dialed {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}

func (f *fakeSpanner) liveSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mu.sessions)
}

func (f *fakeSpanner) CreateSession(
	_ context.Context, req *spannerpb.CreateSessionRequest,
) (*spannerpb.Session, error) {
	f.record("CreateSession")
	name := req.Database + "/sessions/s1"
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mu.sessions == nil {
		f.mu.sessions = make(map[string]bool)
	}
	f.mu.sessions[name] = true
	return &spannerpb.Session{Name: name, Labels: req.GetSession().GetLabels()}, nil
}

func (f *fakeSpanner) BeginTransaction(
	_ context.Context, req *spannerpb.BeginTransactionRequest,
) (*spannerpb.Transaction, error) {
	f.record("BeginTransaction")
	if !req.GetOptions().GetReadOnly().GetReturnReadTimestamp() {
		return nil, status.Error(codes.InvalidArgument, "read timestamp not requested")
	}
	return &spannerpb.Transaction{
		Id:            []byte("tx-123"),
		ReadTimestamp: timestamppb.New(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
	}, nil
}

func (f *fakeSpanner) checkSession(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.mu.sessions[name] {
		return status.Errorf(codes.NotFound, "session not found: %s", name)
	}
	return nil
}

func (f *fakeSpanner) partitionResponse() (*spannerpb.PartitionResponse, error) {
	if f.partitionErr != nil {
		return nil, f.partitionErr
	}
	resp := &spannerpb.PartitionResponse{}
	for _, p := range f.partitions {
		resp.Partitions = append(resp.Partitions, &spannerpb.Partition{PartitionToken: []byte(p)})
	}
	return resp, nil
}

func (f *fakeSpanner) PartitionQuery(
	_ context.Context, req *spannerpb.PartitionQueryRequest,
) (*spannerpb.PartitionResponse, error) {
	f.record("PartitionQuery")
	if err := f.checkSession(req.Session); err != nil {
		return nil, err
	}
	return f.partitionResponse()
}

func (f *fakeSpanner) PartitionRead(
	_ context.Context, req *spannerpb.PartitionReadRequest,
) (*spannerpb.PartitionResponse, error) {
	f.record("PartitionRead")
	if err := f.checkSession(req.Session); err != nil {
		return nil, err
	}
	return f.partitionResponse()
}

func sendRows(token []byte, send func(*spannerpb.PartialResultSet) error) error {
	if err := send(&spannerpb.PartialResultSet{
		Metadata: &spannerpb.ResultSetMetadata{RowType: &spannerpb.StructType{
			Fields: []*spannerpb.StructType_Field{{Name: "name"}},
		}},
	}); err != nil {
		return err
	}
	for _, name := range strings.Split(string(token), ",") {
		if name == "fail" {
			return status.Error(codes.Internal, "partition fail")
		}
		if err := send(&spannerpb.PartialResultSet{
			Values: []*structpb.Value{structpb.NewStringValue(name)},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSpanner) ExecuteStreamingSql(
	req *spannerpb.ExecuteSqlRequest, stream spannerpb.Spanner_ExecuteStreamingSqlServer,
) error {
	f.record("ExecuteStreamingSql")
	if err := f.checkSession(req.Session); err != nil {
		return err
	}
	return sendRows(req.PartitionToken, stream.Send)
}

func (f *fakeSpanner) StreamingRead(
	req *spannerpb.ReadRequest, stream spannerpb.Spanner_StreamingReadServer,
) error {
	f.record("StreamingRead")
	if err := f.checkSession(req.Session); err != nil {
		return err
	}
	return sendRows(req.PartitionToken, stream.Send)
}

func (f *fakeSpanner) DeleteSession(
	_ context.Context, req *spannerpb.DeleteSessionRequest,
) (*emptypb.Empty, error) {
	f.record("DeleteSession")
	if err := f.checkSession(req.Name); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.mu.sessions, req.Name)
	return &emptypb.Empty{}, nil
}

func (f *fakeSpanner) GetInstance(
	_ context.Context, req *instancepb.GetInstanceRequest,
) (*instancepb.Instance, error) {
	f.record("GetInstance")
	if f.instanceErr != nil {
		return nil, f.instanceErr
	}
	return &instancepb.Instance{Name: req.Name, EndpointUris: f.endpoints}, nil
}

// harness runs commands against a fakeSpanner. Every dialed target reaches
// the same server; the targets are recorded.
type harness struct {
	t   *testing.T
	f   *fakeSpanner
	lis *bufconn.Listener
	env map[string]string
}

func newHarness(t *testing.T, f *fakeSpanner) *harness {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	spannerpb.RegisterSpannerServer(srv, f)
	instancepb.RegisterInstanceAdminServer(srv, f)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return &harness{t: t, f: f, lis: lis, env: map[string]string{}}
}

func (h *harness) run(stdin string, args ...string) (string, error) {
	h.t.Helper()
	st := newCLIState(envutil.MapLookup(h.env))
	st.knobs.dialer = func(ctx context.Context, target string) (net.Conn, error) {
		h.f.mu.Lock()
		if h.f.mu.dialed == nil {
			h.f.mu.dialed = make(map[string]int)
		}
		h.f.mu.dialed[target]++
		h.f.mu.Unlock()
		return h.lis.DialContext(ctx)
	}
	cmd := newRootCmd(st)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args,
		"--project=p", "--instance=i", "--database=d", "--insecure"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func rowNames(t *testing.T, out string) []string {
	t.Helper()
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var row map[string]string
		require.NoError(t, json.Unmarshal([]byte(line), &row), line)
		names = append(names, row["name"])
	}
	sort.Strings(names)
	return names
}

func TestCoordinatorAndWorkers(t *testing.T) {
	defer log.Scope(t).Close(t)

	f := &fakeSpanner{partitions: []string{"alice,bob", "carol", "dave,erin"}}
	h := newHarness(t, f)

	out, err := h.run("", "partition-query", "--sql", "SELECT name FROM users", "--max-partitions=3")
	require.NoError(t, err)

	var m Manifest
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	require.Equal(t, testDatabase+"/sessions/s1", m.Snapshot.SessionPath())
	require.Equal(t, []byte("tx-123"), m.Snapshot.TransactionID())
	require.Len(t, m.Partitions, 3)

	// One worker takes a single partition.
	snap, err := m.Snapshot.Encode()
	require.NoError(t, err)
	out, err = h.run("", "execute-partition", "--snapshot", snap, "--partition", m.Partitions[1])
	require.NoError(t, err)
	require.Equal(t, []string{"carol"}, rowNames(t, out))

	// Another runs the whole manifest from stdin and closes the snapshot.
	out, err = h.run(manifestText(t, m), "run", "--concurrency=2", "--close-after")
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob", "carol", "dave", "erin"}, rowNames(t, out))
	require.Zero(t, f.liveSessions())

	// Routing is off, so everything went to the default host.
	require.Equal(t, []string{base.DefaultHost}, f.dialedTargets())
	require.NotContains(t, f.methods(), "GetInstance")
}

func manifestText(t *testing.T, m Manifest) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, writeManifest(&buf, m))
	return buf.String()
}

func TestPartitionRead(t *testing.T) {
	defer log.Scope(t).Close(t)

	f := &fakeSpanner{partitions: []string{"x", "y"}}
	h := newHarness(t, f)

	out, err := h.run("", "partition-read", "--table=users", "--columns=name", "--keys=a,b")
	require.NoError(t, err)
	m, err := readManifest(strings.NewReader(out))
	require.NoError(t, err)
	parts, err := m.Decode()
	require.NoError(t, err)
	require.Len(t, parts, 2)
	for _, p := range parts {
		require.True(t, batch.IsRead(p))
		req := p.(batch.ReadPartition).Request
		require.Equal(t, "users", req.Table)
		require.Equal(t, []string{"name"}, req.Columns)
		require.Len(t, req.KeySet.Keys, 2)
	}

	out, err = h.run(out, "run")
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y"}, rowNames(t, out))
	require.Contains(t, f.methods(), "StreamingRead")
	// Without --close-after the snapshot stays open.
	require.Equal(t, 1, f.liveSessions())

	snap, err := m.Snapshot.Encode()
	require.NoError(t, err)
	_, err = h.run("", "close-snapshot", "--snapshot", snap)
	require.NoError(t, err)
	require.Zero(t, f.liveSessions())
}

func TestResolveCommand(t *testing.T) {
	defer log.Scope(t).Close(t)

	for _, tc := range []struct {
		name        string
		env         map[string]string
		flags       []string
		endpoints   []string
		instanceErr error
		expected    string
		lookedUp    bool
	}{
		{
			name:     "disabled",
			expected: base.DefaultHost,
		},
		{
			name:      "enabled by env",
			env:       map[string]string{base.RoutingEnvVar: "true"},
			endpoints: []string{"https://routed.example"},
			expected:  "https://routed.example",
			lookedUp:  true,
		},
		{
			name:      "env is case sensitive",
			env:       map[string]string{base.RoutingEnvVar: "TRUE"},
			endpoints: []string{"https://routed.example"},
			expected:  base.DefaultHost,
		},
		{
			name:      "flag beats env",
			env:       map[string]string{base.RoutingEnvVar: "true"},
			flags:     []string{"--resource-based-routing=false"},
			endpoints: []string{"https://routed.example"},
			expected:  base.DefaultHost,
		},
		{
			name:      "bare flag",
			flags:     []string{"--resource-based-routing"},
			endpoints: []string{"routed.example:443"},
			expected:  "routed.example:443",
			lookedUp:  true,
		},
		{
			name:        "permission denied",
			flags:       []string{"--resource-based-routing"},
			instanceErr: status.Error(codes.PermissionDenied, "no spanner.instances.get"),
			expected:    base.DefaultHost,
			lookedUp:    true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeSpanner{endpoints: tc.endpoints, instanceErr: tc.instanceErr}
			h := newHarness(t, f)
			for k, v := range tc.env {
				h.env[k] = v
			}
			out, err := h.run("", append([]string{"resolve"}, tc.flags...)...)
			require.NoError(t, err)
			require.Equal(t, tc.expected+"\n", out)
			require.Equal(t, tc.lookedUp, len(f.methods()) > 0, "%v", f.methods())
		})
	}
}

func TestRoutedDataPlane(t *testing.T) {
	defer log.Scope(t).Close(t)

	f := &fakeSpanner{endpoints: []string{"https://routed.example/"}, partitions: []string{"a"}}
	h := newHarness(t, f)
	h.env[base.RoutingEnvVar] = "true"

	out, err := h.run("", "partition-query", "--sql", "SELECT 1")
	require.NoError(t, err)
	require.Contains(t, out, "partitions")
	// The lookup went to the default host, the data plane to the instance
	// endpoint.
	require.Equal(t, []string{"routed.example:443", base.DefaultHost}, f.dialedTargets())
}

func TestCommandErrors(t *testing.T) {
	defer log.Scope(t).Close(t)

	f := &fakeSpanner{}
	h := newHarness(t, f)
	ctx := context.Background()

	_, err := h.run("", "partition-query")
	require.True(t, errors.Is(err, errConfig), "%+v", err)
	require.Equal(t, 4, exitCode(ctx, err).Int())

	snap, err := batch.MakeBatchTransactionID(testDatabase+"/sessions/s1", []byte("tx"), time.Unix(1, 0))
	require.NoError(t, err)
	encoded, err := snap.Encode()
	require.NoError(t, err)

	_, err = h.run("", "execute-partition", "--snapshot", encoded, "--partition", "not json")
	require.True(t, errors.Is(err, batch.ErrMalformedPartition), "%+v", err)
	require.Equal(t, 5, exitCode(ctx, err).Int())

	_, err = h.run("", "execute-partition", "--snapshot", encoded, "--partition", "{}")
	require.True(t, errors.Is(err, batch.ErrEmptyPartition), "%+v", err)
	require.Empty(t, f.methods())

	_, err = h.run("", "execute-partition", "--snapshot", "{", "--partition", "{}")
	require.True(t, errors.Is(err, errConfig), "%+v", err)

	_, err = h.run("{}", "run")
	require.ErrorContains(t, err, "manifest has no snapshot")

	// The session is unknown to the server.
	manifest := fmt.Sprintf(`{"snapshot": %s, "partitions": []}`, encoded)
	_, err = h.run(manifest, "run", "--close-after")
	require.Equal(t, codes.NotFound, status.Code(errors.UnwrapAll(err)), "%+v", err)
	require.Equal(t, 1, exitCode(ctx, err).Int())
}

func TestExitCode(t *testing.T) {
	ctx := context.Background()
	require.Equal(t, 0, exitCode(ctx, nil).Int())
	require.Equal(t, 1, exitCode(ctx, errors.New("boom")).Int())
	require.Equal(t, 4, exitCode(ctx, errors.Mark(errors.New("bad flag"), errConfig)).Int())
	require.Equal(t, 5, exitCode(ctx, errors.Wrap(batch.ErrEmptyPartition, "x")).Int())

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	require.Equal(t, 3, exitCode(canceled, errors.New("boom")).Int())
}

func TestReportAfterSignalContext(t *testing.T) {
	defer log.Scope(t).Close(t)

	var buf bytes.Buffer
	defer func(prev io.Writer) { stderr = prev }(stderr)
	stderr = &buf

	h := newHarness(t, &fakeSpanner{})
	for _, tc := range []struct {
		args     []string
		expected int
	}{
		{[]string{"partition-query"}, 4},
		{[]string{"execute-partition", "--snapshot", "{", "--partition", "{}"}, 4},
		{[]string{"execute-partition", "--snapshot", validSnapshot(t), "--partition", "{}"}, 5},
		{[]string{"execute-partition", "--snapshot", validSnapshot(t), "--partition", "[]"}, 5},
		{[]string{"resolve"}, 0},
	} {
		t.Run(strings.Join(tc.args[:1], " "), func(t *testing.T) {
			buf.Reset()
			// Same sequence as Main.
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			_, err := h.run("", tc.args...)
			code := report(ctx, err)
			stop()
			require.Equal(t, tc.expected, code.Int(), "%v", err)
			if tc.expected != 0 {
				require.Contains(t, buf.String(), "ERROR: ")
			} else {
				require.Empty(t, buf.String())
			}
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	stop()
	require.Equal(t, 3, report(ctx, errors.New("interrupted")).Int())
}

func validSnapshot(t *testing.T) string {
	t.Helper()
	id, err := batch.MakeBatchTransactionID(testDatabase+"/sessions/s1", []byte("tx"), time.Unix(1, 0))
	require.NoError(t, err)
	s, err := id.Encode()
	require.NoError(t, err)
	return s
}

func TestPartitionQueryClosesSnapshotOnFailure(t *testing.T) {
	defer log.Scope(t).Close(t)

	f := &fakeSpanner{partitions: []string{"a"}}
	h := newHarness(t, f)

	missing := filepath.Join(t.TempDir(), "no-such-dir", "manifest.json")
	_, err := h.run("", "partition-query", "--sql", "SELECT 1", "--output", missing)
	require.ErrorContains(t, err, "creating output")
	require.Equal(t,
		[]string{"CreateSession", "BeginTransaction", "PartitionQuery", "DeleteSession"}, f.methods())
	require.Zero(t, f.liveSessions())

	// A failed partition request closes the snapshot too.
	f = &fakeSpanner{partitionErr: status.Error(codes.InvalidArgument, "no such index")}
	h = newHarness(t, f)
	_, err = h.run("", "partition-read", "--table=users", "--columns=name", "--index=missing")
	require.Equal(t, codes.InvalidArgument, status.Code(errors.UnwrapAll(err)), "%+v", err)
	require.Equal(t,
		[]string{"CreateSession", "BeginTransaction", "PartitionRead", "DeleteSession"}, f.methods())
	require.Zero(t, f.liveSessions())
}

func TestRunLogsFailedPartition(t *testing.T) {
	sc := log.Scope(t)
	defer sc.Close(t)

	f := &fakeSpanner{partitions: []string{"fail"}}
	h := newHarness(t, f)

	manifest, err := h.run("", "partition-query", "--sql", "SELECT name FROM users")
	require.NoError(t, err)

	_, err = h.run(manifest, "run")
	require.Equal(t, codes.Internal, status.Code(errors.UnwrapAll(err)), "%+v", err)
	require.ErrorContains(t, err, "partition 0")
	require.Equal(t, 1, exitCode(context.Background(), err).Int())

	out := sc.Contents()
	require.Contains(t, out, "level=error")
	require.Contains(t, out, "partition=0")
	require.Contains(t, out, "partition failed")
}
