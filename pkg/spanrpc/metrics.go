// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package spanrpc

import (
	"context"
	"path"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	metaCalls = prometheus.CounterOpts{
		Namespace: "spannerbatch",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help: `Counter of RPCs issued, by method and status code.

For streaming methods only the outcome of opening the stream is counted.`,
	}
	metaConnections = prometheus.GaugeOpts{
		Namespace: "spannerbatch",
		Subsystem: "rpc",
		Name:      "connections",
		Help:      "Gauge of open connections, one per endpoint.",
	}
)

// Metrics holds the counters maintained by GRPCService.
// Field X is documented in metaX.
type Metrics struct {
	Calls       *prometheus.CounterVec
	Connections prometheus.Gauge
}

// NewMetrics returns unregistered RPC metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Calls:       prometheus.NewCounterVec(metaCalls, []string{"method", "code"}),
		Connections: prometheus.NewGauge(metaConnections),
	}
}

// Register adds the metrics to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Calls, m.Connections} {
		if err := reg.Register(c); err != nil {
			return errors.Wrap(err, "registering rpc metrics")
		}
	}
	return nil
}

func (m *Metrics) record(method string, err error) {
	m.Calls.WithLabelValues(path.Base(method), status.Code(err).String()).Inc()
}

func (m *Metrics) unaryInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	err := invoker(ctx, method, req, reply, cc, opts...)
	m.record(method, err)
	return err
}

func (m *Metrics) streamInterceptor(
	ctx context.Context,
	desc *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	s, err := streamer(ctx, desc, cc, method, opts...)
	m.record(method, err)
	return s, err
}
