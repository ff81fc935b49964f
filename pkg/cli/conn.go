// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spannerbatch/pkg/batch"
	"github.com/cockroachdb/spannerbatch/pkg/routing"
	"github.com/cockroachdb/spannerbatch/pkg/spanrpc"
	"github.com/cockroachdb/spannerbatch/pkg/util/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// spannerConn bundles the clients a command uses.
type spannerConn struct {
	svc      *spanrpc.GRPCService
	resolver *routing.Resolver
	client   *batch.Client
	metrics  *http.Server
}

// openSpanner wires the gRPC service, the endpoint resolver and the batch
// client together. The instance lookup goes to the configured host; every
// other call goes to the endpoint the resolver picks.
func (st *cliState) openSpanner(ctx context.Context) (*spannerConn, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rpcMetrics, routingMetrics := spanrpc.NewMetrics(), routing.NewMetrics()
	if err := rpcMetrics.Register(reg); err != nil {
		return nil, err
	}
	if err := routingMetrics.Register(reg); err != nil {
		return nil, err
	}

	opts := []spanrpc.ServiceOption{spanrpc.WithServiceMetrics(rpcMetrics)}
	if st.cfg.Insecure {
		opts = append(opts, spanrpc.WithInsecure())
	} else {
		ts, err := spanrpc.DefaultTokenSource(ctx)
		if err != nil {
			return nil, errors.WithHint(err, "use --insecure to connect to the emulator")
		}
		opts = append(opts, spanrpc.WithTokenSource(ts))
	}
	if st.knobs.dialer != nil {
		opts = append(opts, spanrpc.WithContextDialer(st.knobs.dialer))
	}
	svc := spanrpc.NewGRPCService(opts...)

	resolver, err := routing.NewResolver(
		st.cfg.RoutingConfig(), svc.InstanceAdmin(st.cfg.Host), routing.WithMetrics(routingMetrics))
	if err != nil {
		_ = svc.Close()
		return nil, errors.Mark(err, errConfig)
	}
	c := &spannerConn{
		svc:      svc,
		resolver: resolver,
		client:   batch.NewClient(spanrpc.NewRoutedClient(svc, resolver), st.cfg.DatabasePath()),
	}
	if st.cfg.MetricsAddr != "" {
		if c.metrics, err = startMetricsServer(ctx, st.cfg.MetricsAddr, reg); err != nil {
			_ = svc.Close()
			return nil, err
		}
	}
	return c, nil
}

// Close releases the connections and stops the metrics server.
func (c *spannerConn) Close(ctx context.Context) {
	if c.metrics != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.metrics.Shutdown(ctx); err != nil {
			log.Warningf(ctx, "stopping metrics server: %v", err)
		}
	}
	if err := c.svc.Close(); err != nil {
		log.Warningf(ctx, "closing connections: %v", err)
	}
}

func startMetricsServer(
	ctx context.Context, addr string, reg *prometheus.Registry,
) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s for metrics", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog: log.NewStdLogger(log.SeverityError, "metrics:"),
	}))
	srv := &http.Server{
		Handler:           mux,
		ErrorLog:          log.NewStdLogger(log.SeverityWarning, "metrics:"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warningf(ctx, "metrics server: %v", err)
		}
	}()
	log.Infof(ctx, "serving metrics on http://%s/metrics", ln.Addr())
	return srv, nil
}
