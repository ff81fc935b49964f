// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package routing decides which network endpoint requests for a Spanner
// instance are sent to.
//
// With resource-based routing enabled, a Resolver asks the instance admin
// API for the instance's endpoint URIs once and uses the first one for the
// rest of its lifetime. Otherwise, or when the instance publishes no
// endpoints, the statically configured default host is used.
package routing

import (
	"context"

	"cloud.google.com/go/spanner/admin/instance/apiv1/instancepb"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spannerbatch/pkg/util/log"
	"github.com/cockroachdb/spannerbatch/pkg/util/syncutil"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/fieldmaskpb"
)

// EndpointURIsField is the only instance field requested during resolution.
const EndpointURIsField = "endpoint_uris"

// InstanceLookup fetches instance metadata. It is satisfied by the instance
// admin gRPC client.
type InstanceLookup interface {
	GetInstance(ctx context.Context, req *instancepb.GetInstanceRequest) (*instancepb.Instance, error)
}

// Config configures a Resolver.
type Config struct {
	// InstanceName is the instance resource name,
	// "projects/<project>/instances/<instance>".
	InstanceName string
	// DefaultHost is used whenever routing does not yield an endpoint.
	DefaultHost string
	// Mode is the explicit routing setting, if any.
	Mode Mode
	// EnvDefault is consulted only when Mode is ModeUnset. It is read from the
	// environment once, while the process configuration is assembled.
	EnvDefault bool
}

// Enabled reports whether resolution will consult the instance metadata.
func (c Config) Enabled() bool {
	return c.Mode.Enabled(c.EnvDefault)
}

// Validate checks that the config can be used to build a Resolver.
func (c Config) Validate() error {
	if c.DefaultHost == "" {
		return errors.New("routing: default host must be set")
	}
	if c.Enabled() && c.InstanceName == "" {
		return errors.New("routing: instance name must be set when routing is enabled")
	}
	return nil
}

type resolverOptions struct {
	metrics *Metrics
}

// Option configures optional Resolver behavior.
type Option func(*resolverOptions)

// WithMetrics makes the resolver record into m instead of private,
// unregistered counters.
func WithMetrics(m *Metrics) Option {
	return func(opts *resolverOptions) {
		opts.metrics = m
	}
}

// Resolver resolves and memoizes the endpoint for one instance.
//
// The endpoint is resolved at most once per Resolver: later changes to the
// instance's endpoints are not observed. Callers that need fresh routing
// must construct a new Resolver.
//
// All methods are safe for concurrent use. Concurrent first calls may each
// perform a lookup; the first endpoint stored wins and every caller returns
// it.
type Resolver struct {
	cfg     Config
	lookup  InstanceLookup
	metrics *Metrics

	mu struct {
		syncutil.Mutex
		resolved bool
		endpoint string
	}
}

// NewResolver constructs a Resolver. lookup may be nil only if routing is
// disabled by cfg.
func NewResolver(cfg Config, lookup InstanceLookup, opts ...Option) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Enabled() && lookup == nil {
		return nil, errors.AssertionFailedf("routing enabled for %s without an instance lookup", cfg.InstanceName)
	}
	var o resolverOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics()
	}
	return &Resolver{cfg: cfg, lookup: lookup, metrics: o.metrics}, nil
}

// Config returns the configuration the resolver was built with.
func (r *Resolver) Config() Config {
	return r.cfg
}

// Endpoint returns the endpoint to use for the instance, resolving it on the
// first call.
//
// A PermissionDenied lookup failure is logged and treated like an instance
// without endpoints. Every other lookup failure is returned and nothing is
// memoized, so a later call will try again.
func (r *Resolver) Endpoint(ctx context.Context) (string, error) {
	if ep, ok := r.memoized(); ok {
		r.metrics.CacheHits.Inc()
		return ep, nil
	}
	ep, outcome, err := r.resolve(ctx)
	r.metrics.Resolutions.WithLabelValues(outcome).Inc()
	if err != nil {
		return "", err
	}
	return r.memoize(ep), nil
}

func (r *Resolver) memoized() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.endpoint, r.mu.resolved
}

func (r *Resolver) memoize(ep string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memoizeLocked(ep)
}

// memoizeLocked stores ep unless another caller got there first, and returns
// the stored endpoint. r.mu must be held.
func (r *Resolver) memoizeLocked(ep string) string {
	r.mu.AssertHeld()
	if !r.mu.resolved {
		r.mu.resolved = true
		r.mu.endpoint = ep
	}
	return r.mu.endpoint
}

func (r *Resolver) resolve(ctx context.Context) (endpoint, outcome string, _ error) {
	if !r.cfg.Enabled() {
		return r.cfg.DefaultHost, outcomeDefault, nil
	}
	inst, err := r.lookup.GetInstance(ctx, &instancepb.GetInstanceRequest{
		Name:      r.cfg.InstanceName,
		FieldMask: &fieldmaskpb.FieldMask{Paths: []string{EndpointURIsField}},
	})
	if err != nil {
		if IsPermissionDenied(err) {
			log.Warningf(ctx,
				"the client lacks the spanner.instances.get permission on %s, "+
					"resource based routing is disabled and %s is used; "+
					"grant the permission to route requests to the instance's endpoint",
				r.cfg.InstanceName, r.cfg.DefaultHost)
			return r.cfg.DefaultHost, outcomeDenied, nil
		}
		return "", outcomeError, errors.Wrapf(err, "resolving endpoint for %s", r.cfg.InstanceName)
	}
	if uris := inst.GetEndpointUris(); len(uris) > 0 {
		log.VEventf(ctx, 2, "routing %s to %s", r.cfg.InstanceName, uris[0])
		return uris[0], outcomeResolved, nil
	}
	log.VEventf(ctx, 2, "%s publishes no endpoints, using %s", r.cfg.InstanceName, r.cfg.DefaultHost)
	return r.cfg.DefaultHost, outcomeDefault, nil
}

// IsPermissionDenied returns true if err's root cause is a gRPC status with
// code PermissionDenied.
func IsPermissionDenied(err error) bool {
	s, ok := status.FromError(errors.UnwrapAll(err))
	return ok && s.Code() == codes.PermissionDenied
}
