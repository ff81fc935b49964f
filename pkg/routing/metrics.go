// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package routing

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Resolution outcomes, used as the "outcome" label.
const (
	outcomeResolved = "resolved"
	outcomeDefault  = "default"
	outcomeDenied   = "denied"
	outcomeError    = "error"
)

var (
	metaResolutions = prometheus.CounterOpts{
		Namespace: "spannerbatch",
		Subsystem: "routing",
		Name:      "resolutions_total",
		Help: `Counter of endpoint resolutions by outcome.

resolved: the instance's first endpoint URI was used.
default: routing was disabled or the instance had no endpoint URIs.
denied: the instance lookup was not permitted; the default host was used.
error: the lookup failed and the error was returned to the caller.`,
	}
	metaCacheHits = prometheus.CounterOpts{
		Namespace: "spannerbatch",
		Subsystem: "routing",
		Name:      "cache_hits_total",
		Help:      "Counter of Endpoint calls answered from the memoized endpoint.",
	}
)

// Metrics holds the resolver's counters. A single Metrics can be shared by
// many resolvers.
type Metrics struct {
	Resolutions *prometheus.CounterVec
	CacheHits   prometheus.Counter
}

// NewMetrics returns unregistered resolver metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Resolutions: prometheus.NewCounterVec(metaResolutions, []string{"outcome"}),
		CacheHits:   prometheus.NewCounter(metaCacheHits),
	}
}

// Register adds the metrics to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Resolutions, m.CacheHits} {
		if err := reg.Register(c); err != nil {
			return errors.Wrap(err, "registering routing metrics")
		}
	}
	return nil
}
