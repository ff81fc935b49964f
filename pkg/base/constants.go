// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package base

import "time"

const (
	// DefaultHost is the global Spanner endpoint, used whenever resource
	// based routing does not yield an instance endpoint.
	DefaultHost = "spanner.googleapis.com:443"

	// DefaultRPCTimeout bounds every CLI command.
	DefaultRPCTimeout = 10 * time.Minute

	// DefaultConcurrency is the number of partitions a worker executes at
	// once.
	DefaultConcurrency = 4

	// RoutingEnvVar enables resource based routing when set to exactly
	// "true" and no explicit setting is given.
	RoutingEnvVar = "SPANNER_ENABLE_RESOURCE_BASED_ROUTING"

	// EmulatorHostEnvVar points the client at a local emulator. It implies
	// an insecure connection.
	EmulatorHostEnvVar = "SPANNER_EMULATOR_HOST"

	// RPCTimeoutEnvVar overrides DefaultRPCTimeout.
	RPCTimeoutEnvVar = "SPANBATCH_RPC_TIMEOUT"

	// ConcurrencyEnvVar overrides DefaultConcurrency.
	ConcurrencyEnvVar = "SPANBATCH_CONCURRENCY"
)

// routingAffirmative is the set of values of RoutingEnvVar that enable
// routing. The match is exact.
var routingAffirmative = []string{"true"}
