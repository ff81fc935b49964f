// Copyright 2017 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package envutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnvIsOneOf(t *testing.T) {
	const name = "SPANNER_ENABLE_RESOURCE_BASED_ROUTING"
	for _, tc := range []struct {
		env      map[string]string
		expected bool
	}{
		{env: map[string]string{}, expected: false},
		{env: map[string]string{name: "true"}, expected: true},
		{env: map[string]string{name: "TRUE"}, expected: false},
		{env: map[string]string{name: "True"}, expected: false},
		{env: map[string]string{name: "1"}, expected: false},
		{env: map[string]string{name: " true"}, expected: false},
		{env: map[string]string{name: ""}, expected: false},
	} {
		require.Equal(t, tc.expected, EnvIsOneOf(MapLookup(tc.env), name, "true"), "%v", tc.env)
	}
}

func TestEnvOrDefault(t *testing.T) {
	lookup := MapLookup(map[string]string{
		"A": "5s",
		"B": "bogus",
		"C": "12",
		"D": "hello",
	})

	d, err := EnvOrDefaultDuration(lookup, "A", time.Second)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, d)

	d, err = EnvOrDefaultDuration(lookup, "MISSING", time.Second)
	require.NoError(t, err)
	require.Equal(t, time.Second, d)

	_, err = EnvOrDefaultDuration(lookup, "B", time.Second)
	require.ErrorContains(t, err, "error parsing B")

	i, err := EnvOrDefaultInt(lookup, "C", 1)
	require.NoError(t, err)
	require.Equal(t, 12, i)

	_, err = EnvOrDefaultInt(lookup, "D", 1)
	require.Error(t, err)

	require.Equal(t, "hello", EnvOrDefaultString(lookup, "D", "x"))
	require.Equal(t, "x", EnvOrDefaultString(lookup, "MISSING", "x"))
}
