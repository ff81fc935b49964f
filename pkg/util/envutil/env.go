// Copyright 2017 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package envutil reads process-wide configuration from environment
// variables. It is only meant to be called while a configuration is being
// assembled; components receive the resulting values through their
// constructors.
package envutil

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

// LookupFunc has the signature of os.LookupEnv. Tests substitute their own.
type LookupFunc func(name string) (string, bool)

// OSLookup reads from the process environment.
var OSLookup LookupFunc = os.LookupEnv

// MapLookup returns a LookupFunc backed by the given map.
func MapLookup(env map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

// EnvIsOneOf reports whether the variable is set to exactly one of the
// allowed values. The comparison is case-sensitive; "TRUE" does not match
// "true".
func EnvIsOneOf(lookup LookupFunc, name string, allowed ...string) bool {
	v, ok := lookup(name)
	if !ok {
		return false
	}
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// EnvOrDefaultString returns the value of the variable, or def if unset.
func EnvOrDefaultString(lookup LookupFunc, name, def string) string {
	if v, ok := lookup(name); ok {
		return v
	}
	return def
}

// EnvOrDefaultDuration returns the value of the variable parsed as a
// time.Duration, or def if unset. A malformed value is an error.
func EnvOrDefaultDuration(lookup LookupFunc, name string, def time.Duration) (time.Duration, error) {
	v, ok := lookup(name)
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, errors.Wrapf(err, "error parsing %s", name)
	}
	return d, nil
}

// EnvOrDefaultInt returns the value of the variable parsed as an int, or def
// if unset. A malformed value is an error.
func EnvOrDefaultInt(lookup LookupFunc, name string, def int) (int, error) {
	v, ok := lookup(name)
	if !ok {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, errors.Wrapf(err, "error parsing %s", name)
	}
	return i, nil
}
