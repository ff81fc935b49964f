// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package routing

import "github.com/cockroachdb/errors"

// Mode is the tri-state setting that controls resource-based routing.
// The zero value, ModeUnset, defers to the process-wide default.
type Mode int8

const (
	// ModeUnset defers to Config.EnvDefault.
	ModeUnset Mode = iota
	// ModeEnabled turns routing on regardless of the environment.
	ModeEnabled
	// ModeDisabled turns routing off regardless of the environment.
	ModeDisabled
)

// ModeFromBool converts an explicit boolean setting into a Mode.
func ModeFromBool(enabled bool) Mode {
	if enabled {
		return ModeEnabled
	}
	return ModeDisabled
}

// Enabled resolves the tri-state. An explicit setting always wins over
// envDefault.
func (m Mode) Enabled(envDefault bool) bool {
	switch m {
	case ModeEnabled:
		return true
	case ModeDisabled:
		return false
	default:
		return envDefault
	}
}

// String implements fmt.Stringer and pflag.Value.
func (m Mode) String() string {
	switch m {
	case ModeEnabled:
		return "true"
	case ModeDisabled:
		return "false"
	default:
		return ""
	}
}

// Set implements pflag.Value. The empty string resets to ModeUnset.
func (m *Mode) Set(s string) error {
	switch s {
	case "true":
		*m = ModeEnabled
	case "false":
		*m = ModeDisabled
	case "":
		*m = ModeUnset
	default:
		return errors.Newf("invalid routing mode %q (expected true or false)", s)
	}
	return nil
}

// Type implements pflag.Value.
func (m *Mode) Type() string {
	return "bool"
}

// MarshalYAML implements yaml.Marshaler.
func (m Mode) MarshalYAML() (interface{}, error) {
	switch m {
	case ModeEnabled:
		return true, nil
	case ModeDisabled:
		return false, nil
	default:
		return nil, nil
	}
}

// UnmarshalYAML implements the yaml.v3 Unmarshaler contract via a decode
// callback so that an absent or null field stays ModeUnset.
func (m *Mode) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var b *bool
	if err := unmarshal(&b); err != nil {
		return errors.Wrap(err, "resource_based_routing must be a boolean")
	}
	if b == nil {
		*m = ModeUnset
		return nil
	}
	*m = ModeFromBool(*b)
	return nil
}
