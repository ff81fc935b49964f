// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package exit defines the process exit codes of spanbatch.
package exit

import "os"

// Code is a process exit code.
type Code struct {
	code int
}

// Int returns the numeric value of the code.
func (c Code) Int() int { return c.code }

// Success (0) represents a normal process termination.
func Success() Code { return Code{0} }

// UnspecifiedError (1) indicates the command failed. The cause is printed
// on stderr.
func UnspecifiedError() Code { return Code{1} }

// Interrupted (3) indicates the process was interrupted with Ctrl+C /
// SIGINT.
func Interrupted() Code { return Code{3} }

// CommandLineFlagError (4) indicates there was an error in the
// command-line parameters or the configuration they point to.
func CommandLineFlagError() Code { return Code{4} }

// PartitionError (5) indicates a partition could not be decoded or
// executed.
func PartitionError() Code { return Code{5} }

// WithCode terminates the process with the given code.
func WithCode(c Code) {
	os.Exit(c.code)
}
