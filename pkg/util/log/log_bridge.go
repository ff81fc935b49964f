// Copyright 2019 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"bytes"
	"context"
	stdLog "log"
	"strings"
)

// NewStdLogger creates a *stdLog.Logger that forwards messages to this
// package's output with the specified severity. It is handed to standard
// library servers (e.g. http.Server.ErrorLog).
func NewStdLogger(severity Severity, prefix string) *stdLog.Logger {
	if prefix != "" && !strings.HasSuffix(prefix, " ") {
		prefix += " "
	}
	return stdLog.New(logBridge(severity), prefix, 0)
}

// logBridge provides the Write method that connects a standard logger to
// this package.
type logBridge Severity

// Write passes one standard log line on as a structured entry.
func (lb logBridge) Write(b []byte) (n int, err error) {
	msg := string(bytes.TrimSpace(b))
	if msg == "" {
		return len(b), nil
	}
	addStructured(context.Background(), Severity(lb), 2, "%s", []interface{}{msg})
	return len(b), nil
}
