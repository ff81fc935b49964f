// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"bytes"
	"io"
	"sync"
	"testing"
)

// TestLogScope captures log output for the duration of a test so that it can
// be asserted on. Use as:
//
//	sc := log.Scope(t)
//	defer sc.Close(t)
type TestLogScope struct {
	prev io.Writer
	mu   sync.Mutex
	buf  bytes.Buffer
}

// Scope redirects log output into an in-memory buffer.
func Scope(t testing.TB) *TestLogScope {
	t.Helper()
	sc := &TestLogScope{}
	sc.prev = SetOutput(sc)
	return sc
}

func (sc *TestLogScope) Write(p []byte) (int, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.buf.Write(p)
}

// Contents returns everything logged since the scope was opened.
func (sc *TestLogScope) Contents() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.buf.String()
}

// Close restores the previous output. If the test failed, the captured
// output is printed with t.Log.
func (sc *TestLogScope) Close(t testing.TB) {
	t.Helper()
	SetOutput(sc.prev)
	if t.Failed() {
		t.Log(sc.Contents())
	}
}
