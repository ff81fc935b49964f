// Copyright 2014 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/logtags"
	"github.com/stretchr/testify/require"
)

func TestFormatWithContextTags(t *testing.T) {
	ctx := context.Background()
	require.Equal(t, "hello 1", FormatWithContextTags(ctx, "hello %d", 1))

	ctx = logtags.AddTag(ctx, "worker", 3)
	ctx = logtags.AddTag(ctx, "batch", nil)
	require.Equal(t, "[worker=3,batch] partition foo", FormatWithContextTags(ctx, "partition %s", "foo"))
}

func TestLogSeverities(t *testing.T) {
	sc := Scope(t)
	defer sc.Close(t)

	ctx := logtags.AddTag(context.Background(), "instance", "i1")
	Infof(ctx, "info %d", 1)
	Warningf(ctx, "missing %s", "permission")
	Errorf(ctx, "boom")

	out := sc.Contents()
	require.Contains(t, out, "level=info")
	require.Contains(t, out, "[instance=i1] info 1")
	require.Contains(t, out, "level=warning")
	require.Contains(t, out, "missing permission")
	require.Contains(t, out, "level=error")
	require.Contains(t, out, "instance=i1")
}

func TestVEventf(t *testing.T) {
	sc := Scope(t)
	defer sc.Close(t)
	defer SetVerbosity(0)

	ctx := context.Background()
	VEventf(ctx, 2, "hidden")
	require.NotContains(t, sc.Contents(), "hidden")

	SetVerbosity(2)
	require.True(t, V(2))
	VEventf(ctx, 2, "shown")
	require.Contains(t, sc.Contents(), "shown")
}

func TestEveryN(t *testing.T) {
	e := Every(time.Minute)
	now := time.Now()
	require.True(t, e.shouldLog(now))
	require.False(t, e.shouldLog(now.Add(time.Second)))
	require.True(t, e.shouldLog(now.Add(time.Minute)))
}

func TestStdLogger(t *testing.T) {
	sc := Scope(t)
	defer sc.Close(t)

	l := NewStdLogger(SeverityWarning, "http:")
	l.Printf("TLS handshake error")
	require.Contains(t, sc.Contents(), "http: TLS handshake error")
	require.Contains(t, sc.Contents(), "level=warning")
}
