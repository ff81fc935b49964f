// Copyright 2015 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
	"github.com/sirupsen/logrus"
)

// FormatWithContextTags formats the string and prepends the context
// tags.
//
// Redaction markers are *not* inserted. The resulting
// string is generally unsafe for reporting.
func FormatWithContextTags(ctx context.Context, format string, args ...interface{}) string {
	var buf strings.Builder
	formatTags(ctx, &buf)
	buf.WriteString(redact.Sprintf(format, args...).StripMarkers())
	return buf.String()
}

// formatTags renders the context's log tags as "[k=v,k2] ".
func formatTags(ctx context.Context, buf *strings.Builder) {
	tags := logtags.FromContext(ctx)
	if tags == nil {
		return
	}
	buf.WriteByte('[')
	for i, t := range tags.Get() {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(t.Key())
		if v := t.Value(); v != nil {
			buf.WriteByte('=')
			fmt.Fprint(buf, v)
		}
	}
	buf.WriteString("] ")
}

// addStructured creates a structured log entry and hands it to the logrus
// logger. Each context tag is also attached as a logrus field so that JSON
// formatters can index on them.
func addStructured(
	ctx context.Context, sev Severity, depth int, format string, args []interface{},
) {
	msg := FormatWithContextTags(ctx, format, args...)
	entry := logrus.NewEntry(logging.logger)
	if tags := logtags.FromContext(ctx); tags != nil {
		fields := make(logrus.Fields, len(tags.Get()))
		for _, t := range tags.Get() {
			fields[t.Key()] = t.ValueStr()
		}
		entry = entry.WithFields(fields)
	}
	entry.Log(sev.logrusLevel(), msg)
}
