// Copyright 2014 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package log implements context-aware leveled logging. Every call takes a
// context.Context whose logtags are rendered in front of the message, e.g.
//
//	ctx = logtags.AddTag(ctx, "worker", 3)
//	log.Infof(ctx, "executing partition %d", i)
//
// prints "[worker=3] executing partition 0". Output goes through a logrus
// logger which callers can reconfigure with SetOutput and SetFormatter.
package log

import (
	"context"
	"io"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Severity identifies the importance of a log entry.
type Severity int32

// Severities, from least to most important.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (s Severity) logrusLevel() logrus.Level {
	switch s {
	case SeverityWarning:
		return logrus.WarnLevel
	case SeverityError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

var logging = struct {
	logger    *logrus.Logger
	verbosity atomic.Int32
}{
	logger: newLogger(os.Stderr),
}

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetOutput redirects all log output to w and returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	prev := logging.logger.Out
	logging.logger.SetOutput(w)
	return prev
}

// SetFormatter replaces the logrus formatter, e.g. with &logrus.JSONFormatter{}.
func SetFormatter(f logrus.Formatter) {
	logging.logger.SetFormatter(f)
}

// SetVerbosity sets the level below which VEventf messages are logged.
func SetVerbosity(level int32) {
	logging.verbosity.Store(level)
}

// V returns true if the logging verbosity is set to the specified level or
// higher.
func V(level int32) bool {
	return logging.verbosity.Load() >= level
}

// Infof logs to the INFO log. Arguments are handled in the manner of
// fmt.Printf.
func Infof(ctx context.Context, format string, args ...interface{}) {
	addStructured(ctx, SeverityInfo, 1, format, args)
}

// Warningf logs to the WARNING log.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	addStructured(ctx, SeverityWarning, 1, format, args)
}

// Errorf logs to the ERROR log.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	addStructured(ctx, SeverityError, 1, format, args)
}

// VEventf logs at INFO if the verbosity is at least level.
func VEventf(ctx context.Context, level int32, format string, args ...interface{}) {
	if V(level) {
		addStructured(ctx, SeverityInfo, 1, format, args)
	}
}
