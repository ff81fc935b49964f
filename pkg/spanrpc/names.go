// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package spanrpc

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// InstancePath returns the resource name of an instance.
func InstancePath(project, instance string) string {
	return fmt.Sprintf("projects/%s/instances/%s", project, instance)
}

// DatabasePath returns the resource name of a database.
func DatabasePath(project, instance, database string) string {
	return fmt.Sprintf("projects/%s/instances/%s/databases/%s", project, instance, database)
}

// SessionName is a parsed session resource name.
type SessionName struct {
	Project, Instance, Database, Session string
}

// DatabasePath returns the name of the database the session belongs to.
func (n SessionName) DatabasePath() string {
	return DatabasePath(n.Project, n.Instance, n.Database)
}

// InstancePath returns the name of the instance the session belongs to.
func (n SessionName) InstancePath() string {
	return InstancePath(n.Project, n.Instance)
}

func (n SessionName) String() string {
	return n.DatabasePath() + "/sessions/" + n.Session
}

// ParseSessionPath parses
// "projects/<p>/instances/<i>/databases/<d>/sessions/<s>".
func ParseSessionPath(path string) (SessionName, error) {
	parts := strings.Split(path, "/")
	if len(parts) != 8 ||
		parts[0] != "projects" || parts[2] != "instances" ||
		parts[4] != "databases" || parts[6] != "sessions" {
		return SessionName{}, errors.Newf("malformed session name %q", path)
	}
	n := SessionName{Project: parts[1], Instance: parts[3], Database: parts[5], Session: parts[7]}
	for _, s := range []string{n.Project, n.Instance, n.Database, n.Session} {
		if s == "" {
			return SessionName{}, errors.Newf("malformed session name %q", path)
		}
	}
	return n, nil
}

// databaseOfSession returns the database prefix of a session name, or the
// empty string if the name does not contain one.
func databaseOfSession(session string) string {
	if i := strings.Index(session, "/sessions/"); i > 0 {
		return session[:i]
	}
	return ""
}
