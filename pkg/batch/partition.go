// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package batch

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/proto"
)

// ErrMalformedPartition marks errors decoding a serialized partition.
var ErrMalformedPartition = errors.New("malformed partition")

// ErrEmptyPartition is returned when executing a partition that carries
// neither a query nor a read.
var ErrEmptyPartition = errors.New("cannot execute an empty partition")

// PartitionKind discriminates the Partition implementations.
type PartitionKind int

const (
	// PartitionKindEmpty is a partition with no work.
	PartitionKindEmpty PartitionKind = iota
	// PartitionKindQuery is a bounded SQL query.
	PartitionKindQuery
	// PartitionKindRead is a bounded table or index read.
	PartitionKindRead
)

func (k PartitionKind) String() string {
	switch k {
	case PartitionKindEmpty:
		return "empty"
	case PartitionKindQuery:
		return "query"
	case PartitionKindRead:
		return "read"
	default:
		return fmt.Sprintf("PartitionKind(%d)", int(k))
	}
}

// Partition is one independently executable share of a partitioned query
// or read. The implementations are QueryPartition, ReadPartition and
// EmptyPartition.
type Partition interface {
	Kind() PartitionKind
	isPartition()
}

// QueryPartition executes Request, which carries the SQL, its parameters
// and the server-issued partition token.
type QueryPartition struct {
	Request *spannerpb.ExecuteSqlRequest
}

// ReadPartition executes Request, which carries the table, index, columns,
// key set and the server-issued partition token.
type ReadPartition struct {
	Request *spannerpb.ReadRequest
}

// EmptyPartition is what decoding "{}" yields. It must not be executed.
type EmptyPartition struct{}

// Kind implements Partition.
func (QueryPartition) Kind() PartitionKind { return PartitionKindQuery }

// Kind implements Partition.
func (ReadPartition) Kind() PartitionKind { return PartitionKindRead }

// Kind implements Partition.
func (EmptyPartition) Kind() PartitionKind { return PartitionKindEmpty }

func (QueryPartition) isPartition() {}
func (ReadPartition) isPartition()  {}
func (EmptyPartition) isPartition() {}

// IsQuery returns whether p is a QueryPartition.
func IsQuery(p Partition) bool { return p != nil && p.Kind() == PartitionKindQuery }

// IsRead returns whether p is a ReadPartition.
func IsRead(p Partition) bool { return p != nil && p.Kind() == PartitionKindRead }

// PartitionsEqual returns whether a and b are the same variant with equal
// payloads.
func PartitionsEqual(a, b Partition) bool {
	switch a := a.(type) {
	case QueryPartition:
		b, ok := b.(QueryPartition)
		return ok && proto.Equal(a.Request, b.Request)
	case ReadPartition:
		b, ok := b.(ReadPartition)
		return ok && proto.Equal(a.Request, b.Request)
	case EmptyPartition:
		_, ok := b.(EmptyPartition)
		return ok
	default:
		return a == nil && b == nil
	}
}

// Envelope keys of the serialized form.
const (
	executeKey = "execute"
	readKey    = "read"
)

var marshalOpts = proto.MarshalOptions{Deterministic: true}

// EncodePartition serializes p as a JSON object with at most one of the
// keys "execute" and "read", whose value is the base64 encoded request.
// An EmptyPartition encodes as "{}".
func EncodePartition(p Partition) (string, error) {
	fields := map[string]string{}
	var payload proto.Message
	var key string
	switch p := p.(type) {
	case QueryPartition:
		if p.Request == nil {
			return "", errors.AssertionFailedf("query partition without a request")
		}
		key, payload = executeKey, p.Request
	case ReadPartition:
		if p.Request == nil {
			return "", errors.AssertionFailedf("read partition without a request")
		}
		key, payload = readKey, p.Request
	case EmptyPartition:
	default:
		return "", errors.AssertionFailedf("unknown partition type %T", p)
	}
	if payload != nil {
		b, err := marshalOpts.Marshal(payload)
		if err != nil {
			return "", errors.Wrapf(err, "encoding %s partition", p.Kind())
		}
		fields[key] = base64.StdEncoding.EncodeToString(b)
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return "", errors.Wrap(err, "encoding partition")
	}
	return string(out), nil
}

func malformedf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrMalformedPartition)
}

func markMalformed(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrMalformedPartition)
}

// DecodePartition parses the output of EncodePartition. Keys other than
// "execute" and "read" are ignored.
func DecodePartition(data string) (Partition, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, markMalformed(err, "decoding partition envelope")
	}
	if raw == nil {
		return nil, malformedf("partition envelope is not an object")
	}
	fields := make(map[string]string, 2)
	for _, key := range []string{executeKey, readKey} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return nil, malformedf("partition field %q is null", key)
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, markMalformed(err, fmt.Sprintf("partition field %q", key))
		}
		fields[key] = s
	}
	return DecodePartitionFields(fields)
}

// DecodePartitionFields decodes an already parsed envelope. A map with
// neither "execute" nor "read" decodes to EmptyPartition. A map with both is
// ambiguous and rejected.
func DecodePartitionFields(fields map[string]string) (Partition, error) {
	execute, hasExecute := fields[executeKey]
	read, hasRead := fields[readKey]
	switch {
	case hasExecute && hasRead:
		return nil, malformedf("partition has both %q and %q", executeKey, readKey)
	case hasExecute:
		req := &spannerpb.ExecuteSqlRequest{}
		if err := decodePayload(execute, req); err != nil {
			return nil, markMalformed(err, "decoding query partition")
		}
		return QueryPartition{Request: req}, nil
	case hasRead:
		req := &spannerpb.ReadRequest{}
		if err := decodePayload(read, req); err != nil {
			return nil, markMalformed(err, "decoding read partition")
		}
		return ReadPartition{Request: req}, nil
	default:
		return EmptyPartition{}, nil
	}
}

func decodePayload(s string, m proto.Message) error {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	return proto.Unmarshal(b, m)
}
