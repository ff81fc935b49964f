// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package batch

import (
	"io"

	"cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spannerbatch/pkg/spanrpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Row is one result row. Values are in the order of Fields.
type Row struct {
	Fields []*spannerpb.StructType_Field
	Values []*structpb.Value
}

// ColumnNames returns the names of the row's columns.
func (r *Row) ColumnNames() []string {
	names := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		names[i] = f.GetName()
	}
	return names
}

// AsMap returns the row keyed by column name, with values converted by
// structpb.Value.AsInterface.
func (r *Row) AsMap() map[string]interface{} {
	m := make(map[string]interface{}, len(r.Values))
	for i, v := range r.Values {
		m[r.Fields[i].GetName()] = v.AsInterface()
	}
	return m
}

// RowIterator assembles rows from a stream of partial result sets.
//
// A value may be split across two consecutive result sets, in which case
// the first one has chunked_value set. Strings are concatenated; lists are
// concatenated with their boundary elements merged recursively when those
// are themselves strings or lists.
type RowIterator struct {
	stream   spanrpc.ResultStream
	metadata *spannerpb.ResultSetMetadata
	stats    *spannerpb.ResultSetStats

	pending []*structpb.Value
	chunked bool
	rows    []*Row
	err     error
}

func newRowIterator(stream spanrpc.ResultStream) *RowIterator {
	return &RowIterator{stream: stream}
}

// Next returns the next row, or io.EOF once the stream is exhausted.
func (it *RowIterator) Next() (*Row, error) {
	for len(it.rows) == 0 {
		if it.err != nil {
			return nil, it.err
		}
		prs, err := it.stream.Recv()
		if err == io.EOF {
			if len(it.pending) > 0 {
				it.err = errors.Newf("result stream ended inside a row (%d trailing values)", len(it.pending))
			} else {
				it.err = io.EOF
			}
			continue
		}
		if err != nil {
			it.err = err
			continue
		}
		if err := it.add(prs); err != nil {
			it.err = err
		}
	}
	r := it.rows[0]
	it.rows = it.rows[1:]
	return r, nil
}

// Do calls f for every remaining row. It stops at the first error and
// returns it; it returns nil once the stream is exhausted.
func (it *RowIterator) Do(f func(*Row) error) error {
	for {
		r, err := it.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := f(r); err != nil {
			return err
		}
	}
}

// Metadata returns the result metadata, available once the first row has
// been returned.
func (it *RowIterator) Metadata() *spannerpb.ResultSetMetadata { return it.metadata }

// Stats returns the result statistics, if the server sent any.
func (it *RowIterator) Stats() *spannerpb.ResultSetStats { return it.stats }

func (it *RowIterator) add(prs *spannerpb.PartialResultSet) error {
	if it.metadata == nil && prs.GetMetadata() != nil {
		it.metadata = prs.GetMetadata()
	}
	if prs.GetStats() != nil {
		it.stats = prs.GetStats()
	}
	vals := prs.GetValues()
	if len(vals) == 0 {
		return nil
	}
	fields := it.metadata.GetRowType().GetFields()
	if len(fields) == 0 {
		return errors.New("result values received before row metadata")
	}
	if it.chunked {
		last := len(it.pending) - 1
		merged, err := mergeChunk(it.pending[last], vals[0])
		if err != nil {
			return err
		}
		it.pending[last] = merged
		vals = vals[1:]
	}
	it.pending = append(it.pending, vals...)
	it.chunked = prs.GetChunkedValue()

	complete := len(it.pending)
	if it.chunked {
		complete--
	}
	n := len(fields)
	for complete >= n {
		it.rows = append(it.rows, &Row{Fields: fields, Values: it.pending[:n:n]})
		it.pending = it.pending[n:]
		complete -= n
	}
	return nil
}

// mergeChunk joins the two halves of a chunked value.
func mergeChunk(a, b *structpb.Value) (*structpb.Value, error) {
	switch av := a.GetKind().(type) {
	case *structpb.Value_StringValue:
		bv, ok := b.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, errors.Newf("cannot merge chunked string with %T", b.GetKind())
		}
		return structpb.NewStringValue(av.StringValue + bv.StringValue), nil

	case *structpb.Value_ListValue:
		bv, ok := b.GetKind().(*structpb.Value_ListValue)
		if !ok {
			return nil, errors.Newf("cannot merge chunked list with %T", b.GetKind())
		}
		al, bl := av.ListValue.GetValues(), bv.ListValue.GetValues()
		if len(al) == 0 {
			return b, nil
		}
		if len(bl) == 0 {
			return a, nil
		}
		merged := make([]*structpb.Value, 0, len(al)+len(bl))
		merged = append(merged, al[:len(al)-1]...)
		last, first := al[len(al)-1], bl[0]
		if mergeable(last) {
			m, err := mergeChunk(last, first)
			if err != nil {
				return nil, err
			}
			merged = append(merged, m)
		} else {
			merged = append(merged, last, first)
		}
		merged = append(merged, bl[1:]...)
		return structpb.NewListValue(&structpb.ListValue{Values: merged}), nil

	default:
		return nil, errors.Newf("cannot merge chunked value of type %T", a.GetKind())
	}
}

func mergeable(v *structpb.Value) bool {
	switch v.GetKind().(type) {
	case *structpb.Value_StringValue, *structpb.Value_ListValue:
		return true
	default:
		return false
	}
}
