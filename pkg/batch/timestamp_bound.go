// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package batch

import (
	"time"

	"cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// TimestampBound chooses the read timestamp of a new batch snapshot. At
// most one field may be set; the zero value is a strong read.
type TimestampBound struct {
	// Strong reads at a timestamp where all previously committed
	// transactions are visible.
	Strong bool
	// ReadTimestamp reads at exactly this timestamp.
	ReadTimestamp time.Time
	// ExactStaleness reads at exactly this long before now.
	ExactStaleness time.Duration
}

// Validate checks that at most one bound is given.
func (b TimestampBound) Validate() error {
	n := 0
	if b.Strong {
		n++
	}
	if !b.ReadTimestamp.IsZero() {
		n++
	}
	if b.ExactStaleness != 0 {
		n++
	}
	if n > 1 {
		return errors.New("can only provide one of strong, read timestamp or exact staleness")
	}
	if b.ExactStaleness < 0 {
		return errors.Newf("exact staleness must not be negative: %s", b.ExactStaleness)
	}
	return nil
}

func (b TimestampBound) String() string {
	switch {
	case !b.ReadTimestamp.IsZero():
		return "read_timestamp=" + b.ReadTimestamp.UTC().Format(time.RFC3339Nano)
	case b.ExactStaleness != 0:
		return "exact_staleness=" + b.ExactStaleness.String()
	default:
		return "strong"
	}
}

// readOnly returns the read-only transaction options for b. The server is
// always asked to return the chosen timestamp since it becomes part of the
// BatchTransactionID.
func (b TimestampBound) readOnly() *spannerpb.TransactionOptions_ReadOnly {
	ro := &spannerpb.TransactionOptions_ReadOnly{ReturnReadTimestamp: true}
	switch {
	case !b.ReadTimestamp.IsZero():
		ro.TimestampBound = &spannerpb.TransactionOptions_ReadOnly_ReadTimestamp{
			ReadTimestamp: timestamppb.New(b.ReadTimestamp),
		}
	case b.ExactStaleness != 0:
		ro.TimestampBound = &spannerpb.TransactionOptions_ReadOnly_ExactStaleness{
			ExactStaleness: durationpb.New(b.ExactStaleness),
		}
	default:
		ro.TimestampBound = &spannerpb.TransactionOptions_ReadOnly_Strong{Strong: true}
	}
	return ro
}
