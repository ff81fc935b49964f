// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package batch

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// BatchTransactionID identifies a read-only transaction at a fixed
// timestamp within a session. It is all another process needs to join the
// same snapshot, see Client.LoadBatchSnapshot.
//
// A BatchTransactionID is immutable; the zero value identifies nothing.
type BatchTransactionID struct {
	session   string
	txnID     []byte
	timestamp time.Time
}

// MakeBatchTransactionID constructs a BatchTransactionID. The timestamp is
// stored in UTC.
func MakeBatchTransactionID(
	session string, txnID []byte, timestamp time.Time,
) (BatchTransactionID, error) {
	if session == "" {
		return BatchTransactionID{}, errors.New("batch transaction id must have a session path")
	}
	return BatchTransactionID{
		session:   session,
		txnID:     append([]byte(nil), txnID...),
		timestamp: timestamp.UTC(),
	}, nil
}

// SessionPath returns the full resource name of the session.
func (id BatchTransactionID) SessionPath() string { return id.session }

// TransactionID returns a copy of the server-issued transaction id.
func (id BatchTransactionID) TransactionID() []byte {
	return append([]byte(nil), id.txnID...)
}

// Timestamp returns the read timestamp of the snapshot.
func (id BatchTransactionID) Timestamp() time.Time { return id.timestamp }

// Equal returns whether id and other identify the same snapshot.
func (id BatchTransactionID) Equal(other BatchTransactionID) bool {
	return id.session == other.session &&
		bytes.Equal(id.txnID, other.txnID) &&
		id.timestamp.Equal(other.timestamp)
}

func (id BatchTransactionID) String() string {
	return id.session + "@" + id.timestamp.Format(time.RFC3339Nano)
}

// txnIDJSON is the transport form. []byte is base64 encoded and time.Time
// is RFC 3339 with nanoseconds.
type txnIDJSON struct {
	Session       string    `json:"session"`
	TransactionID []byte    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler.
func (id BatchTransactionID) MarshalJSON() ([]byte, error) {
	return json.Marshal(txnIDJSON{
		Session:       id.session,
		TransactionID: id.txnID,
		Timestamp:     id.timestamp,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *BatchTransactionID) UnmarshalJSON(data []byte) error {
	var w txnIDJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Wrap(err, "decoding batch transaction id")
	}
	decoded, err := MakeBatchTransactionID(w.Session, w.TransactionID, w.Timestamp)
	if err != nil {
		return errors.Wrap(err, "decoding batch transaction id")
	}
	*id = decoded
	return nil
}

// Encode returns the JSON form of id as a string.
func (id BatchTransactionID) Encode() (string, error) {
	b, err := id.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeBatchTransactionID parses the output of Encode.
func DecodeBatchTransactionID(data string) (BatchTransactionID, error) {
	var id BatchTransactionID
	if err := id.UnmarshalJSON([]byte(data)); err != nil {
		return BatchTransactionID{}, err
	}
	return id, nil
}
