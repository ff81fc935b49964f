// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package batch runs large reads and queries as many independent
// partitions that observe one consistent snapshot.
//
// A coordinator opens a BatchSnapshot, partitions a query or read, and
// hands the encoded BatchTransactionID and partitions to workers. Each
// worker calls Client.LoadBatchSnapshot with the id and executes its
// partitions. All of them read at the snapshot's timestamp.
package batch

import (
	"context"

	"cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spannerbatch/pkg/spanrpc"
	"github.com/cockroachdb/spannerbatch/pkg/util/log"
	"github.com/google/uuid"
)

// SessionLabel is the session label carrying the id of the process that
// opened a batch snapshot.
const SessionLabel = "spanbatch-id"

// Client opens and reloads batch snapshots of one database.
type Client struct {
	rpc      spanrpc.Client
	database string
	labels   map[string]string
}

// NewClient returns a Client for database, a full resource name, that sends
// calls through rpc.
func NewClient(rpc spanrpc.Client, database string) *Client {
	return &Client{
		rpc:      rpc,
		database: database,
		labels:   map[string]string{SessionLabel: uuid.New().String()},
	}
}

// Database returns the database the client reads from.
func (c *Client) Database() string { return c.database }

// BatchSnapshot creates a session and begins a read-only transaction in it
// at the given bound. The session lives until BatchSnapshot.Close. If the
// transaction cannot be started the session is deleted again.
func (c *Client) BatchSnapshot(
	ctx context.Context, bound TimestampBound,
) (_ *BatchSnapshot, retErr error) {
	if c == nil || c.rpc == nil {
		return nil, errors.AssertionFailedf("batch client has no rpc client")
	}
	if err := bound.Validate(); err != nil {
		return nil, err
	}
	sess, err := c.rpc.CreateSession(ctx, &spannerpb.CreateSessionRequest{
		Database: c.database,
		Session:  &spannerpb.Session{Labels: c.labels},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating session in %s", c.database)
	}
	defer func() {
		if retErr == nil {
			return
		}
		if err := c.rpc.DeleteSession(ctx, &spannerpb.DeleteSessionRequest{
			Name: sess.GetName(),
		}); err != nil {
			log.Warningf(ctx, "deleting session %s: %v", sess.GetName(), err)
		}
	}()
	txn, err := c.rpc.CreateSnapshot(ctx, sess.GetName(), bound.readOnly())
	if err != nil {
		return nil, errors.Wrapf(err, "beginning %s snapshot", bound)
	}
	if txn.GetReadTimestamp() == nil {
		return nil, errors.AssertionFailedf("snapshot in %s has no read timestamp", sess.GetName())
	}
	id, err := MakeBatchTransactionID(sess.GetName(), txn.GetId(), txn.GetReadTimestamp().AsTime())
	if err != nil {
		return nil, err
	}
	log.VEventf(ctx, 1, "opened batch snapshot %s", id)
	return c.LoadBatchSnapshot(id), nil
}

// LoadBatchSnapshot returns the snapshot identified by id, typically
// opened by another process. No RPC is made.
func (c *Client) LoadBatchSnapshot(id BatchTransactionID) *BatchSnapshot {
	return &BatchSnapshot{client: c, id: id}
}
