package client

import (
	"context"
	"time"
)

// a record lock held by this client
type Lock struct {
	client     *Client
	recordID   string
	owner      string
	acquiredAt time.Time
}

func (l *Lock) RecordID() string {
	return l.recordID
}

func (l *Lock) AcquiredAt() time.Time {
	return l.acquiredAt
}

func (l *Lock) Release(ctx context.Context) error {
	return l.client.Release(ctx, l.recordID)
}

func (l *Lock) Owner() string {
	return l.owner
}
