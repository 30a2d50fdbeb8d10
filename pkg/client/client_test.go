package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/pixperk/rolodex/pkg/client"
	"github.com/pixperk/rolodex/pkg/hub"
	"github.com/pixperk/rolodex/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextEvent(t *testing.T, c *client.Client, want types.EventType) *types.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", want)
			return nil
		}
	}
}

func TestAcquireAndRelease(t *testing.T) {
	env := newTestEnv(t, hub.Config{})
	rec := env.record("Ada")
	ctx := context.Background()

	alice := env.client("alice")
	bob := env.client("bob")

	l, err := alice.Acquire(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", l.Owner())
	assert.Equal(t, rec.ID, l.RecordID())
	assert.False(t, l.AcquiredAt().IsZero())

	granted := nextEvent(t, bob, types.EventLockGranted)
	assert.Equal(t, "alice", granted.Owner)

	_, err = bob.Acquire(ctx, rec.ID)
	require.ErrorIs(t, err, types.ErrLockConflict)
	conflict, ok := types.AsLockConflict(err)
	require.True(t, ok)
	assert.Equal(t, "alice", conflict.Owner)

	err = bob.Release(ctx, rec.ID)
	assert.ErrorIs(t, err, types.ErrNotOwner)

	require.NoError(t, l.Release(ctx))
	released := nextEvent(t, bob, types.EventLockReleased)
	assert.Equal(t, rec.ID, released.RecordID)

	_, err = bob.Acquire(ctx, rec.ID)
	require.NoError(t, err)
}

func TestNotifyRelays(t *testing.T) {
	env := newTestEnv(t, hub.Config{})
	rec := env.record("Ada")

	alice := env.client("alice")
	bob := env.client("bob")

	rec.Name = "Ada Lovelace"
	require.NoError(t, alice.NotifyUpdated(rec))
	changed := nextEvent(t, bob, types.EventRecordChanged)
	assert.Equal(t, "Ada Lovelace", changed.Record.Name)

	require.NoError(t, alice.NotifyDeleted(rec.ID))
	removed := nextEvent(t, bob, types.EventRecordRemoved)
	assert.Equal(t, rec.ID, removed.RecordID)
}

func TestStopReleasesLocks(t *testing.T) {
	env := newTestEnv(t, hub.Config{})
	rec := env.record("Ada")
	ctx := context.Background()

	alice := env.client("alice")
	bob := env.client("bob")

	_, err := alice.Acquire(ctx, rec.ID)
	require.NoError(t, err)

	require.NoError(t, alice.Stop())
	released := nextEvent(t, bob, types.EventLockReleased)
	assert.Equal(t, rec.ID, released.RecordID)

	assert.ErrorIs(t, alice.RequestLock(rec.ID), client.ErrClosed)
}

func TestClientStatus(t *testing.T) {
	env := newTestEnv(t, hub.Config{})
	env.record("Ada")
	c := env.client("alice")

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(1), st["records"])
	assert.Equal(t, false, st["replicated"])
}
