package hub

import (
	"context"
	"testing"
	"time"

	"github.com/pixperk/rolodex/pkg/lock"
	"github.com/pixperk/rolodex/pkg/session"
	"github.com/pixperk/rolodex/pkg/storage"
	rtime "github.com/pixperk/rolodex/pkg/time"
	"github.com/pixperk/rolodex/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	hub   *Hub
	coord *lock.Coordinator
	clock *rtime.ManualClock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	clock := rtime.NewManualClock(t0)
	coord := lock.NewCoordinator(lock.Config{Store: store, Clock: clock})
	cfg.Clock = clock

	h := New(coord, session.NewRegistry(), cfg)
	t.Cleanup(h.Close)
	return &fixture{hub: h, coord: coord, clock: clock}
}

func (f *fixture) record(t *testing.T, name string) *types.Record {
	t.Helper()
	rec, err := f.coord.Create(context.Background(), types.Fields{Name: name, Phone: "555", Address: "Main St"})
	require.NoError(t, err)
	return rec
}

func (f *fixture) connect(t *testing.T, identity string) *Peer {
	t.Helper()
	p := f.hub.Register()
	if identity != "" {
		f.send(p, &types.Event{Type: types.EventIdentify, Identity: identity})
	}
	return p
}

func (f *fixture) send(p *Peer, ev *types.Event) {
	f.hub.Handle(context.Background(), p.ID, ev)
}

func next(t *testing.T, p *Peer) *types.Event {
	t.Helper()
	select {
	case ev := <-p.Outbound():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("peer %s: no event", p.ID)
		return nil
	}
}

func assertQuiet(t *testing.T, p *Peer) {
	t.Helper()
	select {
	case ev := <-p.Outbound():
		t.Fatalf("peer %s: unexpected %s event", p.ID, ev.Type)
	default:
	}
}

func TestLockBroadcastExcludesRequester(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.record(t, "Ada")
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.send(alice, &types.Event{Type: types.EventRequestLock, RecordID: rec.ID})

	reply := next(t, alice)
	assert.Equal(t, types.EventLockSucceeded, reply.Type)
	assert.Equal(t, "alice", reply.Owner)
	assertQuiet(t, alice)

	granted := next(t, bob)
	assert.Equal(t, types.EventLockGranted, granted.Type)
	assert.Equal(t, rec.ID, granted.RecordID)
	assert.Equal(t, "alice", granted.Owner)
	require.NotNil(t, granted.AcquiredAt)
	assert.Equal(t, t0, *granted.AcquiredAt)
}

func TestLockConflictRepliesOnlyToRequester(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.record(t, "Ada")
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.send(alice, &types.Event{Type: types.EventRequestLock, RecordID: rec.ID})
	next(t, alice)
	next(t, bob)

	f.send(bob, &types.Event{Type: types.EventRequestLock, RecordID: rec.ID})

	failed := next(t, bob)
	assert.Equal(t, types.EventLockFailed, failed.Type)
	assert.Equal(t, "alice", failed.Owner)
	assert.Equal(t, types.ErrLockConflict.Error(), failed.Reason)
	assertQuiet(t, alice)
}

func TestUnlockBroadcastIncludesRequester(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.record(t, "Ada")
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.send(alice, &types.Event{Type: types.EventRequestLock, RecordID: rec.ID})
	next(t, alice)
	next(t, bob)

	// only the owner may release
	f.send(bob, &types.Event{Type: types.EventRequestUnlock, RecordID: rec.ID})
	assert.Equal(t, types.EventUnlockFailed, next(t, bob).Type)
	assertQuiet(t, alice)

	f.send(alice, &types.Event{Type: types.EventRequestUnlock, RecordID: rec.ID})
	assert.Equal(t, types.EventLockReleased, next(t, alice).Type)
	assert.Equal(t, types.EventUnlockSucceeded, next(t, alice).Type)

	released := next(t, bob)
	assert.Equal(t, types.EventLockReleased, released.Type)
	assert.Equal(t, rec.ID, released.RecordID)
}

func TestUnidentifiedPeerIsRejected(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.record(t, "Ada")
	anon := f.connect(t, "")
	watcher := f.connect(t, "bob")

	f.send(anon, &types.Event{Type: types.EventRequestLock, RecordID: rec.ID})
	failed := next(t, anon)
	assert.Equal(t, types.EventLockFailed, failed.Type)
	assert.Equal(t, errIdentifyFirst.Error(), failed.Reason)

	f.send(anon, &types.Event{Type: types.EventRequestUnlock, RecordID: rec.ID})
	assert.Equal(t, types.EventUnlockFailed, next(t, anon).Type)

	f.send(anon, &types.Event{Type: types.EventNotifyDeleted, RecordID: rec.ID})
	assert.Equal(t, types.EventRejected, next(t, anon).Type)

	assertQuiet(t, watcher)

	got, err := f.coord.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.False(t, got.IsLocked())
}

func TestIdentityIsImmutable(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.record(t, "Ada")
	alice := f.connect(t, "alice")

	// same identity again is a no-op
	f.send(alice, &types.Event{Type: types.EventIdentify, Identity: "alice"})
	assertQuiet(t, alice)

	f.send(alice, &types.Event{Type: types.EventIdentify, Identity: "mallory"})
	assert.Equal(t, types.EventRejected, next(t, alice).Type)

	// a payload identity that disagrees with the session is refused
	f.send(alice, &types.Event{Type: types.EventRequestLock, RecordID: rec.ID, Identity: "mallory"})
	failed := next(t, alice)
	assert.Equal(t, types.EventLockFailed, failed.Type)
	assert.Equal(t, errIdentityMismatch.Error(), failed.Reason)
}

func TestDisconnectReleasesOncePerRecord(t *testing.T) {
	f := newFixture(t, Config{})
	r1 := f.record(t, "One")
	r2 := f.record(t, "Two")
	r3 := f.record(t, "Three")

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	for _, id := range []string{r1.ID, r2.ID} {
		f.send(alice, &types.Event{Type: types.EventRequestLock, RecordID: id})
		next(t, alice)
		next(t, bob)
	}
	f.send(bob, &types.Event{Type: types.EventRequestLock, RecordID: r3.ID})
	next(t, bob)
	next(t, alice)

	f.hub.Disconnect(context.Background(), alice.ID)
	f.hub.Disconnect(context.Background(), alice.ID)

	got := map[string]int{}
	for i := 0; i < 2; i++ {
		ev := next(t, bob)
		require.Equal(t, types.EventLockReleased, ev.Type)
		got[ev.RecordID]++
	}
	assert.Equal(t, map[string]int{r1.ID: 1, r2.ID: 1}, got)
	assertQuiet(t, bob)

	rec, err := f.coord.Get(context.Background(), r3.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", rec.LockOwner())

	select {
	case <-alice.Done():
	default:
		t.Fatal("disconnected peer should be closed")
	}
	assert.Equal(t, 1, f.hub.Stats().Peers)
}

func TestRelaysGoToOthers(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.record(t, "Ada")
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	updated := rec.Clone()
	updated.Name = "Ada Lovelace"
	f.send(alice, &types.Event{Type: types.EventNotifyUpdated, Record: updated})

	changed := next(t, bob)
	assert.Equal(t, types.EventRecordChanged, changed.Type)
	assert.Equal(t, "Ada Lovelace", changed.Record.Name)
	assertQuiet(t, alice)

	f.send(alice, &types.Event{Type: types.EventNotifyDeleted, RecordID: rec.ID})
	removed := next(t, bob)
	assert.Equal(t, types.EventRecordRemoved, removed.Type)
	assert.Equal(t, rec.ID, removed.RecordID)
	assertQuiet(t, alice)
}

func TestVerifiedRelays(t *testing.T) {
	f := newFixture(t, Config{VerifyRelays: true})
	rec := f.record(t, "Ada")
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.send(alice, &types.Event{Type: types.EventRequestLock, RecordID: rec.ID})
	next(t, alice)
	next(t, bob)

	// bob claims an edit on a record alice holds
	forged := rec.Clone()
	forged.Name = "forged"
	f.send(bob, &types.Event{Type: types.EventNotifyUpdated, Record: forged})
	assert.Equal(t, types.EventRejected, next(t, bob).Type)
	assertQuiet(t, alice)

	// the record still exists, so a delete relay is refused
	f.send(bob, &types.Event{Type: types.EventNotifyDeleted, RecordID: rec.ID})
	assert.Equal(t, types.EventRejected, next(t, bob).Type)

	// alice's relay is accepted and peers see the stored copy
	f.send(alice, &types.Event{Type: types.EventNotifyUpdated, Record: forged})
	changed := next(t, bob)
	assert.Equal(t, types.EventRecordChanged, changed.Type)
	assert.Equal(t, "Ada", changed.Record.Name)

	require.NoError(t, f.coord.DeleteIfOwnerOrUnlocked(context.Background(), rec.ID, "alice"))
	f.send(alice, &types.Event{Type: types.EventNotifyDeleted, RecordID: rec.ID})
	assert.Equal(t, types.EventRecordRemoved, next(t, bob).Type)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{EventsPerSecond: 0.001, EventBurst: 2})
	rec := f.record(t, "Ada")
	alice := f.connect(t, "alice") // identify spends one token

	f.send(alice, &types.Event{Type: types.EventRequestLock, RecordID: rec.ID})
	assert.Equal(t, types.EventLockSucceeded, next(t, alice).Type)

	f.send(alice, &types.Event{Type: types.EventRequestUnlock, RecordID: rec.ID})
	limited := next(t, alice)
	assert.Equal(t, types.EventUnlockFailed, limited.Type)
	assert.Equal(t, errRateLimited.Error(), limited.Reason)
}

func TestSlowPeerIsEvicted(t *testing.T) {
	f := newFixture(t, Config{OutboundBuffer: 2})
	held := f.record(t, "Held")
	other := f.record(t, "Other")

	slow := f.connect(t, "slow")
	fast := f.connect(t, "fast")

	f.send(slow, &types.Event{Type: types.EventRequestLock, RecordID: held.ID})
	next(t, slow)
	next(t, fast)

	// slow stops reading; each round queues more for it
	f.send(fast, &types.Event{Type: types.EventRequestLock, RecordID: other.ID})
	next(t, fast)
	f.send(fast, &types.Event{Type: types.EventRequestUnlock, RecordID: other.ID})
	next(t, fast)
	next(t, fast)
	f.send(fast, &types.Event{Type: types.EventRequestLock, RecordID: other.ID})

	select {
	case <-slow.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow peer was not evicted")
	}

	// eviction runs disconnect cleanup, which may land before or after the reply
	seen := map[types.EventType]string{}
	for i := 0; i < 2; i++ {
		ev := next(t, fast)
		seen[ev.Type] = ev.RecordID
	}
	assert.Equal(t, other.ID, seen[types.EventLockSucceeded])
	assert.Equal(t, held.ID, seen[types.EventLockReleased])
}

func TestReapStaleLocks(t *testing.T) {
	f := newFixture(t, Config{MaxLockAge: 5 * time.Minute})
	rec := f.record(t, "Ada")
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.send(alice, &types.Event{Type: types.EventRequestLock, RecordID: rec.ID})
	next(t, alice)
	next(t, bob)

	assert.Empty(t, f.hub.Reap(context.Background()))

	f.clock.Advance(6 * time.Minute)
	assert.Equal(t, []string{rec.ID}, f.hub.Reap(context.Background()))

	assert.Equal(t, types.EventLockReleased, next(t, alice).Type)
	assert.Equal(t, types.EventLockReleased, next(t, bob).Type)
}

func TestReaperDisabledByDefault(t *testing.T) {
	f := newFixture(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// returns at once rather than blocking on ctx
	assert.NoError(t, f.hub.RunReaper(ctx))
}
