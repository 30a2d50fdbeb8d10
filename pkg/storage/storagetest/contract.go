// Package storagetest holds the behavioural suite every storage.RecordStore
// implementation must pass.
package storagetest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pixperk/rolodex/pkg/storage"
	"github.com/pixperk/rolodex/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) storage.RecordStore

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// Run exercises the compare-and-set contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertAndGet", func(t *testing.T) { testInsertAndGet(t, newStore(t)) })
	t.Run("SwapLock", func(t *testing.T) { testSwapLock(t, newStore(t)) })
	t.Run("ReplaceFieldsClearsLock", func(t *testing.T) { testReplaceFields(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("Locked", func(t *testing.T) { testLocked(t, newStore(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("ListFoldsCase", func(t *testing.T) { testListFoldsCase(t, newStore(t)) })
	t.Run("ConcurrentSwapSingleWinner", func(t *testing.T) { testConcurrentSwap(t, newStore(t)) })
}

// Seed inserts a record named name created at base+offset.
func Seed(t *testing.T, s storage.RecordStore, name string, offset time.Duration) *types.Record {
	t.Helper()
	rec := types.NewRecord(types.Fields{
		Name:    name,
		Phone:   "555-0100",
		Address: "1 Main St",
	}, base.Add(offset))
	_, err := s.Insert(context.Background(), rec)
	require.NoError(t, err)
	return rec
}

func lockFor(owner string) *types.Lock {
	return &types.Lock{Owner: owner, AcquiredAt: base.Add(time.Hour)}
}

func testInsertAndGet(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()
	rec := Seed(t, s, "Ada", 0)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, "555-0100", got.Phone)
	assert.Nil(t, got.Lock)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

	_, err = s.Insert(ctx, rec)
	assert.ErrorIs(t, err, types.ErrAlreadyExists)
}

func testSwapLock(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()
	rec := Seed(t, s, "Ada", 0)

	res, err := s.SwapLock(ctx, rec.ID, "", lockFor("alice"))
	require.NoError(t, err)
	assert.Nil(t, res.Previous)
	assert.Equal(t, "alice", res.Record.LockOwner())

	// stale expectation leaves the record untouched
	_, err = s.SwapLock(ctx, rec.ID, "", lockFor("bob"))
	assert.ErrorIs(t, err, types.ErrPreconditionFailed)
	_, err = s.SwapLock(ctx, rec.ID, "bob", nil)
	assert.ErrorIs(t, err, types.ErrPreconditionFailed)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.LockOwner())
	assert.True(t, lockFor("alice").AcquiredAt.Equal(got.Lock.AcquiredAt))

	res, err = s.SwapLock(ctx, rec.ID, "alice", nil)
	require.NoError(t, err)
	require.NotNil(t, res.Previous)
	assert.Equal(t, "alice", res.Previous.Owner)
	assert.Nil(t, res.Record.Lock)
}

func testReplaceFields(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()
	rec := Seed(t, s, "Ada", 0)

	_, err := s.SwapLock(ctx, rec.ID, "", lockFor("alice"))
	require.NoError(t, err)

	fields := types.Fields{Name: "Grace", Phone: "555-0199", Address: "2 Side St", Notes: "n"}

	_, err = s.ReplaceFields(ctx, rec.ID, "", fields, base.Add(2*time.Hour))
	assert.ErrorIs(t, err, types.ErrPreconditionFailed)

	res, err := s.ReplaceFields(ctx, rec.ID, "alice", fields, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "Grace", res.Record.Name)
	assert.Nil(t, res.Record.Lock)
	assert.Equal(t, "alice", res.Previous.Owner)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grace", got.Name)
	assert.Equal(t, "n", got.Notes)
	assert.Nil(t, got.Lock)
	assert.True(t, base.Add(2*time.Hour).Equal(got.UpdatedAt))
}

func testDelete(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()
	rec := Seed(t, s, "Ada", 0)

	_, err := s.SwapLock(ctx, rec.ID, "", lockFor("alice"))
	require.NoError(t, err)

	_, err = s.Delete(ctx, rec.ID, "bob")
	assert.ErrorIs(t, err, types.ErrPreconditionFailed)

	prev, err := s.Delete(ctx, rec.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "alice", prev.Owner)

	_, err = s.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	unlocked := Seed(t, s, "Bea", time.Minute)
	prev, err = s.Delete(ctx, unlocked.ID, "")
	require.NoError(t, err)
	assert.Nil(t, prev)
}

func testNotFound(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = s.SwapLock(ctx, "missing", "", lockFor("alice"))
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = s.ReplaceFields(ctx, "missing", "", types.Fields{}, base)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = s.Delete(ctx, "missing", "")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func testLocked(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()

	owners := []string{"alice", "alice", "", "bob"}
	for i, owner := range owners {
		rec := Seed(t, s, fmt.Sprintf("rec-%d", i), time.Duration(i)*time.Minute)
		if owner == "" {
			continue
		}
		_, err := s.SwapLock(ctx, rec.ID, "", lockFor(owner))
		require.NoError(t, err)
	}

	alice, err := s.Locked(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, alice, 2)
	for _, rec := range alice {
		assert.Equal(t, "alice", rec.LockOwner())
	}

	all, err := s.Locked(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Records)
	assert.Equal(t, 3, stats.Locks)
}

func testList(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		Seed(t, s, fmt.Sprintf("Person %d", i), time.Duration(i)*time.Minute)
	}
	Seed(t, s, "Zed Special", 10*time.Minute)

	page, err := s.List(ctx, types.ListQuery{Page: 1, PageSize: 5})
	require.NoError(t, err)
	assert.Equal(t, 8, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Records, 5)
	assert.Equal(t, "Zed Special", page.Records[0].Name, "newest first")

	page, err = s.List(ctx, types.ListQuery{Page: 2, PageSize: 5})
	require.NoError(t, err)
	assert.Len(t, page.Records, 3)
	assert.Equal(t, 2, page.CurrentPage)

	page, err = s.List(ctx, types.ListQuery{Name: "zed"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "Zed Special", page.Records[0].Name)

	page, err = s.List(ctx, types.ListQuery{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, page.Records)

	page, err = s.List(ctx, types.ListQuery{Page: math.MaxInt, PageSize: 5})
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Equal(t, 8, page.Total)
}

// filters fold case beyond ASCII the same way on every store
func testListFoldsCase(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()

	Seed(t, s, "Élodie Straße", 0)
	Seed(t, s, "Elodie Strasse", time.Minute)
	Seed(t, s, "Zoë", 2*time.Minute)

	page, err := s.List(ctx, types.ListQuery{Name: "élodie"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "Élodie Straße", page.Records[0].Name)

	page, err = s.List(ctx, types.ListQuery{Name: "STRASSE"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total, "ß folds to ss")

	page, err = s.List(ctx, types.ListQuery{Name: "ZOË"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = s.List(ctx, types.ListQuery{Name: "50%_"})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

// concurrent swaps from the same observed state: exactly one may win
func testConcurrentSwap(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()
	rec := Seed(t, s, "Ada", 0)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		failed  int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			owner := fmt.Sprintf("user-%d", idx)
			_, err := s.SwapLock(ctx, rec.ID, "", lockFor(owner))

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, owner)
				return
			}
			assert.ErrorIs(t, err, types.ErrPreconditionFailed)
			failed++
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1, "only one swap should win")
	assert.Equal(t, n-1, failed)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.LockOwner())
}
