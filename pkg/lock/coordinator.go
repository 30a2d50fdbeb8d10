// Package lock implements the record edit-lock coordinator, the only writer of
// a record's lock fields.
//
// Every operation reads the record, decides from the observed owner, then
// writes with a compare-and-set on that same owner. If another caller changed
// the owner in between, the store rejects the write with
// types.ErrPreconditionFailed and the coordinator re-reads and decides again,
// so two callers can never both act on the same pre-state.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/rolodex/pkg/logging"
	"github.com/pixperk/rolodex/pkg/metrics"
	"github.com/pixperk/rolodex/pkg/storage"
	rtime "github.com/pixperk/rolodex/pkg/time"
	"github.com/pixperk/rolodex/pkg/types"
)

const (
	DefaultStoreTimeout = 5 * time.Second
	DefaultCASAttempts  = 8
)

// release causes, used as metric labels
const (
	reasonUnlock     = "unlock"
	reasonUpdate     = "update"
	reasonDelete     = "delete"
	reasonDisconnect = "disconnect"
	reasonStale      = "stale"
)

type Config struct {
	Store        storage.RecordStore
	Clock        rtime.Clock
	Logger       hclog.Logger
	StoreTimeout time.Duration // bound on every store round-trip
	CASAttempts  int           // re-reads allowed after losing a race
	Stripes      *Stripes      // shared with whoever orders per-record events
}

type Coordinator struct {
	store        storage.RecordStore
	clock        rtime.Clock
	logger       hclog.Logger
	storeTimeout time.Duration
	casAttempts  int
	stripes      *Stripes
}

// ReleaseOption tunes a bulk release.
type ReleaseOption func(*releaseOptions)

type releaseOptions struct {
	onRelease func(recordID string)
}

// OnRelease calls fn for each released record while its stripe is still held.
func OnRelease(fn func(recordID string)) ReleaseOption {
	return func(o *releaseOptions) { o.onRelease = fn }
}

func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		store:        cfg.Store,
		clock:        cfg.Clock,
		logger:       logging.OrNull(cfg.Logger),
		storeTimeout: cfg.StoreTimeout,
		casAttempts:  cfg.CASAttempts,
		stripes:      cfg.Stripes,
	}
	if c.clock == nil {
		c.clock = rtime.NewClock()
	}
	if c.storeTimeout <= 0 {
		c.storeTimeout = DefaultStoreTimeout
	}
	if c.casAttempts <= 0 {
		c.casAttempts = DefaultCASAttempts
	}
	if c.stripes == nil {
		c.stripes = NewStripes(DefaultStripes)
	}
	c.seedLocksActive()
	return c
}

// locks held before a restart are still in a durable store, so the gauge
// starts from the store's count rather than zero
func (c *Coordinator) seedLocksActive() {
	ctx, cancel := context.WithTimeout(context.Background(), c.storeTimeout)
	defer cancel()

	stats, err := c.store.Stats(ctx)
	if err != nil {
		c.logger.Warn("could not seed active lock gauge", "error", err)
		return
	}
	metrics.LocksActive.Set(float64(stats.Locks))
}

// Sequence takes the ordering stripe for a record and returns its unlock.
func (c *Coordinator) Sequence(recordID string) func() {
	return c.stripes.Lock(recordID)
}

// Acquire grants identity the lock on the record.
// Re-acquiring a lock the caller already holds succeeds and refreshes its time.
// A lock held by someone else fails with *types.LockConflictError.
func (c *Coordinator) Acquire(ctx context.Context, recordID, identity string) (*types.Record, error) {
	if identity == "" {
		return nil, types.ErrMissingIdentity
	}

	start := time.Now()
	rec, err := c.acquire(ctx, recordID, identity)
	metrics.LockAcquireDuration.Observe(time.Since(start).Seconds())
	metrics.LockAcquireTotal.WithLabelValues(acquireStatus(err)).Inc()

	if err != nil {
		c.logger.Debug("lock refused", "record", recordID, "identity", identity, "error", err)
		return nil, err
	}
	c.logger.Debug("lock granted", "record", recordID, "identity", identity)
	return rec, nil
}

func (c *Coordinator) acquire(ctx context.Context, recordID, identity string) (*types.Record, error) {
	var granted *types.Record
	err := c.retry(ctx, recordID, func(ctx context.Context, rec *types.Record) error {
		current := rec.LockOwner()
		if current != "" && current != identity {
			return types.NewLockConflict(recordID, rec.Lock)
		}

		res, err := c.store.SwapLock(ctx, recordID, current, &types.Lock{
			Owner:      identity,
			AcquiredAt: c.clock.Now(),
		})
		if err != nil {
			return err
		}
		if res.Previous == nil {
			metrics.LocksActive.Inc()
		}
		granted = res.Record
		return nil
	})
	return granted, err
}

// Release drops identity's lock on the record.
// Only the current owner may release; an unlocked record has no owner, so
// releasing it fails with types.ErrNotOwner for everyone.
func (c *Coordinator) Release(ctx context.Context, recordID, identity string) (*types.Record, error) {
	if identity == "" {
		return nil, types.ErrMissingIdentity
	}

	var released *types.Record
	err := c.retry(ctx, recordID, func(ctx context.Context, rec *types.Record) error {
		if rec.LockOwner() != identity {
			return types.ErrNotOwner
		}
		res, err := c.store.SwapLock(ctx, recordID, identity, nil)
		if err != nil {
			return err
		}
		released = res.Record
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.releasedLock(reasonUnlock)
	c.logger.Debug("lock released", "record", recordID, "identity", identity)
	return released, nil
}

// ReleaseAllOwnedBy releases every lock held by identity and returns the ids
// of the records it actually released. Each release is its own
// compare-and-set, so a record whose lock changed hands after the scan is
// skipped rather than stolen from its new owner.
func (c *Coordinator) ReleaseAllOwnedBy(ctx context.Context, identity string, opts ...ReleaseOption) ([]string, error) {
	if identity == "" {
		return nil, nil
	}
	return c.releaseWhere(ctx, identity, reasonDisconnect, func(*types.Record) bool { return true }, opts)
}

// ReleaseStale releases every lock older than maxAge, whoever holds it.
func (c *Coordinator) ReleaseStale(ctx context.Context, maxAge time.Duration, opts ...ReleaseOption) ([]string, error) {
	if maxAge <= 0 {
		return nil, nil
	}
	cutoff := c.clock.Now().Add(-maxAge)
	return c.releaseWhere(ctx, "", reasonStale, func(rec *types.Record) bool {
		return rec.Lock.AcquiredAt.Before(cutoff)
	}, opts)
}

func (c *Coordinator) releaseWhere(ctx context.Context, owner, reason string, keep func(*types.Record) bool, opts []ReleaseOption) ([]string, error) {
	var o releaseOptions
	for _, opt := range opts {
		opt(&o)
	}

	scanCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	locked, err := c.store.Locked(scanCtx, owner)
	cancel()
	if err != nil {
		return nil, serverError("scan locks", err)
	}

	var (
		released []string
		errs     []error
	)
	for _, rec := range locked {
		if !keep(rec) {
			continue
		}

		unlock := c.stripes.Lock(rec.ID)
		opCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
		_, err := c.store.SwapLock(opCtx, rec.ID, rec.LockOwner(), nil)
		cancel()
		if err == nil && o.onRelease != nil {
			o.onRelease(rec.ID)
		}
		unlock()

		switch {
		case err == nil:
			released = append(released, rec.ID)
			c.releasedLock(reason)
		case errors.Is(err, types.ErrPreconditionFailed), errors.Is(err, types.ErrNotFound):
			// changed hands or vanished since the scan, not ours to release
			c.logger.Debug("skipped lock that moved", "record", rec.ID, "owner", rec.LockOwner())
		default:
			errs = append(errs, fmt.Errorf("release %s: %w", rec.ID, err))
		}
	}

	if len(released) > 0 {
		c.logger.Info("released locks", "reason", reason, "owner", owner, "count", len(released))
	}
	if len(errs) > 0 {
		return released, serverError("release locks", errors.Join(errs...))
	}
	return released, nil
}

// MutateIfOwnerOrUnlocked replaces the record's fields unless another identity
// holds the lock. The lock is cleared by the same write, whether or not the
// caller had taken it first.
func (c *Coordinator) MutateIfOwnerOrUnlocked(ctx context.Context, recordID, identity string, fields types.Fields) (*types.Record, error) {
	if identity == "" {
		return nil, types.ErrMissingIdentity
	}
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	fields = fields.Normalize()

	var updated *types.Record
	err := c.retry(ctx, recordID, func(ctx context.Context, rec *types.Record) error {
		current := rec.LockOwner()
		if current != "" && current != identity {
			return types.NewLockConflict(recordID, rec.Lock)
		}
		res, err := c.store.ReplaceFields(ctx, recordID, current, fields, c.clock.Now())
		if err != nil {
			return err
		}
		if res.Previous != nil {
			c.releasedLock(reasonUpdate)
		}
		updated = res.Record
		return nil
	})
	return updated, err
}

// DeleteIfOwnerOrUnlocked removes the record unless another identity holds the lock.
func (c *Coordinator) DeleteIfOwnerOrUnlocked(ctx context.Context, recordID, identity string) error {
	if identity == "" {
		return types.ErrMissingIdentity
	}

	return c.retry(ctx, recordID, func(ctx context.Context, rec *types.Record) error {
		current := rec.LockOwner()
		if current != "" && current != identity {
			return types.NewLockConflict(recordID, rec.Lock)
		}
		previous, err := c.store.Delete(ctx, recordID, current)
		if err != nil {
			return err
		}
		if previous != nil {
			c.releasedLock(reasonDelete)
		}
		return nil
	})
}

// Create inserts a new unlocked record.
func (c *Coordinator) Create(ctx context.Context, fields types.Fields) (*types.Record, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	rec, err := c.store.Insert(ctx, types.NewRecord(fields, c.clock.Now()))
	if err != nil {
		return nil, serverError("insert record", err)
	}
	return rec, nil
}

// Get reads a record with its current lock.
func (c *Coordinator) Get(ctx context.Context, recordID string) (*types.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	rec, err := c.store.Get(ctx, recordID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, serverError("get record", err)
	}
	return rec, err
}

// List returns one page of records.
func (c *Coordinator) List(ctx context.Context, q types.ListQuery) (*types.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	page, err := c.store.List(ctx, q)
	if err != nil {
		return nil, serverError("list records", err)
	}
	return page, nil
}

// Stats reports record and lock counts from the store.
func (c *Coordinator) Stats(ctx context.Context) (storage.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	return c.store.Stats(ctx)
}

// retry runs decide against a fresh read until its conditional write lands,
// decide returns a terminal error, or the attempts run out
func (c *Coordinator) retry(ctx context.Context, recordID string, decide func(context.Context, *types.Record) error) error {
	for attempt := 0; attempt < c.casAttempts; attempt++ {
		if attempt > 0 {
			metrics.CASRetriesTotal.Inc()
		}

		err := c.attempt(ctx, recordID, decide)
		if !errors.Is(err, types.ErrPreconditionFailed) {
			return err
		}
	}

	c.logger.Warn("gave up after repeated concurrent changes", "record", recordID, "attempts", c.casAttempts)
	return serverError("compare-and-set", types.ErrContention)
}

func (c *Coordinator) attempt(ctx context.Context, recordID string, decide func(context.Context, *types.Record) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	rec, err := c.store.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return err
		}
		return serverError("read record", err)
	}

	err = decide(ctx, rec)
	switch {
	case err == nil,
		errors.Is(err, types.ErrPreconditionFailed),
		errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrLockConflict),
		errors.Is(err, types.ErrNotOwner):
		return err
	default:
		return serverError("write record", err)
	}
}

func (c *Coordinator) releasedLock(reason string) {
	metrics.LockReleaseTotal.WithLabelValues(reason).Inc()
	metrics.LocksActive.Dec()
}

func acquireStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, types.ErrLockConflict):
		return "conflict"
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
