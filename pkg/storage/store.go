package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/pixperk/rolodex/pkg/fsm"
	"github.com/pixperk/rolodex/pkg/types"
)

// durable keyed storage for records and their lock fields
//
// every mutating call is a compare-and-set on the lock owner: it succeeds only
// if the record's current owner equals expected ("" = unlocked), otherwise it
// returns types.ErrPreconditionFailed without touching the record. unknown ids
// return types.ErrNotFound.
type RecordStore interface {
	Insert(ctx context.Context, rec *types.Record) (*types.Record, error)
	Get(ctx context.Context, id string) (*types.Record, error)
	List(ctx context.Context, q types.ListQuery) (*types.Page, error)

	// sets the lock to next, nil clears it
	SwapLock(ctx context.Context, id, expected string, next *types.Lock) (*Result, error)

	// replaces the fields and clears the lock in one write
	ReplaceFields(ctx context.Context, id, expected string, fields types.Fields, at time.Time) (*Result, error)

	// returns the lock the record held when it was removed
	Delete(ctx context.Context, id, expected string) (*types.Lock, error)

	// locked records, all of them when owner is empty
	Locked(ctx context.Context, owner string) ([]*types.Record, error)

	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// outcome of a conditional write
type Result struct {
	Record   *types.Record
	Previous *types.Lock // lock held before the write, nil if unlocked
}

type Stats struct {
	Records int
	Locks   int
}

// converts an fsm response into a store result
// shared by every store that runs commands through the fsm
func FromFSM(resp any, err error) (*Result, error) {
	if err != nil {
		return nil, err
	}

	switch r := resp.(type) {
	case fsm.InsertRecordResponse:
		return &Result{Record: r.Record}, nil
	case fsm.SwapLockResponse:
		return &Result{Record: r.Record, Previous: r.Previous}, nil
	case fsm.ReplaceFieldsResponse:
		return &Result{Record: r.Record, Previous: r.Previous}, nil
	case fsm.DeleteRecordResponse:
		return &Result{Previous: r.Previous}, nil
	default:
		return nil, fmt.Errorf("unexpected fsm response: %T", resp)
	}
}
