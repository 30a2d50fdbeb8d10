package storage

import (
	"context"
	"time"

	"github.com/pixperk/rolodex/pkg/fsm"
	"github.com/pixperk/rolodex/pkg/types"
)

// process-local store backed directly by the fsm
// the fsm mutex makes every command atomic
type MemoryStore struct {
	fsm *fsm.FSM
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{fsm: fsm.NewFSM()}
}

func (m *MemoryStore) Insert(ctx context.Context, rec *types.Record) (*types.Record, error) {
	res, err := m.apply(ctx, types.InsertRecordCmd{Record: rec})
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := m.fsm.GetRecord(id)
	if !ok {
		return nil, types.ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) List(ctx context.Context, q types.ListQuery) (*types.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.fsm.ListRecords(q), nil
}

func (m *MemoryStore) SwapLock(ctx context.Context, id, expected string, next *types.Lock) (*Result, error) {
	return m.apply(ctx, types.SwapLockCmd{RecordID: id, Expected: expected, Next: next})
}

func (m *MemoryStore) ReplaceFields(ctx context.Context, id, expected string, fields types.Fields, at time.Time) (*Result, error) {
	return m.apply(ctx, types.ReplaceFieldsCmd{RecordID: id, Expected: expected, Fields: fields, At: at})
}

func (m *MemoryStore) Delete(ctx context.Context, id, expected string) (*types.Lock, error) {
	res, err := m.apply(ctx, types.DeleteRecordCmd{RecordID: id, Expected: expected})
	if err != nil {
		return nil, err
	}
	return res.Previous, nil
}

func (m *MemoryStore) Locked(ctx context.Context, owner string) ([]*types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.fsm.LockedRecords(owner), nil
}

func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s := m.fsm.Stats()
	return Stats{Records: s.Records, Locks: s.Locks}, nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) apply(ctx context.Context, cmd types.Command) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return FromFSM(m.fsm.Apply(cmd))
}
