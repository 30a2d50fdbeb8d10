package raft

import (
	"context"
	"time"

	"github.com/pixperk/rolodex/pkg/storage"
	"github.com/pixperk/rolodex/pkg/types"
)

// the node is a storage.RecordStore: writes replicate through the log and
// are applied under the fsm mutex, reads are served from the local fsm
var _ storage.RecordStore = (*Node)(nil)

func (n *Node) Insert(ctx context.Context, rec *types.Record) (*types.Record, error) {
	res, err := storage.FromFSM(n.Apply(ctx, types.InsertRecordCmd{Record: rec}))
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

func (n *Node) Get(ctx context.Context, id string) (*types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := n.fsm.GetRecord(id)
	if !ok {
		return nil, types.ErrNotFound
	}
	return rec, nil
}

func (n *Node) List(ctx context.Context, q types.ListQuery) (*types.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return n.fsm.ListRecords(q), nil
}

func (n *Node) SwapLock(ctx context.Context, id, expected string, next *types.Lock) (*storage.Result, error) {
	return storage.FromFSM(n.Apply(ctx, types.SwapLockCmd{RecordID: id, Expected: expected, Next: next}))
}

func (n *Node) ReplaceFields(ctx context.Context, id, expected string, fields types.Fields, at time.Time) (*storage.Result, error) {
	return storage.FromFSM(n.Apply(ctx, types.ReplaceFieldsCmd{RecordID: id, Expected: expected, Fields: fields, At: at}))
}

func (n *Node) Delete(ctx context.Context, id, expected string) (*types.Lock, error) {
	res, err := storage.FromFSM(n.Apply(ctx, types.DeleteRecordCmd{RecordID: id, Expected: expected}))
	if err != nil {
		return nil, err
	}
	return res.Previous, nil
}

func (n *Node) Locked(ctx context.Context, owner string) ([]*types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return n.fsm.LockedRecords(owner), nil
}

func (n *Node) Stats(ctx context.Context) (storage.Stats, error) {
	s := n.fsm.Stats()
	return storage.Stats{Records: s.Records, Locks: s.Locks}, nil
}

func (n *Node) Close() error {
	return n.Shutdown()
}
