package fsm

import (
	"fmt"
	"sync"

	"github.com/pixperk/rolodex/pkg/types"
)

// manages record and lock state
// critical :
// - every write is conditioned on the lock owner the caller observed
// - a record's lock is either fully set (owner + time) or nil
// - replaced fields always clear the lock
type FSM struct {
	mu sync.RWMutex

	records map[string]*types.Record // record ID -> Record
}

func NewFSM() *FSM {
	return &FSM{
		records: make(map[string]*types.Record),
	}
}

// applies a command to the FSM and returns the result or error
func (f *FSM) Apply(cmd types.Command) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch c := cmd.(type) {
	case types.InsertRecordCmd:
		return f.applyInsertRecord(c)
	case types.SwapLockCmd:
		return f.applySwapLock(c)
	case types.ReplaceFieldsCmd:
		return f.applyReplaceFields(c)
	case types.DeleteRecordCmd:
		return f.applyDeleteRecord(c)
	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

// returned when a record is inserted
type InsertRecordResponse struct {
	Record *types.Record
}

func (f *FSM) applyInsertRecord(cmd types.InsertRecordCmd) (any, error) {
	if cmd.Record == nil || cmd.Record.ID == "" {
		return nil, types.NewValidationError("id", "record id required")
	}
	if _, exists := f.records[cmd.Record.ID]; exists {
		return nil, types.ErrAlreadyExists
	}

	rec := cmd.Record.Clone()
	rec.Lock = nil //records are always born unlocked
	f.records[rec.ID] = rec

	return InsertRecordResponse{Record: rec.Clone()}, nil
}

// returned when a lock is swapped
// Previous is the lock that was replaced, nil if the record was unlocked
type SwapLockResponse struct {
	Record   *types.Record
	Previous *types.Lock
}

func (f *FSM) applySwapLock(cmd types.SwapLockCmd) (any, error) {
	rec, err := f.checkOwner(cmd.RecordID, cmd.Expected)
	if err != nil {
		return nil, err
	}

	previous := rec.Lock
	rec.Lock = cmd.Next.Clone()

	return SwapLockResponse{
		Record:   rec.Clone(),
		Previous: previous.Clone(),
	}, nil
}

// returned when fields are replaced
type ReplaceFieldsResponse struct {
	Record   *types.Record
	Previous *types.Lock
}

func (f *FSM) applyReplaceFields(cmd types.ReplaceFieldsCmd) (any, error) {
	rec, err := f.checkOwner(cmd.RecordID, cmd.Expected)
	if err != nil {
		return nil, err
	}

	previous := rec.Lock
	rec.Fields = cmd.Fields.Normalize()
	rec.Lock = nil
	rec.UpdatedAt = cmd.At

	return ReplaceFieldsResponse{
		Record:   rec.Clone(),
		Previous: previous.Clone(),
	}, nil
}

// returned when a record is deleted
type DeleteRecordResponse struct {
	Previous *types.Lock
}

func (f *FSM) applyDeleteRecord(cmd types.DeleteRecordCmd) (any, error) {
	rec, err := f.checkOwner(cmd.RecordID, cmd.Expected)
	if err != nil {
		return nil, err
	}

	delete(f.records, cmd.RecordID)

	return DeleteRecordResponse{Previous: rec.Lock.Clone()}, nil
}

// the compare half of compare-and-set, caller holds f.mu
func (f *FSM) checkOwner(recordID, expected string) (*types.Record, error) {
	rec, exists := f.records[recordID]
	if !exists {
		return nil, types.ErrNotFound
	}
	if rec.LockOwner() != expected {
		return nil, types.ErrPreconditionFailed
	}
	return rec, nil
}

// returns a copy of the record by ID
func (f *FSM) GetRecord(recordID string) (*types.Record, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	rec, exists := f.records[recordID]
	if !exists {
		return nil, false
	}
	return rec.Clone(), true
}

// returns one page of records matching the query
func (f *FSM) ListRecords(q types.ListQuery) *types.Page {
	f.mu.RLock()
	all := make([]*types.Record, 0, len(f.records))
	for _, rec := range f.records {
		all = append(all, rec.Clone())
	}
	f.mu.RUnlock()

	return types.Paginate(all, q)
}

// returns every locked record, or only those held by owner when owner is set
func (f *FSM) LockedRecords(owner string) []*types.Record {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var locked []*types.Record
	for _, rec := range f.records {
		if !rec.IsLocked() {
			continue
		}
		if owner != "" && rec.LockOwner() != owner {
			continue
		}
		locked = append(locked, rec.Clone())
	}
	types.SortNewestFirst(locked)
	return locked
}

// current fsm stats
type Stats struct {
	Records int
	Locks   int
}

func (f *FSM) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	stats := Stats{Records: len(f.records)}
	for _, rec := range f.records {
		if rec.IsLocked() {
			stats.Locks++
		}
	}
	return stats
}
