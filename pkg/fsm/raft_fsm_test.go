package fsm

import (
	"bytes"
	"io"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/pixperk/rolodex/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRaftFSMApply tests that Apply works with protobuf serialization
func TestRaftFSMApply(t *testing.T) {
	raftFSM := NewRaftFSM()

	rec := types.NewRecord(types.Fields{Name: "Ada", Phone: "1", Address: "x"}, t0)

	// Serialize to bytes (what Raft does)
	data, err := types.EncodeCommand(types.InsertRecordCmd{Record: rec})
	require.NoError(t, err)

	result := raftFSM.Apply(&raft.Log{Index: 1, Term: 1, Type: raft.LogCommand, Data: data})
	_, ok := result.(InsertRecordResponse)
	require.True(t, ok, "expected InsertRecordResponse, got %T", result)

	data, err = types.EncodeCommand(types.SwapLockCmd{
		RecordID: rec.ID,
		Next:     &types.Lock{Owner: "alice", AcquiredAt: t0},
	})
	require.NoError(t, err)

	result = raftFSM.Apply(&raft.Log{Index: 2, Term: 1, Type: raft.LogCommand, Data: data})
	resp, ok := result.(SwapLockResponse)
	require.True(t, ok, "expected SwapLockResponse, got %T", result)
	assert.Equal(t, "alice", resp.Record.LockOwner())
	assert.True(t, t0.Equal(resp.Record.Lock.AcquiredAt))
}

// TestRaftFSMApplyReturnsDomainError tests that FSM errors come back as values
func TestRaftFSMApplyReturnsDomainError(t *testing.T) {
	raftFSM := NewRaftFSM()

	data, err := types.EncodeCommand(types.DeleteRecordCmd{RecordID: "missing"})
	require.NoError(t, err)

	result := raftFSM.Apply(&raft.Log{Index: 1, Term: 1, Type: raft.LogCommand, Data: data})
	err, ok := result.(error)
	require.True(t, ok)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

// TestRaftFSMSnapshotRestore tests snapshot persistence and restore
func TestRaftFSMSnapshotRestore(t *testing.T) {
	raftFSM := NewRaftFSM()

	rec := types.NewRecord(types.Fields{Name: "Ada", Phone: "1", Address: "x"}, t0)
	_, err := raftFSM.fsm.Apply(types.InsertRecordCmd{Record: rec})
	require.NoError(t, err)
	_, err = raftFSM.fsm.Apply(types.SwapLockCmd{
		RecordID: rec.ID,
		Next:     &types.Lock{Owner: "alice", AcquiredAt: t0},
	})
	require.NoError(t, err)

	snapshot, err := raftFSM.Snapshot()
	require.NoError(t, err)

	fsmSnap := snapshot.(*fsmSnapshot)
	assert.Len(t, fsmSnap.Records, 1)

	sink := &mockSnapshotSink{}
	require.NoError(t, snapshot.Persist(sink))

	restored := NewRaftFSM()
	require.NoError(t, restored.Restore(io.NopCloser(bytes.NewReader(sink.buf.Bytes()))))

	got, exists := restored.fsm.GetRecord(rec.ID)
	require.True(t, exists)
	assert.Equal(t, "alice", got.LockOwner())
	assert.Equal(t, "Ada", got.Name)
}

type mockSnapshotSink struct {
	buf       bytes.Buffer
	cancelled bool
}

func (m *mockSnapshotSink) Write(p []byte) (int, error) { return m.buf.Write(p) }
func (m *mockSnapshotSink) Close() error                { return nil }
func (m *mockSnapshotSink) ID() string                  { return "mock" }
func (m *mockSnapshotSink) Cancel() error {
	m.cancelled = true
	return nil
}
