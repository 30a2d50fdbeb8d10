package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
)

// durable state of a replicated store's raft node
// logstore : raft log entries (the replicated record commands)
// stablestore : raft metadata that must survive restarts (term, vote)
// snapshotstore : record snapshots used to truncate the log
type RaftStorage struct {
	LogStore      raft.LogStore
	StableStore   raft.StableStore
	SnapshotStore raft.SnapshotStore

	bolt *raftboltdb.BoltStore
}

func NewRaftStorage(dataDir string, logger hclog.Logger) (*RaftStorage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	//one boltDB file serves both log and stable storage
	boltDB, err := raftboltdb.New(raftboltdb.Options{
		Path: filepath.Join(dataDir, "raft.db"),
	})
	if err != nil {
		return nil, fmt.Errorf("open raft log: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStoreWithLogger(
		filepath.Join(dataDir, "snapshots"), 3, logger.Named("snapshots"))
	if err != nil {
		boltDB.Close()
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	return &RaftStorage{
		LogStore:      boltDB,
		StableStore:   boltDB,
		SnapshotStore: snapshotStore,
		bolt:          boltDB,
	}, nil
}

func (r *RaftStorage) Close() error {
	return r.bolt.Close()
}
