package raft

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	"github.com/pixperk/rolodex/pkg/fsm"
	"github.com/pixperk/rolodex/pkg/storage"
	"github.com/pixperk/rolodex/pkg/types"
)

const defaultApplyTimeout = 5 * time.Second

// returned for writes sent to a follower
var ErrNotLeader = errors.New("not the raft leader")

// wraps a raft inst with our fsm and exposes it as a record store
type Node struct {
	raft    *raft.Raft
	fsm     *fsm.FSM
	raftFSM *fsm.RaftFSM
	storage *storage.RaftStorage
	cfg     *Config
}

type Config struct {
	NodeID       uuid.UUID     //unique ID for this node
	BindAddr     string        //net addr to bind Raft communication
	DataDir      string        //data directory for Raft storage
	Bootstrap    bool          //if this is the first node in the cluster
	ApplyTimeout time.Duration //upper bound for one replicated write
	Logger       hclog.Logger
}

func NewNode(cfg *Config) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = defaultApplyTimeout
	}

	raftFSM := fsm.NewRaftFSM()
	stateMachine := raftFSM.GetFSM()

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID.String())
	raftCfg.Logger = cfg.Logger.Named("raft")

	raftCfg.HeartbeatTimeout = 1000 * time.Millisecond
	raftCfg.ElectionTimeout = 1000 * time.Millisecond
	raftCfg.LeaderLeaseTimeout = 500 * time.Millisecond
	raftCfg.CommitTimeout = 50 * time.Millisecond //time to wait before committing entries
	raftCfg.SnapshotThreshold = 8192              // snapshot after 8K log entries

	raftStorage, err := storage.NewRaftStorage(cfg.DataDir, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create stores: %w", err)
	}

	//tcp transport for inter-node communication
	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		raftStorage.Close()
		return nil, fmt.Errorf("failed to resolve bind addr: %w", err)
	}

	//port 0 is not advertisable, let the listener pick
	var advertise net.Addr = addr
	if addr.Port == 0 {
		advertise = nil
	}

	transport, err := raft.NewTCPTransportWithLogger(cfg.BindAddr, advertise, 3, 10*time.Second, cfg.Logger.Named("transport"))
	if err != nil {
		raftStorage.Close()
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, raftFSM, raftStorage.LogStore, raftStorage.StableStore, raftStorage.SnapshotStore, transport)
	if err != nil {
		transport.Close()
		raftStorage.Close()
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	//bootstrap if needed
	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raftCfg.LocalID,
					Address: transport.LocalAddr(),
				},
			},
		}

		if err := r.BootstrapCluster(configuration).Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
			cfg.Logger.Warn("bootstrap failed", "error", err)
		}
	}

	return &Node{
		raft:    r,
		fsm:     stateMachine,
		raftFSM: raftFSM,
		storage: raftStorage,
		cfg:     cfg,
	}, nil
}

// apply a command to the Raft cluster
// domain errors from the fsm come back as the returned error
func (n *Node) Apply(ctx context.Context, cmd types.Command) (any, error) {
	if !n.IsLeader() {
		return nil, fmt.Errorf("%w: leader is at %q", ErrNotLeader, n.GetLeader())
	}

	data, err := types.EncodeCommand(cmd)
	if err != nil {
		return nil, err
	}

	timeout := n.cfg.ApplyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	//replicate to cluster via Raft
	future := n.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrEnqueueTimeout) {
			return nil, fmt.Errorf("failed to apply %s: %w", cmd.Type(), context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("failed to apply %s: %w", cmd.Type(), err)
	}

	if err, ok := future.Response().(error); ok {
		return nil, err
	}
	return future.Response(), nil
}

// returns true if this node is the leader
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// returns the leader's address
func (n *Node) GetLeader() string {
	leaderAddr, _ := n.raft.LeaderWithID()
	return string(leaderAddr)
}

func (n *Node) GetNodeID() uuid.UUID {
	return n.cfg.NodeID
}

func (n *Node) GetState() raft.RaftState {
	return n.raft.State()
}

// blocks until a leader is elected
func (n *Node) WaitForLeader(timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	timeoutCh := time.After(timeout)

	for {
		select {
		case <-timeoutCh:
			return fmt.Errorf("no leader elected within timeout")
		case <-ticker.C:
			if n.GetLeader() != "" {
				return nil
			}
		}
	}
}

// gracefully shuts down the Raft node and closes its storage
func (n *Node) Shutdown() error {
	if err := n.raft.Shutdown().Error(); err != nil {
		return err
	}
	return n.storage.Close()
}
