package server

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/hashicorp/go-hclog"
	pb "github.com/pixperk/rolodex/api/v1"
	"github.com/pixperk/rolodex/pkg/hub"
	"github.com/pixperk/rolodex/pkg/lock"
	"github.com/pixperk/rolodex/pkg/logging"
	"github.com/pixperk/rolodex/pkg/raft"
	"github.com/pixperk/rolodex/pkg/types"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const cleanupTimeout = 10 * time.Second

type Server struct {
	hub    *hub.Hub
	coord  *lock.Coordinator
	node   *raft.Node // nil unless the store is replicated
	logger hclog.Logger
}

// wraps the hub into the gRPC real-time service
func NewServer(h *hub.Hub, coord *lock.Coordinator, node *raft.Node, logger hclog.Logger) *Server {
	return &Server{
		hub:    h,
		coord:  coord,
		node:   node,
		logger: logging.OrNull(logger),
	}
}

var _ pb.RealtimeServer = (*Server)(nil)

// one stream is one peer: inbound messages go to the hub, queued events go back out
func (s *Server) Connect(stream pb.Realtime_ConnectServer) error {
	peer := s.hub.Register()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		s.hub.Disconnect(ctx, peer.ID)
	}()

	ctx := stream.Context()
	recvErr := make(chan error, 1)

	go func() {
		for {
			msg, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}

			ev, err := types.EventFromStruct(msg)
			if err != nil {
				s.hub.Invalid(peer.ID, err)
				continue
			}
			s.hub.Handle(ctx, peer.ID, ev)
		}
	}()

	for {
		select {
		case ev := <-peer.Outbound():
			msg, err := types.EventToStruct(ev)
			if err != nil {
				s.logger.Error("encode event", "conn", peer.ID, "type", ev.Type, "error", err)
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}

		case err := <-recvErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err

		case <-peer.Done():
			return evictedError(peer.ID)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	stats, err := s.coord.Stats(ctx)
	if err != nil {
		return nil, toGRPCError(err)
	}
	peers := s.hub.Stats()

	fields := map[string]any{
		"peers":      peers.Peers,
		"identified": peers.Identified,
		"records":    stats.Records,
		"locks":      stats.Locks,
		"replicated": s.node != nil,
	}
	if s.node != nil {
		fields["nodeId"] = s.node.GetNodeID().String()
		fields["isLeader"] = s.node.IsLeader()
		fields["leaderAddress"] = s.node.GetLeader()
		fields["state"] = s.node.GetState().String()
	}

	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return out, nil
}
