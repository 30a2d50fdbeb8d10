package client_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	pb "github.com/pixperk/rolodex/api/v1"
	"github.com/pixperk/rolodex/pkg/client"
	"github.com/pixperk/rolodex/pkg/hub"
	"github.com/pixperk/rolodex/pkg/lock"
	"github.com/pixperk/rolodex/pkg/server"
	"github.com/pixperk/rolodex/pkg/session"
	"github.com/pixperk/rolodex/pkg/storage"
	"github.com/pixperk/rolodex/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

// in-process realtime server reached over bufconn
type testEnv struct {
	tb    testing.TB
	lis   *bufconn.Listener
	coord *lock.Coordinator
}

func newTestEnv(tb testing.TB, cfg hub.Config) *testEnv {
	tb.Helper()

	store := storage.NewMemoryStore()
	coord := lock.NewCoordinator(lock.Config{Store: store})
	h := hub.New(coord, session.NewRegistry(), cfg)

	lis := bufconn.Listen(1 << 20)
	grpcServer := grpc.NewServer()
	pb.RegisterRealtimeServer(grpcServer, server.NewServer(h, coord, nil, nil))
	go grpcServer.Serve(lis)

	tb.Cleanup(func() {
		grpcServer.Stop()
		h.Close()
		store.Close()
	})
	return &testEnv{tb: tb, lis: lis, coord: coord}
}

func (e *testEnv) client(identity string) *client.Client {
	e.tb.Helper()

	c, err := client.NewClient("passthrough:///bufnet", identity, client.WithDialOptions(
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return e.lis.DialContext(ctx)
		}),
	))
	if err != nil {
		e.tb.Fatalf("Failed to connect: %v", err)
	}
	e.tb.Cleanup(func() { c.Stop() })

	if err := c.Start(context.Background()); err != nil {
		e.tb.Fatalf("Failed to start: %v", err)
	}

	// a round trip means the stream is registered and identified
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Release(ctx, "ready-check"); !errors.Is(err, types.ErrNotFound) {
		e.tb.Fatalf("Client not ready: %v", err)
	}
	return c
}

func (e *testEnv) record(name string) *types.Record {
	e.tb.Helper()
	rec, err := e.coord.Create(context.Background(), types.Fields{
		Name:    name,
		Phone:   "555-0100",
		Address: "1 Main St",
	})
	if err != nil {
		e.tb.Fatalf("Failed to create record: %v", err)
	}
	return rec
}

func (e *testEnv) records(prefix string, n int) []*types.Record {
	out := make([]*types.Record, n)
	for i := range out {
		out[i] = e.record(fmt.Sprintf("%s-%d", prefix, i))
	}
	return out
}
