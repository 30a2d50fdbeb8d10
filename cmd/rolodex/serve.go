package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	pb "github.com/pixperk/rolodex/api/v1"
	"github.com/pixperk/rolodex/pkg/api"
	"github.com/pixperk/rolodex/pkg/auth"
	"github.com/pixperk/rolodex/pkg/config"
	"github.com/pixperk/rolodex/pkg/gateway"
	"github.com/pixperk/rolodex/pkg/hub"
	"github.com/pixperk/rolodex/pkg/lock"
	"github.com/pixperk/rolodex/pkg/logging"
	"github.com/pixperk/rolodex/pkg/raft"
	"github.com/pixperk/rolodex/pkg/server"
	"github.com/pixperk/rolodex/pkg/session"
	"github.com/pixperk/rolodex/pkg/storage"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, WebSocket and gRPC endpoints",
	RunE:  runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.String("http-addr", "", "HTTP listen address")
	flags.String("grpc-addr", "", "gRPC listen address")
	flags.String("store", "", "record store driver (memory, bolt, sqlite, raft)")
	flags.String("store-path", "", "database file for bolt and sqlite")
	flags.String("raft-addr", "", "Raft bind address")
	flags.String("data-dir", "", "data directory for Raft storage")
	flags.Bool("bootstrap", false, "bootstrap a new Raft cluster")

	_ = v.BindPFlag("server.http_addr", flags.Lookup("http-addr"))
	_ = v.BindPFlag("server.grpc_addr", flags.Lookup("grpc-addr"))
	_ = v.BindPFlag("store.driver", flags.Lookup("store"))
	_ = v.BindPFlag("store.path", flags.Lookup("store-path"))
	_ = v.BindPFlag("raft.bind_addr", flags.Lookup("raft-addr"))
	_ = v.BindPFlag("raft.data_dir", flags.Lookup("data-dir"))
	_ = v.BindPFlag("raft.bootstrap", flags.Lookup("bootstrap"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	logger := logging.New("rolodex", logging.Options{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON})

	store, node, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	logger.Info("starting rolodex",
		"store", cfg.Store.Driver,
		"http", cfg.Server.HTTPAddr,
		"grpc", cfg.Server.GRPCAddr,
	)

	coord := lock.NewCoordinator(lock.Config{
		Store:        store,
		Logger:       logger.Named("lock"),
		StoreTimeout: cfg.Store.Timeout,
		CASAttempts:  cfg.Store.CASAttempts,
	})

	h := hub.New(coord, session.NewRegistry(), hub.Config{
		OutboundBuffer:  cfg.Gateway.OutboundBuffer,
		EventsPerSecond: cfg.Gateway.EventsPerSecond,
		EventBurst:      cfg.Gateway.EventBurst,
		VerifyRelays:    cfg.Gateway.VerifyRelays,
		MaxLockAge:      cfg.Locks.MaxAge,
		ReapInterval:    cfg.Locks.ReapInterval,
		Logger:          logger.Named("hub"),
	})
	defer h.Close()

	users := make(map[string]string, len(cfg.Auth.Users))
	for _, u := range cfg.Auth.Users {
		users[u.Username] = u.Password
	}
	handler := api.NewHandler(coord, auth.NewStatic(users), logger.Named("api"))

	gw := gateway.NewServer(gateway.Options{
		Addr:           cfg.Server.HTTPAddr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger.Named("gateway"),
	}, h, handler)

	grpcServer := grpc.NewServer()
	pb.RegisterRealtimeServer(grpcServer, server.NewServer(h, coord, node, logger.Named("grpc")))

	listener, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.GRPCAddr, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("HTTP gateway listening", "addr", cfg.Server.HTTPAddr)
		return gw.Start(ctx)
	})

	g.Go(func() error {
		return h.RunReaper(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		h.Close()
		grpcServer.GracefulStop()
		return gw.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// returns the record store for the configured driver, plus the raft node when replicated
func openStore(cfg *config.Config, logger hclog.Logger) (storage.RecordStore, *raft.Node, error) {
	switch cfg.Store.Driver {
	case "memory":
		return storage.NewMemoryStore(), nil, nil

	case "bolt":
		s, err := storage.NewBoltStore(cfg.Store.Path)
		return s, nil, err

	case "sqlite":
		s, err := storage.NewSQLiteStore(cfg.Store.Path)
		return s, nil, err

	case "raft":
		nid := uuid.New()
		if cfg.Raft.NodeID != "" {
			parsed, err := uuid.Parse(cfg.Raft.NodeID)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid node id: %w", err)
			}
			nid = parsed
		} else {
			logger.Info("generated node id", "id", nid)
		}

		node, err := raft.NewNode(&raft.Config{
			NodeID:       nid,
			BindAddr:     cfg.Raft.BindAddr,
			DataDir:      cfg.Raft.DataDir,
			Bootstrap:    cfg.Raft.Bootstrap,
			ApplyTimeout: cfg.Store.Timeout,
			Logger:       logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create raft node: %w", err)
		}

		if cfg.Raft.Bootstrap {
			if err := node.WaitForLeader(30 * time.Second); err != nil {
				node.Shutdown()
				return nil, nil, err
			}
		}
		return node, node, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
