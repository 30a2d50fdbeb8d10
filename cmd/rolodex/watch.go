package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pixperk/rolodex/pkg/client"
	"github.com/pixperk/rolodex/pkg/config"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect as a user and print every real-time event",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().String("user", "", "identity to connect as")
	watchCmd.Flags().String("addr", "", "gRPC address (defaults to server.grpc_addr)")
	_ = watchCmd.MarkFlagRequired("user")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	user, _ := cmd.Flags().GetString("user")
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Server.GRPCAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := client.NewClient(addr, user)
	if err != nil {
		return err
	}
	defer c.Stop()

	if err := c.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "watching as %s on %s\n", user, addr)

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case ev := <-c.Events():
			if err := enc.Encode(ev); err != nil {
				return err
			}
		case <-c.Done():
			return c.Err()
		case <-ctx.Done():
			return nil
		}
	}
}
