package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/rolodex/pkg/api"
	"github.com/pixperk/rolodex/pkg/hub"
	"github.com/pixperk/rolodex/pkg/logging"
	"github.com/pixperk/rolodex/pkg/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"
)

const (
	cleanupTimeout = 10 * time.Second
	writeTimeout   = 10 * time.Second
)

type Options struct {
	Addr string
	// browser origins accepted on /ws, empty accepts any
	AllowedOrigins []string
	Logger         hclog.Logger
}

// http front door: request api, real-time websocket, metrics and health
type Server struct {
	httpServer *http.Server
	hub        *hub.Hub
	origins    []string
	logger     hclog.Logger
}

func NewServer(opts Options, h *hub.Hub, handler *api.Handler) *Server {
	s := &Server{
		hub:     h,
		origins: opts.AllowedOrigins,
		logger:  logging.OrNull(opts.Logger),
	}

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("GET /ws", websocket.Server{
		Handshake: s.handshake,
		Handler:   s.serveWS,
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start(ctx context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP gateway: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handshake(cfg *websocket.Config, r *http.Request) error {
	origin := r.Header.Get("Origin")
	if len(s.origins) == 0 || slices.Contains(s.origins, origin) {
		return nil
	}
	s.logger.Warn("websocket origin refused", "origin", origin)
	return fmt.Errorf("origin %q not allowed", origin)
}

// one websocket is one peer, frames are JSON events
func (s *Server) serveWS(ws *websocket.Conn) {
	peer := s.hub.Register()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		s.hub.Disconnect(ctx, peer.ID)
	}()

	ctx := ws.Request().Context()
	go s.writeLoop(ws, peer)

	for {
		var ev types.Event
		err := websocket.JSON.Receive(ws, &ev)
		if err == nil {
			s.hub.Handle(ctx, peer.ID, &ev)
			continue
		}

		var syntax *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntax) || errors.As(err, &typeErr) {
			s.hub.Invalid(peer.ID, err)
			continue
		}
		if !errors.Is(err, io.EOF) {
			s.logger.Debug("websocket read ended", "conn", peer.ID, "error", err)
		}
		return
	}
}

func (s *Server) writeLoop(ws *websocket.Conn, peer *hub.Peer) {
	defer ws.Close()

	for {
		select {
		case ev := <-peer.Outbound():
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := websocket.JSON.Send(ws, ev); err != nil {
				s.logger.Debug("websocket write failed", "conn", peer.ID, "error", err)
				return
			}
		case <-peer.Done():
			return
		}
	}
}
