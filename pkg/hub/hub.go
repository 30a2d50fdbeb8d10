// Package hub is the real-time gateway core. It owns the connected peers,
// routes their events through the lock coordinator and fans the results out.
// Transports (gRPC streams, WebSockets) only move events in and out of a Peer.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/rolodex/pkg/lock"
	"github.com/pixperk/rolodex/pkg/logging"
	"github.com/pixperk/rolodex/pkg/metrics"
	"github.com/pixperk/rolodex/pkg/session"
	rtime "github.com/pixperk/rolodex/pkg/time"
	"github.com/pixperk/rolodex/pkg/types"
	"golang.org/x/time/rate"
)

const (
	DefaultOutboundBuffer  = 64
	DefaultEventsPerSecond = 20
	DefaultEventBurst      = 40

	disconnectTimeout = 10 * time.Second
)

// rejection reasons, also used as metric labels
const (
	reasonUnidentified     = "unidentified"
	reasonRateLimited      = "rate_limited"
	reasonIdentityMismatch = "identity_mismatch"
	reasonUnknown          = "unknown"
	reasonUnverified       = "unverified"
	reasonInvalid          = "invalid"
)

var (
	errIdentifyFirst    = errors.New("identify before sending events")
	errRateLimited      = errors.New("too many events")
	errIdentityMismatch = errors.New("payload identity does not match session identity")
	errUnknownEvent     = errors.New("unknown event type")
	errUnverifiedRelay  = errors.New("relay does not match stored state")
	errMissingRecordID  = errors.New("recordId is required")
	errMissingRecord    = errors.New("record is required")
	errServer           = errors.New("server error")
)

type Config struct {
	OutboundBuffer  int
	EventsPerSecond float64
	EventBurst      int

	// relay notifyUpdated/notifyDeleted only when the store agrees
	VerifyRelays bool

	// stale lock reaper, disabled when MaxLockAge is zero
	MaxLockAge   time.Duration
	ReapInterval time.Duration

	Clock  rtime.Clock
	Logger hclog.Logger
}

type Hub struct {
	coord    *lock.Coordinator
	sessions *session.Registry
	cfg      Config
	clock    rtime.Clock
	logger   hclog.Logger

	mu    sync.RWMutex
	peers map[string]*Peer
}

func New(coord *lock.Coordinator, sessions *session.Registry, cfg Config) *Hub {
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = DefaultOutboundBuffer
	}
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = DefaultEventsPerSecond
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = DefaultEventBurst
	}
	if cfg.Clock == nil {
		cfg.Clock = rtime.NewClock()
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Minute
	}

	return &Hub{
		coord:    coord,
		sessions: sessions,
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   logging.OrNull(cfg.Logger),
		peers:    make(map[string]*Peer),
	}
}

// Register opens a new unidentified peer.
func (h *Hub) Register() *Peer {
	p := newPeer(uuid.NewString(), h.cfg.OutboundBuffer, rate.Limit(h.cfg.EventsPerSecond), h.cfg.EventBurst)

	h.mu.Lock()
	h.peers[p.ID] = p
	h.mu.Unlock()

	h.sessions.Open(p.ID, h.clock.Now())
	metrics.PeersConnected.Inc()
	h.logger.Debug("peer connected", "conn", p.ID)
	return p
}

// Disconnect closes the peer and releases every lock its identity holds,
// telling the remaining peers about each one. It is safe to call more than
// once; only the first call does anything.
func (h *Hub) Disconnect(ctx context.Context, connID string) {
	h.mu.Lock()
	p, ok := h.peers[connID]
	if ok {
		delete(h.peers, connID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	p.close()
	metrics.PeersConnected.Dec()

	sess, ok := h.sessions.Remove(connID)
	if !ok || sess.Identity == "" {
		h.logger.Debug("peer disconnected", "conn", connID)
		return
	}

	released, err := h.coord.ReleaseAllOwnedBy(ctx, sess.Identity, lock.OnRelease(func(recordID string) {
		h.broadcast(types.LockReleased(recordID), "")
	}))
	if err != nil {
		h.logger.Error("disconnect cleanup incomplete", "conn", connID, "identity", sess.Identity, "error", err)
	}
	// locks are per identity, so they go even if the identity has other tabs open
	h.logger.Debug("peer disconnected", "conn", connID, "identity", sess.Identity,
		"released", len(released), "remaining_sessions", h.sessions.ConnectionsOf(sess.Identity))
}

// Handle processes one inbound event from a peer. Replies and broadcasts are
// queued on the peers; nothing is returned to the transport.
func (h *Hub) Handle(ctx context.Context, connID string, ev *types.Event) {
	p := h.peer(connID)
	if p == nil || ev == nil {
		return
	}

	if !p.limiter.Allow() {
		h.reject(p, ev, reasonRateLimited, errRateLimited)
		return
	}

	if ev.Type == types.EventIdentify {
		h.identify(p, ev)
		return
	}

	identity := h.sessions.Identity(connID)
	if identity == "" {
		h.reject(p, ev, reasonUnidentified, errIdentifyFirst)
		return
	}
	if ev.Identity != "" && ev.Identity != identity {
		h.reject(p, ev, reasonIdentityMismatch, errIdentityMismatch)
		return
	}

	switch ev.Type {
	case types.EventRequestLock:
		h.requestLock(ctx, p, identity, ev.RecordID)
	case types.EventRequestUnlock:
		h.requestUnlock(ctx, p, identity, ev.RecordID)
	case types.EventNotifyUpdated:
		h.notifyUpdated(ctx, p, identity, ev.Record)
	case types.EventNotifyDeleted:
		h.notifyDeleted(ctx, p, ev.RecordID)
	default:
		h.reject(p, ev, reasonUnknown, errUnknownEvent)
	}
}

// Invalid answers a frame the transport could not decode.
func (h *Hub) Invalid(connID string, err error) {
	if p := h.peer(connID); p != nil {
		h.reject(p, &types.Event{}, reasonInvalid, err)
	}
}

func (h *Hub) identify(p *Peer, ev *types.Event) {
	if err := h.sessions.Identify(p.ID, ev.Identity); err != nil {
		h.reject(p, ev, reasonIdentityMismatch, err)
		return
	}
	h.logger.Debug("peer identified", "conn", p.ID, "identity", ev.Identity)
}

func (h *Hub) requestLock(ctx context.Context, p *Peer, identity, recordID string) {
	if recordID == "" {
		h.reject(p, &types.Event{Type: types.EventRequestLock}, reasonInvalid, errMissingRecordID)
		return
	}

	unlock := h.coord.Sequence(recordID)
	defer unlock()

	rec, err := h.coord.Acquire(ctx, recordID, identity)
	if err != nil {
		h.fail(p, types.EventLockFailed, recordID, err)
		return
	}

	granted := types.LockGranted(recordID, rec.Lock)
	h.broadcast(granted, p.ID)

	reply := *granted
	reply.Type = types.EventLockSucceeded
	h.send(p, &reply)
}

func (h *Hub) requestUnlock(ctx context.Context, p *Peer, identity, recordID string) {
	if recordID == "" {
		h.reject(p, &types.Event{Type: types.EventRequestUnlock}, reasonInvalid, errMissingRecordID)
		return
	}

	unlock := h.coord.Sequence(recordID)
	defer unlock()

	if _, err := h.coord.Release(ctx, recordID, identity); err != nil {
		h.fail(p, types.EventUnlockFailed, recordID, err)
		return
	}

	h.broadcast(types.LockReleased(recordID), "")
	h.send(p, &types.Event{Type: types.EventUnlockSucceeded, RecordID: recordID})
}

func (h *Hub) notifyUpdated(ctx context.Context, p *Peer, identity string, rec *types.Record) {
	if rec == nil || rec.ID == "" {
		h.reject(p, &types.Event{Type: types.EventNotifyUpdated}, reasonInvalid, errMissingRecord)
		return
	}

	unlock := h.coord.Sequence(rec.ID)
	defer unlock()

	relayed := rec
	if h.cfg.VerifyRelays {
		stored, err := h.coord.Get(ctx, rec.ID)
		if err != nil || (stored.IsLocked() && !stored.Lock.HeldBy(identity)) {
			h.reject(p, &types.Event{Type: types.EventNotifyUpdated, RecordID: rec.ID}, reasonUnverified, errUnverifiedRelay)
			return
		}
		// peers get the stored copy, not the client's claim
		relayed = stored
	}

	h.broadcast(types.RecordChanged(relayed), p.ID)
}

func (h *Hub) notifyDeleted(ctx context.Context, p *Peer, recordID string) {
	if recordID == "" {
		h.reject(p, &types.Event{Type: types.EventNotifyDeleted}, reasonInvalid, errMissingRecordID)
		return
	}

	unlock := h.coord.Sequence(recordID)
	defer unlock()

	if h.cfg.VerifyRelays {
		if _, err := h.coord.Get(ctx, recordID); !errors.Is(err, types.ErrNotFound) {
			h.reject(p, &types.Event{Type: types.EventNotifyDeleted, RecordID: recordID}, reasonUnverified, errUnverifiedRelay)
			return
		}
	}

	h.broadcast(types.RecordRemoved(recordID), p.ID)
}

// RunReaper releases stale locks every ReapInterval until ctx is done.
// It returns immediately when MaxLockAge is zero.
func (h *Hub) RunReaper(ctx context.Context) error {
	if h.cfg.MaxLockAge <= 0 {
		return nil
	}

	ticker := time.NewTicker(h.cfg.ReapInterval)
	defer ticker.Stop()

	h.logger.Info("stale lock reaper started", "max_age", h.cfg.MaxLockAge, "interval", h.cfg.ReapInterval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Reap(ctx)
		}
	}
}

// Reap runs one stale lock sweep.
func (h *Hub) Reap(ctx context.Context) []string {
	released, err := h.coord.ReleaseStale(ctx, h.cfg.MaxLockAge, lock.OnRelease(func(recordID string) {
		h.broadcast(types.LockReleased(recordID), "")
	}))
	if err != nil {
		h.logger.Warn("stale lock sweep incomplete", "error", err)
	}
	return released
}

// Close disconnects every peer.
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	for _, id := range ids {
		h.Disconnect(ctx, id)
	}
}

type Stats struct {
	Peers      int
	Identified int
}

func (h *Hub) Stats() Stats {
	return Stats{
		Peers:      h.sessions.Count(),
		Identified: h.sessions.IdentifiedCount(),
	}
}

func (h *Hub) peer(connID string) *Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peers[connID]
}

// queues ev on every peer except exclude ("" = everyone)
func (h *Hub) broadcast(ev *types.Event, exclude string) {
	h.mu.RLock()
	targets := make([]*Peer, 0, len(h.peers))
	for id, p := range h.peers {
		if id != exclude {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	metrics.BroadcastTotal.WithLabelValues(string(ev.Type)).Inc()
	for _, p := range targets {
		h.send(p, ev)
	}
}

// queues ev on p, evicting p if it cannot keep up
func (h *Hub) send(p *Peer, ev *types.Event) {
	if p.enqueue(ev) {
		return
	}
	h.evict(p)
}

func (h *Hub) evict(p *Peer) {
	if !p.close() {
		return
	}
	metrics.PeerEvictionsTotal.Inc()
	h.logger.Warn("evicting slow peer", "conn", p.ID)

	// cleanup takes record stripes, which the caller may be holding
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		h.Disconnect(ctx, p.ID)
	}()
}

func (h *Hub) reject(p *Peer, ev *types.Event, reason string, err error) {
	metrics.EventsRejectedTotal.WithLabelValues(reason).Inc()

	t := types.EventRejected
	switch ev.Type {
	case types.EventRequestLock:
		t = types.EventLockFailed
	case types.EventRequestUnlock:
		t = types.EventUnlockFailed
	}
	h.send(p, types.Failure(t, ev.RecordID, err))
}

func (h *Hub) fail(p *Peer, t types.EventType, recordID string, err error) {
	if lock.IsServerError(err) {
		h.logger.Error("coordinator failure", "conn", p.ID, "record", recordID, "error", err)
		err = errServer
	}
	h.send(p, types.Failure(t, recordID, err))
}
