package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/go-hclog"
	pb "github.com/pixperk/rolodex/api/v1"
	"github.com/pixperk/rolodex/pkg/logging"
	"github.com/pixperk/rolodex/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
)

const eventBuffer = 256

var ErrClosed = errors.New("client closed")

type Option func(*Client)

// extra dial options, e.g. a bufconn dialer in tests
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
}

func WithLogger(l hclog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// real-time client for one identity over the gRPC Connect stream
type Client struct {
	addr     string
	identity string
	conn     *grpc.ClientConn
	client   pb.RealtimeClient
	dialOpts []grpc.DialOption
	logger   hclog.Logger

	stream pb.Realtime_ConnectClient
	sendMu sync.Mutex

	events chan *types.Event

	mu      sync.Mutex
	waiters map[waitKey]chan *types.Event

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error
}

// replies are matched to waiters by request kind and record
type waitKey struct {
	kind     types.EventType
	recordID string
}

func NewClient(addr, identity string, opts ...Option) (*Client, error) {
	c := &Client{
		addr:     addr,
		identity: identity,
		dialOpts: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		events:   make(chan *types.Event, eventBuffer),
		waiters:  make(map[waitKey]chan *types.Event),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNull(c.logger)

	conn, err := grpc.NewClient(addr, c.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn
	c.client = pb.NewRealtimeClient(conn)
	return c, nil
}

// opens the stream and identifies; events flow until Stop or ctx ends
func (c *Client) Start(ctx context.Context) error {
	stream, err := c.client.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	c.stream = stream

	go c.recvLoop()

	if err := c.Identify(); err != nil {
		return fmt.Errorf("identify: %w", err)
	}
	return nil
}

func (c *Client) Identify() error {
	return c.send(&types.Event{Type: types.EventIdentify, Identity: c.identity})
}

// fire-and-forget lock request, the outcome arrives on Events
func (c *Client) RequestLock(recordID string) error {
	return c.send(&types.Event{Type: types.EventRequestLock, RecordID: recordID})
}

func (c *Client) RequestUnlock(recordID string) error {
	return c.send(&types.Event{Type: types.EventRequestUnlock, RecordID: recordID})
}

// tells other peers the record was saved
func (c *Client) NotifyUpdated(rec *types.Record) error {
	return c.send(&types.Event{Type: types.EventNotifyUpdated, RecordID: rec.ID, Record: rec})
}

func (c *Client) NotifyDeleted(recordID string) error {
	return c.send(&types.Event{Type: types.EventNotifyDeleted, RecordID: recordID})
}

// Acquire requests the lock and waits for the outcome.
func (c *Client) Acquire(ctx context.Context, recordID string) (*Lock, error) {
	reply, err := c.roundTrip(ctx, types.EventRequestLock, recordID)
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if reply.Type != types.EventLockSucceeded {
		return nil, fmt.Errorf("acquire lock: %w", failureError(reply))
	}

	l := &Lock{client: c, recordID: recordID, owner: reply.Owner}
	if reply.AcquiredAt != nil {
		l.acquiredAt = *reply.AcquiredAt
	}
	return l, nil
}

// Release gives the lock back and waits for the outcome.
func (c *Client) Release(ctx context.Context, recordID string) error {
	reply, err := c.roundTrip(ctx, types.EventRequestUnlock, recordID)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if reply.Type != types.EventUnlockSucceeded {
		return fmt.Errorf("release lock: %w", failureError(reply))
	}
	return nil
}

// every event from the server; slow readers miss events rather than stall the stream
func (c *Client) Events() <-chan *types.Event {
	return c.events
}

// closed when the stream ends
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// why the stream ended, nil on a clean close
func (c *Client) Err() error {
	<-c.done
	return c.err
}

func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	st, err := c.client.Status(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, err
	}
	return st.AsMap(), nil
}

func (c *Client) Stop() error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if c.stream != nil {
			c.sendMu.Lock()
			c.stream.CloseSend()
			c.sendMu.Unlock()
		}
	})

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, kind types.EventType, recordID string) (*types.Event, error) {
	key := waitKey{kind: kind, recordID: recordID}
	ch := make(chan *types.Event, 1)

	c.mu.Lock()
	if _, busy := c.waiters[key]; busy {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s already pending for %s", kind, recordID)
	}
	c.waiters[key] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, key)
		c.mu.Unlock()
	}()

	if err := c.send(&types.Event{Type: kind, RecordID: recordID}); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) send(ev *types.Event) error {
	if c.stream == nil {
		return errors.New("client not started")
	}
	select {
	case <-c.stopCh:
		return ErrClosed
	default:
	}

	msg, err := types.EventToStruct(ev)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.stream.Send(msg)
}

func (c *Client) recvLoop() {
	defer close(c.done)

	for {
		msg, err := c.stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.err = err
				c.logger.Warn("stream closed", "identity", c.identity, "error", err)
			}
			return
		}

		ev, err := types.EventFromStruct(msg)
		if err != nil {
			c.logger.Warn("undecodable event", "error", err)
			continue
		}

		c.deliver(ev)
	}
}

func (c *Client) deliver(ev *types.Event) {
	if kind, ok := requestFor(ev.Type); ok {
		c.mu.Lock()
		ch := c.waiters[waitKey{kind: kind, recordID: ev.RecordID}]
		c.mu.Unlock()
		if ch != nil {
			select {
			case ch <- ev:
			default:
			}
		}
	}

	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event buffer full, dropping event", "type", ev.Type, "record", ev.RecordID)
	}
}

// request kind a private reply answers
func requestFor(t types.EventType) (types.EventType, bool) {
	switch t {
	case types.EventLockSucceeded, types.EventLockFailed:
		return types.EventRequestLock, true
	case types.EventUnlockSucceeded, types.EventUnlockFailed:
		return types.EventRequestUnlock, true
	}
	return "", false
}

// rebuilds a domain error from a failure reply
func failureError(ev *types.Event) error {
	if ev.Owner != "" && ev.AcquiredAt != nil {
		return &types.LockConflictError{RecordID: ev.RecordID, Owner: ev.Owner, AcquiredAt: *ev.AcquiredAt}
	}
	for _, known := range []error{types.ErrNotFound, types.ErrNotOwner, types.ErrMissingIdentity} {
		if ev.Reason == known.Error() {
			return known
		}
	}
	return errors.New(ev.Reason)
}
