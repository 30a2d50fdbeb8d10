package hub

import (
	"sync"

	"github.com/pixperk/rolodex/pkg/types"
	"golang.org/x/time/rate"
)

// one real-time connection as the hub sees it
// the transport drains Outbound and stops once Done is closed
type Peer struct {
	ID string

	out     chan *types.Event
	limiter *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(id string, buffer int, limit rate.Limit, burst int) *Peer {
	return &Peer{
		ID:      id,
		out:     make(chan *types.Event, buffer),
		limiter: rate.NewLimiter(limit, burst),
		done:    make(chan struct{}),
	}
}

// events queued for delivery to this peer
func (p *Peer) Outbound() <-chan *types.Event {
	return p.out
}

// closed once the peer is disconnected or evicted
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// queues ev without blocking, false when the queue is full or the peer is gone
func (p *Peer) enqueue(ev *types.Event) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.out <- ev:
		return true
	default:
		return false
	}
}

func (p *Peer) close() bool {
	closed := false
	p.closeOnce.Do(func() {
		close(p.done)
		closed = true
	})
	return closed
}
