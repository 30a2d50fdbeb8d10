package lock

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const DefaultStripes = 64

// Stripes is a fixed set of mutexes keyed by record id. Holding a record's
// stripe across a coordinator call and the fan-out of its events keeps
// per-record event order equal to the order the store accepted the writes.
type Stripes struct {
	mu []sync.Mutex
}

func NewStripes(n int) *Stripes {
	if n <= 0 {
		n = DefaultStripes
	}
	return &Stripes{mu: make([]sync.Mutex, n)}
}

// Lock takes the stripe for key and returns its unlock.
func (s *Stripes) Lock(key string) func() {
	m := &s.mu[xxhash.Sum64String(key)%uint64(len(s.mu))]
	m.Lock()
	return m.Unlock
}
