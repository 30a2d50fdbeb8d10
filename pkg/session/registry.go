// Package session tracks the live real-time connections and the identity each
// one has declared. It is process-local and never persisted.
package session

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrIdentityMismatch  = errors.New("connection already identified as another user")
	ErrEmptyIdentity     = errors.New("identity must not be empty")
)

type Session struct {
	ConnID      string
	Identity    string // empty until identify
	ConnectedAt time.Time
}

// Registry maps connection ids to sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Open registers a new unidentified connection.
func (r *Registry) Open(connID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[connID] = &Session{ConnID: connID, ConnectedAt: at}
}

// Identify binds identity to the connection. A connection's identity is set
// once: repeating the same identity is a no-op, a different one is refused.
func (r *Registry) Identify(connID, identity string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if s.Identity != "" && s.Identity != identity {
		return ErrIdentityMismatch
	}
	s.Identity = identity
	return nil
}

// Identity returns the declared identity, empty if the connection has not identified.
func (r *Registry) Identity(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[connID]; ok {
		return s.Identity
	}
	return ""
}

// Remove forgets the connection and returns what it was, if anything.
func (r *Registry) Remove(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, connID)
	return *s, true
}

// ConnectionsOf counts open connections that identified as identity.
func (r *Registry) ConnectionsOf(identity string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, s := range r.sessions {
		if s.Identity == identity {
			n++
		}
	}
	return n
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) IdentifiedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, s := range r.sessions {
		if s.Identity != "" {
			n++
		}
	}
	return n
}
