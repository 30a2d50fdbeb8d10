// Package auth resolves login credentials to the opaque identity used for locks.
package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type User struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type Authenticator interface {
	Authenticate(username, password string) (*User, error)
}

// Static checks credentials against a fixed user list.
// The username doubles as the identity.
type Static struct {
	passwords map[string]string
}

func NewStatic(users map[string]string) *Static {
	s := &Static{passwords: make(map[string]string, len(users))}
	for name, pw := range users {
		s.passwords[name] = pw
	}
	return s
}

func (s *Static) Authenticate(username, password string) (*User, error) {
	want, ok := s.passwords[username]
	if !ok || username == "" {
		return nil, ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(password)) != 1 {
		return nil, ErrInvalidCredentials
	}
	return &User{UserID: username, Username: username}, nil
}
