package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// ValidationError is a single invalid setting
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

func ValidDrivers() []string {
	return []string{"memory", "bolt", "sqlite", "raft"}
}

func ValidLogLevels() []string {
	return []string{"trace", "debug", "info", "warn", "error"}
}

// Validate returns every invalid setting in c
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if c.Server.HTTPAddr == "" {
		add("server.http_addr", c.Server.HTTPAddr, "must not be empty")
	}
	if c.Server.GRPCAddr == "" {
		add("server.grpc_addr", c.Server.GRPCAddr, "must not be empty")
	}

	if !slices.Contains(ValidDrivers(), c.Store.Driver) {
		add("store.driver", c.Store.Driver, "must be one of "+strings.Join(ValidDrivers(), ", "))
	}
	if (c.Store.Driver == "bolt" || c.Store.Driver == "sqlite") && c.Store.Path == "" {
		add("store.path", c.Store.Path, "required for "+c.Store.Driver)
	}
	if c.Store.Timeout <= 0 {
		add("store.timeout", c.Store.Timeout, "must be positive")
	}
	if c.Store.CASAttempts < 1 {
		add("store.cas_attempts", c.Store.CASAttempts, "must be at least 1")
	}

	if c.Store.Driver == "raft" {
		if c.Raft.NodeID != "" {
			if _, err := uuid.Parse(c.Raft.NodeID); err != nil {
				add("raft.node_id", c.Raft.NodeID, "must be a UUID")
			}
		}
		if c.Raft.BindAddr == "" {
			add("raft.bind_addr", c.Raft.BindAddr, "must not be empty")
		}
		if c.Raft.DataDir == "" {
			add("raft.data_dir", c.Raft.DataDir, "must not be empty")
		}
	}

	if c.Gateway.OutboundBuffer < 1 {
		add("gateway.outbound_buffer", c.Gateway.OutboundBuffer, "must be at least 1")
	}
	if c.Gateway.EventsPerSecond <= 0 {
		add("gateway.events_per_second", c.Gateway.EventsPerSecond, "must be positive")
	}
	if c.Gateway.EventBurst < 1 {
		add("gateway.event_burst", c.Gateway.EventBurst, "must be at least 1")
	}

	if c.Locks.MaxAge < 0 {
		add("locks.max_age", c.Locks.MaxAge, "must not be negative")
	}
	if c.Locks.MaxAge > 0 && c.Locks.ReapInterval <= 0 {
		add("locks.reap_interval", c.Locks.ReapInterval, "must be positive when locks.max_age is set")
	}

	seen := make(map[string]bool)
	for i, u := range c.Auth.Users {
		field := fmt.Sprintf("auth.users[%d].username", i)
		switch {
		case u.Username == "":
			add(field, u.Username, "must not be empty")
		case seen[u.Username]:
			add(field, u.Username, "duplicate user")
		}
		seen[u.Username] = true
	}

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		add("logging.level", c.Logging.Level, "must be one of "+strings.Join(ValidLogLevels(), ", "))
	}

	return errs
}
