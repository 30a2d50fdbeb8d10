// Package logging builds the process logger. Every component receives a
// Named sub-logger of the root so output is tagged by subsystem, and the same
// logger is handed to hashicorp/raft.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Options controls the root logger.
type Options struct {
	Level  string    // trace, debug, info, warn, error
	JSON   bool      // emit one JSON object per line
	Output io.Writer // defaults to stderr
}

// New returns the root logger for the process.
func New(name string, opts Options) hclog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           ParseLevel(opts.Level),
		JSONFormat:      opts.JSON,
		Output:          out,
		IncludeLocation: false,
	})
}

// ParseLevel maps a config string onto an hclog level; unknown values mean info.
func ParseLevel(level string) hclog.Level {
	l := hclog.LevelFromString(strings.ToLower(strings.TrimSpace(level)))
	if l == hclog.NoLevel {
		return hclog.Info
	}
	return l
}

// OrNull returns l, or a logger that discards everything when l is nil.
func OrNull(l hclog.Logger) hclog.Logger {
	if l == nil {
		return hclog.NewNullLogger()
	}
	return l
}
