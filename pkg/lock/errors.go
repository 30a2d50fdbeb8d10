package lock

import (
	"errors"
	"fmt"
)

// ServerError wraps storage and transport failures so callers can tell them
// apart from lock outcomes. Timeouts land here too.
type ServerError struct {
	Op  string
	Err error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

func serverError(op string, err error) error {
	var already *ServerError
	if errors.As(err, &already) {
		return err
	}
	return &ServerError{Op: op, Err: err}
}

// IsServerError reports whether err is a storage or transport failure.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}
