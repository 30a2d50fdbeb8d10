package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Record errors
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")

	// Lock errors
	ErrLockConflict = errors.New("record is locked by another user")
	ErrNotOwner     = errors.New("caller is not the lock owner")

	// Input errors
	ErrValidation      = errors.New("validation failed")
	ErrMissingIdentity = errors.New("caller identity required")

	// Store errors
	ErrPreconditionFailed = errors.New("lock owner changed concurrently")
	ErrContention         = errors.New("too much contention on record")
)

// returned when an operation is blocked by another identity's lock
// carries the current holder so the caller can decide what to do
type LockConflictError struct {
	RecordID   string
	Owner      string
	AcquiredAt time.Time
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("record %s is locked by %s since %s",
		e.RecordID, e.Owner, e.AcquiredAt.Format(time.RFC3339))
}

func (e *LockConflictError) Is(target error) bool {
	return target == ErrLockConflict
}

func NewLockConflict(recordID string, lock *Lock) *LockConflictError {
	return &LockConflictError{
		RecordID:   recordID,
		Owner:      lock.Owner,
		AcquiredAt: lock.AcquiredAt,
	}
}

// malformed input on a single field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// extracts the conflict details if err carries them
func AsLockConflict(err error) (*LockConflictError, bool) {
	var conflict *LockConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}
