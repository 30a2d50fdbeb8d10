package types

import "time"

// a lock is an exclusive edit claim by one identity on one record
// owner and acquisition time live together so one is never set without the other
type Lock struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// reports whether the lock is held by identity
func (l *Lock) HeldBy(identity string) bool {
	return l != nil && l.Owner == identity
}

// owner of a possibly nil lock, empty when unlocked
func OwnerOf(l *Lock) string {
	if l == nil {
		return ""
	}
	return l.Owner
}

// returns a copy so callers never share a lock value with the store
func (l *Lock) Clone() *Lock {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}
