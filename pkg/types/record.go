package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// the editable part of a record, owned by the request api
type Fields struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Notes   string `json:"notes"`
}

// trims surrounding whitespace from every field
func (f Fields) Normalize() Fields {
	return Fields{
		Name:    strings.TrimSpace(f.Name),
		Phone:   strings.TrimSpace(f.Phone),
		Address: strings.TrimSpace(f.Address),
		Notes:   strings.TrimSpace(f.Notes),
	}
}

// checks required fields after normalization
func (f Fields) Validate() error {
	n := f.Normalize()
	switch {
	case n.Name == "":
		return NewValidationError("name", "name is required")
	case n.Phone == "":
		return NewValidationError("phone", "phone number is required")
	case n.Address == "":
		return NewValidationError("address", "address is required")
	}
	return nil
}

// a contact record with its edit lock
// Lock is nil when the record is unlocked
type Record struct {
	ID string `json:"id"`
	Fields
	Lock      *Lock     `json:"lock,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// builds a fresh unlocked record with a random id
func NewRecord(fields Fields, now time.Time) *Record {
	return &Record{
		ID:        uuid.NewString(),
		Fields:    fields.Normalize(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// current lock owner, empty when unlocked
func (r *Record) LockOwner() string {
	return OwnerOf(r.Lock)
}

func (r *Record) IsLocked() bool {
	return r.Lock != nil
}

// deep copy, stores hand out clones so callers cannot mutate state in place
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Lock = r.Lock.Clone()
	return &c
}
