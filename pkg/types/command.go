package types

import "time"

// type of FSM command
type CommandType uint

const (
	CommandTypeInsertRecord CommandType = iota + 1
	CommandTypeSwapLock
	CommandTypeReplaceFields
	CommandTypeDeleteRecord
)

var commandTypeNames = map[CommandType]string{
	CommandTypeInsertRecord:  "insert_record",
	CommandTypeSwapLock:      "swap_lock",
	CommandTypeReplaceFields: "replace_fields",
	CommandTypeDeleteRecord:  "delete_record",
}

func (t CommandType) String() string {
	if name, ok := commandTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// interface all FSM commands implement
type Command interface {
	Type() CommandType
}

// inserts a new, unlocked record
type InsertRecordCmd struct {
	Record *Record
}

func (c InsertRecordCmd) Type() CommandType { return CommandTypeInsertRecord }

// sets or clears the lock if the current owner is still Expected
// Expected "" means the record must be unlocked
// Next nil clears the lock
type SwapLockCmd struct {
	RecordID string
	Expected string
	Next     *Lock
}

func (c SwapLockCmd) Type() CommandType { return CommandTypeSwapLock }

// replaces the fields and clears the lock if the current owner is still Expected
type ReplaceFieldsCmd struct {
	RecordID string
	Expected string
	Fields   Fields
	At       time.Time // carried in the command so replicas agree
}

func (c ReplaceFieldsCmd) Type() CommandType { return CommandTypeReplaceFields }

// removes the record if the current owner is still Expected
type DeleteRecordCmd struct {
	RecordID string
	Expected string
}

func (c DeleteRecordCmd) Type() CommandType { return CommandTypeDeleteRecord }
