package types

import "time"

// type of real-time channel event
type EventType string

const (
	// client -> server
	EventIdentify      EventType = "identify"
	EventRequestLock   EventType = "requestLock"
	EventRequestUnlock EventType = "requestUnlock"
	EventNotifyUpdated EventType = "notifyUpdated"
	EventNotifyDeleted EventType = "notifyDeleted"

	// server -> peers
	EventLockGranted   EventType = "lockGranted"
	EventLockReleased  EventType = "lockReleased"
	EventRecordChanged EventType = "recordChanged"
	EventRecordRemoved EventType = "recordRemoved"

	// server -> requester only
	EventLockSucceeded   EventType = "lockSucceeded"
	EventUnlockSucceeded EventType = "unlockSucceeded"
	EventLockFailed      EventType = "lockFailed"
	EventUnlockFailed    EventType = "unlockFailed"
	EventRejected        EventType = "rejected"
)

// single envelope for every real-time message in both directions
type Event struct {
	Type       EventType  `json:"type"`
	RecordID   string     `json:"recordId,omitempty"`
	Identity   string     `json:"identity,omitempty"`
	Owner      string     `json:"owner,omitempty"`
	AcquiredAt *time.Time `json:"acquiredAt,omitempty"`
	Record     *Record    `json:"record,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

func LockGranted(recordID string, lock *Lock) *Event {
	at := lock.AcquiredAt
	return &Event{Type: EventLockGranted, RecordID: recordID, Owner: lock.Owner, AcquiredAt: &at}
}

func LockReleased(recordID string) *Event {
	return &Event{Type: EventLockReleased, RecordID: recordID}
}

func RecordChanged(r *Record) *Event {
	return &Event{Type: EventRecordChanged, RecordID: r.ID, Record: r}
}

func RecordRemoved(recordID string) *Event {
	return &Event{Type: EventRecordRemoved, RecordID: recordID}
}

// private failure reply; conflict details are attached when err carries them
func Failure(t EventType, recordID string, err error) *Event {
	ev := &Event{Type: t, RecordID: recordID, Reason: err.Error()}
	if conflict, ok := AsLockConflict(err); ok {
		at := conflict.AcquiredAt
		ev.Owner = conflict.Owner
		ev.AcquiredAt = &at
		ev.Reason = ErrLockConflict.Error()
	}
	return ev
}
