package model

import "time"

// LockEventType names a committed lock transition.
type LockEventType string

const (
	EventLockAcquired  LockEventType = "lock.acquired"
	EventLockRenewed   LockEventType = "lock.renewed"
	EventLockTakenOver LockEventType = "lock.taken_over"
	EventLockReleased  LockEventType = "lock.released"
	EventLockExpired   LockEventType = "lock.expired"
)

// LockEvent is emitted to observers after a transition has been committed.
type LockEvent struct {
	Type             LockEventType `json:"event"`
	Timestamp        time.Time     `json:"timestamp"`
	ConversationID   string        `json:"conversation_id"`
	HolderID         string        `json:"holder_id"`
	HolderName       string        `json:"holder_name,omitempty"`
	PreviousHolderID string        `json:"previous_holder_id,omitempty"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty"`
	FencingToken     int64         `json:"fence,omitempty"`
}

// EventTypeFor maps a successful acquire outcome to its event type.
func EventTypeFor(o Outcome) (LockEventType, bool) {
	switch o {
	case OutcomeGranted:
		return EventLockAcquired, true
	case OutcomeRenewed:
		return EventLockRenewed, true
	case OutcomeTakenOver:
		return EventLockTakenOver, true
	default:
		return "", false
	}
}
