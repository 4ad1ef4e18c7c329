package model

import (
	"encoding/json"
	"time"
)

// LockRecord is the stored lock for one conversation. At most one record
// exists per ConversationID; absence means unlocked.
type LockRecord struct {
	ConversationID string    `json:"conversation_id"`
	HolderID       string    `json:"holder_id"`
	HolderName     string    `json:"holder_name"`
	AcquiredAt     time.Time `json:"acquired_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	FencingToken   int64     `json:"fence"`
}

// IsExpired returns true if the lease has run out at now.
func (l *LockRecord) IsExpired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// IsHeldBy returns true if holderID holds an unexpired lease at now.
func (l *LockRecord) IsHeldBy(holderID string, now time.Time) bool {
	return l.HolderID == holderID && !l.IsExpired(now)
}

// LockPolicy configures lock timing parameters.
type LockPolicy struct {
	LeaseDuration     time.Duration `json:"lease_duration" yaml:"lease"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	SweepInterval     time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

// DefaultLockPolicy returns a 60s lease renewed every 20s.
func DefaultLockPolicy() LockPolicy {
	return LockPolicy{
		LeaseDuration:     60 * time.Second,
		HeartbeatInterval: 20 * time.Second,
		SweepInterval:     30 * time.Second,
	}
}

// LockRequest asks the store to grant or renew a lease.
type LockRequest struct {
	ConversationID string
	HolderID       string
	HolderName     string
	Now            time.Time
	Lease          time.Duration
	// RenewOnly limits the request to extending a lease the holder already
	// has. It never creates a lock or takes one over.
	RenewOnly bool
}

// Outcome classifies what a store transition did.
type Outcome string

const (
	// OutcomeGranted: the conversation was free and the caller now holds it.
	OutcomeGranted Outcome = "granted"
	// OutcomeRenewed: the caller already held it; the lease was extended.
	OutcomeRenewed Outcome = "renewed"
	// OutcomeTakenOver: another holder's lease had expired and the caller replaced it.
	OutcomeTakenOver Outcome = "taken_over"
	// OutcomeDenied: another holder has an active lease. State is unchanged.
	OutcomeDenied Outcome = "denied"
	// OutcomeNotHeld: a renewal found no lease of the caller's to extend.
	// State is unchanged.
	OutcomeNotHeld Outcome = "not_held"
)

// Transition is the result of one atomic acquire/renew against the store.
// Current is the record after the transition: the caller's own on success,
// the existing holder's on denial. Previous is set on takeover.
type Transition struct {
	Outcome  Outcome
	Current  LockRecord
	Previous *LockRecord
}

// Granted reports whether the caller holds the lock after the transition.
func (t Transition) Granted() bool {
	switch t.Outcome {
	case OutcomeGranted, OutcomeRenewed, OutcomeTakenOver:
		return true
	default:
		return false
	}
}

// LockResult is returned by Acquire and Heartbeat. Contention is not an
// error: Locked is false and the holder fields name the current holder,
// or are empty when a heartbeat finds the conversation free.
type LockResult struct {
	ConversationID string    `json:"conversation_id"`
	Locked         bool      `json:"locked"`
	HolderID       string    `json:"holder_id"`
	HolderName     string    `json:"holder_name"`
	AcquiredAt     time.Time `json:"acquired_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	FencingToken   int64     `json:"fence,omitempty"`
}

// ResultFromTransition builds the caller-facing result of a transition.
func ResultFromTransition(t Transition) LockResult {
	res := LockResult{
		ConversationID: t.Current.ConversationID,
		Locked:         t.Granted(),
		HolderID:       t.Current.HolderID,
		HolderName:     t.Current.HolderName,
		AcquiredAt:     t.Current.AcquiredAt,
		ExpiresAt:      t.Current.ExpiresAt,
	}
	if res.Locked {
		res.FencingToken = t.Current.FencingToken
	}
	return res
}

// MarshalJSON writes null holder fields when nobody holds the conversation.
func (r LockResult) MarshalJSON() ([]byte, error) {
	type plain LockResult
	if r.HolderID != "" {
		return json.Marshal(plain(r))
	}
	return json.Marshal(struct {
		ConversationID string  `json:"conversation_id"`
		Locked         bool    `json:"locked"`
		HolderID       *string `json:"holder_id"`
		HolderName     *string `json:"holder_name"`
	}{ConversationID: r.ConversationID, Locked: r.Locked})
}

// LockState describes the observable state of a conversation lock.
type LockState string

const (
	LockStateFree LockState = "free"
	LockStateHeld LockState = "held"
)

// LockStatus is the read-only view used for "locked by X" badges. An
// expired record is reported as free.
type LockStatus struct {
	ConversationID string     `json:"conversation_id"`
	State          LockState  `json:"state"`
	HolderID       string     `json:"holder_id,omitempty"`
	HolderName     string     `json:"holder_name,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// Locked reports whether someone holds the conversation.
func (s LockStatus) Locked() bool {
	return s.State == LockStateHeld
}

// StatusOf derives the status of conversationID from rec at now.
func StatusOf(conversationID string, rec *LockRecord, now time.Time) LockStatus {
	if rec == nil || rec.IsExpired(now) {
		return LockStatus{ConversationID: conversationID, State: LockStateFree}
	}
	expires := rec.ExpiresAt
	return LockStatus{
		ConversationID: conversationID,
		State:          LockStateHeld,
		HolderID:       rec.HolderID,
		HolderName:     rec.HolderName,
		ExpiresAt:      &expires,
	}
}
