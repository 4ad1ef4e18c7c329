package model

import "time"

// StatusView is the JSON shape of a LockStatus on the HTTP surface. The
// nullable fields are null when the conversation is free.
type StatusView struct {
	ConversationID string     `json:"conversation_id"`
	LockedBy       *string    `json:"locked_by"`
	LockHolderName *string    `json:"lock_holder_name"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

// View converts s to its wire form.
func (s LockStatus) View() StatusView {
	v := StatusView{ConversationID: s.ConversationID}
	if s.Locked() {
		id, name := s.HolderID, s.HolderName
		v.LockedBy = &id
		v.LockHolderName = &name
		v.ExpiresAt = s.ExpiresAt
	}
	return v
}

// Status converts a wire view back to a LockStatus.
func (v StatusView) Status() LockStatus {
	if v.LockedBy == nil {
		return LockStatus{ConversationID: v.ConversationID, State: LockStateFree}
	}
	st := LockStatus{
		ConversationID: v.ConversationID,
		State:          LockStateHeld,
		HolderID:       *v.LockedBy,
		ExpiresAt:      v.ExpiresAt,
	}
	if v.LockHolderName != nil {
		st.HolderName = *v.LockHolderName
	}
	return st
}

// StatusList is the response of a batch status query.
type StatusList struct {
	Statuses []StatusView `json:"statuses"`
}

// ReleaseResult reports whether a release removed the caller's lock.
type ReleaseResult struct {
	ConversationID string `json:"conversation_id"`
	Released       bool   `json:"released"`
}

// VerifyRequest optionally pins the fencing token the caller was granted.
type VerifyRequest struct {
	Fence int64 `json:"fence,omitempty"`
}

// VerifyResult answers whether the caller may send on a conversation.
type VerifyResult struct {
	Held   bool       `json:"held"`
	Code   string     `json:"code,omitempty"`
	Status StatusView `json:"status"`
}

// ErrorBody is the JSON body of every failed request.
type ErrorBody struct {
	OK        bool   `json:"ok"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
