// Package store holds conversation lock records. Every mutation is one
// atomic step keyed by conversation id; callers never read, decide and
// write in separate steps.
package store

import (
	"context"
	"time"

	"github.com/flirtduo/chatlock/pkg/model"
)

// Store is the single shared mutable resource behind the lock manager.
type Store interface {
	// Acquire grants or renews req.HolderID's lease on req.ConversationID
	// following Resolve. A denied transition leaves the record untouched
	// and reports the current holder.
	Acquire(ctx context.Context, req model.LockRequest) (model.Transition, error)

	// Release deletes the record only if holderID holds it, returning the
	// removed record, or nil when nothing was removed.
	Release(ctx context.Context, conversationID, holderID string) (*model.LockRecord, error)

	// Get returns the stored record or nil. Expiry is not applied.
	Get(ctx context.Context, conversationID string) (*model.LockRecord, error)

	// GetMany returns stored records keyed by conversation id; ids
	// without a record are absent from the map.
	GetMany(ctx context.Context, conversationIDs []string) (map[string]model.LockRecord, error)

	// Sweep deletes every record expired at now and returns them.
	Sweep(ctx context.Context, now time.Time) ([]model.LockRecord, error)

	Close() error
}

// Resolve is the transition rule shared by all stores. existing is the
// stored record or nil; nextFence is called only when a new holder is
// installed and must return a token greater than any issued before.
// A RenewOnly request never grants a free conversation or takes one over.
func Resolve(existing *model.LockRecord, req model.LockRequest, nextFence func() int64) model.Transition {
	expires := req.Now.Add(req.Lease)

	switch {
	case req.RenewOnly && (existing == nil || existing.HolderID != req.HolderID):
		if existing != nil && !existing.IsExpired(req.Now) {
			return model.Transition{Outcome: model.OutcomeDenied, Current: *existing}
		}
		return model.Transition{
			Outcome: model.OutcomeNotHeld,
			Current: model.LockRecord{ConversationID: req.ConversationID},
		}

	case existing == nil:
		return model.Transition{
			Outcome: model.OutcomeGranted,
			Current: newRecord(req, expires, nextFence()),
		}

	case existing.HolderID == req.HolderID:
		// Same holder, active or lapsed: nobody else took it, so keep the
		// original grant time and fence and push the lease out.
		cur := *existing
		cur.HolderName = req.HolderName
		cur.ExpiresAt = expires
		if existing.IsExpired(req.Now) {
			cur.AcquiredAt = req.Now
		}
		return model.Transition{Outcome: model.OutcomeRenewed, Current: cur}

	case existing.IsExpired(req.Now):
		prev := *existing
		return model.Transition{
			Outcome:  model.OutcomeTakenOver,
			Current:  newRecord(req, expires, nextFence()),
			Previous: &prev,
		}

	default:
		return model.Transition{Outcome: model.OutcomeDenied, Current: *existing}
	}
}

func newRecord(req model.LockRequest, expires time.Time, fence int64) model.LockRecord {
	return model.LockRecord{
		ConversationID: req.ConversationID,
		HolderID:       req.HolderID,
		HolderName:     req.HolderName,
		AcquiredAt:     req.Now,
		ExpiresAt:      expires,
		FencingToken:   fence,
	}
}
