// Package lock implements the conversation lock manager: leased, fenced
// mutual exclusion over conversations shared by many chatters.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/flirtduo/chatlock/internal/auth"
	"github.com/flirtduo/chatlock/internal/conversation"
	"github.com/flirtduo/chatlock/internal/store"
	"github.com/flirtduo/chatlock/pkg/clock"
	"github.com/flirtduo/chatlock/pkg/errclass"
	"github.com/flirtduo/chatlock/pkg/idutil"
	"github.com/flirtduo/chatlock/pkg/logging"
	"github.com/flirtduo/chatlock/pkg/metrics"
	"github.com/flirtduo/chatlock/pkg/model"
)

// Observer receives committed lock events. Notify must not block; slow
// observers queue internally.
type Observer interface {
	Notify(event model.LockEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(model.LockEvent)

func (f ObserverFunc) Notify(e model.LockEvent) { f(e) }

// Manager handles conversation lock operations. All coordination goes
// through the store; Manager keeps no lock state of its own and several
// managers may share one store.
type Manager struct {
	store         store.Store
	conversations conversation.Store
	policy        model.LockPolicy
	clock         clock.Clock
	logger        *logging.Logger
	metrics       *metrics.Registry
	backoff       Backoff
	observers     []Observer
}

// NewManager creates a lock manager over st. conversations may be nil, in
// which case every conversation id is accepted.
func NewManager(st store.Store, conversations conversation.Store, opts ...Option) *Manager {
	if conversations == nil {
		conversations = conversation.Any{}
	}
	m := &Manager{
		store:         st,
		conversations: conversations,
		policy:        model.DefaultLockPolicy(),
		clock:         clock.Real(),
		logger:        logging.Discard(),
		backoff:       DefaultBackoff(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the lease timing in effect.
func (m *Manager) Policy() model.LockPolicy {
	return m.policy
}

// Acquire grants p the lock on conversationID, renews it if p already
// holds it, or reports the current holder. Contention is not an error.
func (m *Manager) Acquire(ctx context.Context, conversationID string, p auth.Principal) (model.LockResult, error) {
	return m.acquire(ctx, "acquire", conversationID, p, false)
}

// Heartbeat extends p's lease. It only renews: a lapsed lease nobody else
// took is extended, a lock now held by someone else comes back with Locked
// false and the new holder, and a conversation that is free (released,
// swept or never locked) comes back with Locked false and no holder.
func (m *Manager) Heartbeat(ctx context.Context, conversationID string, p auth.Principal) (model.LockResult, error) {
	return m.acquire(ctx, "heartbeat", conversationID, p, true)
}

func (m *Manager) acquire(ctx context.Context, op, conversationID string, p auth.Principal, renewOnly bool) (res model.LockResult, err error) {
	start := time.Now()
	outcome := ""
	defer func() { m.record(op, outcome, err, start) }()

	if err := m.validate(conversationID, p.ID); err != nil {
		return res, err
	}
	if err := m.checkExists(ctx, conversationID); err != nil {
		return res, err
	}

	req := model.LockRequest{
		ConversationID: conversationID,
		HolderID:       p.ID,
		HolderName:     idutil.NormalizeDisplayName(p.DisplayName, p.ID),
		Lease:          m.policy.LeaseDuration,
		RenewOnly:      renewOnly,
	}
	var tr model.Transition
	err = m.retry(ctx, op, func(ctx context.Context) error {
		req.Now = m.now()
		var err error
		tr, err = m.store.Acquire(ctx, req)
		return err
	})
	if err != nil {
		m.logger.ErrorErr("lock "+op+" failed", err, map[string]any{
			"conversation_id": conversationID,
			"holder_id":       p.ID,
		})
		return res, err
	}

	outcome = string(tr.Outcome)
	fields := map[string]any{
		"conversation_id": conversationID,
		"holder_id":       tr.Current.HolderID,
		"outcome":         outcome,
	}
	if tr.Granted() {
		fields["expires_at"] = tr.Current.ExpiresAt
		fields["fence"] = tr.Current.FencingToken
	} else {
		fields["requested_by"] = p.ID
	}
	if tr.Outcome == model.OutcomeRenewed {
		m.logger.Debug("lock "+op, fields)
	} else {
		m.logger.Info("lock "+op, fields)
	}

	if typ, ok := model.EventTypeFor(tr.Outcome); ok {
		ev := eventFrom(typ, tr.Current, req.Now)
		if tr.Previous != nil {
			ev.PreviousHolderID = tr.Previous.HolderID
		}
		m.emit(ev)
	}
	return model.ResultFromTransition(tr), nil
}

// Release deletes the lock if holderID holds it and reports whether it
// did. Releasing someone else's lock, or a lock that no longer exists, is
// a silent no-op: the caller's belief that it holds the lock may be stale.
func (m *Manager) Release(ctx context.Context, conversationID, holderID string) (released bool, err error) {
	start := time.Now()
	outcome := ""
	defer func() { m.record("release", outcome, err, start) }()

	if err := m.validate(conversationID, holderID); err != nil {
		return false, err
	}

	var removed *model.LockRecord
	err = m.retry(ctx, "release", func(ctx context.Context) error {
		var err error
		removed, err = m.store.Release(ctx, conversationID, holderID)
		return err
	})
	if err != nil {
		return false, err
	}
	if removed == nil {
		outcome = "not_held"
		m.logger.Debug("lock release ignored", map[string]any{
			"conversation_id": conversationID,
			"holder_id":       holderID,
		})
		return false, nil
	}

	outcome = "released"
	m.logger.Info("lock released", map[string]any{
		"conversation_id": conversationID,
		"holder_id":       holderID,
	})
	ev := eventFrom(model.EventLockReleased, *removed, m.now())
	ev.ExpiresAt = nil
	m.emit(ev)
	return true, nil
}

// Status reports who holds conversationID. A lease that has run out is
// reported free even if the sweeper has not removed it yet.
func (m *Manager) Status(ctx context.Context, conversationID string) (st model.LockStatus, err error) {
	start := time.Now()
	defer func() { m.record("status", string(st.State), err, start) }()

	if err := idutil.ValidateConversationID(conversationID); err != nil {
		return st, err
	}
	var rec *model.LockRecord
	err = m.retry(ctx, "status", func(ctx context.Context) error {
		var err error
		rec, err = m.store.Get(ctx, conversationID)
		return err
	})
	if err != nil {
		return st, err
	}
	return model.StatusOf(conversationID, rec, m.now()), nil
}

// StatusMany is Status for a conversation list, in the order given.
func (m *Manager) StatusMany(ctx context.Context, conversationIDs []string) (out []model.LockStatus, err error) {
	start := time.Now()
	defer func() { m.record("status_many", "", err, start) }()

	for _, id := range conversationIDs {
		if err := idutil.ValidateConversationID(id); err != nil {
			return nil, err
		}
	}
	var recs map[string]model.LockRecord
	err = m.retry(ctx, "status_many", func(ctx context.Context) error {
		var err error
		recs, err = m.store.GetMany(ctx, conversationIDs)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := m.now()
	out = make([]model.LockStatus, 0, len(conversationIDs))
	for _, id := range conversationIDs {
		var rec *model.LockRecord
		if r, ok := recs[id]; ok {
			rec = &r
		}
		out = append(out, model.StatusOf(id, rec, now))
	}
	return out, nil
}

// Verify gates a send: it succeeds only if holderID holds an unexpired
// lease on conversationID and, when fence is non-zero, the lease still
// carries that fencing token. The returned status names the actual
// holder either way.
func (m *Manager) Verify(ctx context.Context, conversationID, holderID string, fence int64) (st model.LockStatus, err error) {
	start := time.Now()
	outcome := ""
	defer func() { m.record("verify", outcome, err, start) }()

	if err := m.validate(conversationID, holderID); err != nil {
		return model.LockStatus{}, err
	}
	var rec *model.LockRecord
	err = m.retry(ctx, "verify", func(ctx context.Context) error {
		var err error
		rec, err = m.store.Get(ctx, conversationID)
		return err
	})
	if err != nil {
		return model.LockStatus{}, err
	}

	now := m.now()
	st = model.StatusOf(conversationID, rec, now)
	if rec == nil || !rec.IsHeldBy(holderID, now) {
		if st.Locked() {
			return st, errclass.ErrLockNotHeld.WithMessagef("conversation %s is locked by %s", conversationID, st.HolderID)
		}
		return st, errclass.ErrLockNotHeld.WithMessagef("conversation %s is not locked", conversationID)
	}
	if fence != 0 && rec.FencingToken != fence {
		return st, errclass.ErrFencingMismatch.WithMessagef("expected fence %d, current %d", fence, rec.FencingToken)
	}
	outcome = string(model.LockStateHeld)
	return st, nil
}

// Sweep deletes every expired lock and reports how many were removed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	now := m.now()

	var removed []model.LockRecord
	err := m.retry(ctx, "sweep", func(ctx context.Context) error {
		var err error
		removed, err = m.store.Sweep(ctx, now)
		return err
	})
	m.record("sweep", "", err, start)
	if err != nil {
		return 0, err
	}

	m.metrics.RecordSweep(len(removed))
	for _, rec := range removed {
		m.logger.Info("lock expired", map[string]any{
			"conversation_id": rec.ConversationID,
			"holder_id":       rec.HolderID,
			"expired_at":      rec.ExpiresAt,
		})
		m.emit(eventFrom(model.EventLockExpired, rec, now))
	}
	return len(removed), nil
}

func (m *Manager) validate(conversationID, holderID string) error {
	if err := idutil.ValidateConversationID(conversationID); err != nil {
		return err
	}
	if holderID == "" {
		return errclass.ErrUnauthorized.WithMessage("no principal")
	}
	return idutil.ValidateHolderID(holderID)
}

func (m *Manager) checkExists(ctx context.Context, conversationID string) error {
	var exists bool
	err := m.retry(ctx, "conversation_lookup", func(ctx context.Context) error {
		var err error
		exists, err = m.conversations.Exists(ctx, conversationID)
		return err
	})
	if err != nil {
		return err
	}
	if !exists {
		return errclass.ErrConversationNotFound.WithMessagef("conversation %s does not exist", conversationID)
	}
	return nil
}

// now drops the monotonic reading so stored and compared times agree.
func (m *Manager) now() time.Time {
	return m.clock.Now().UTC().Round(0)
}

func (m *Manager) emit(ev model.LockEvent) {
	for _, o := range m.observers {
		o.Notify(ev)
	}
}

func (m *Manager) record(op, outcome string, err error, start time.Time) {
	m.metrics.RecordOperation(op, outcomeLabel(outcome, err), time.Since(start))
}

func outcomeLabel(outcome string, err error) string {
	if err != nil {
		if code := errclass.Code(err); code != "" {
			return code
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "canceled"
		}
		return "error"
	}
	if outcome == "" {
		return "ok"
	}
	return outcome
}

func eventFrom(typ model.LockEventType, rec model.LockRecord, at time.Time) model.LockEvent {
	expires := rec.ExpiresAt
	return model.LockEvent{
		Type:           typ,
		Timestamp:      at,
		ConversationID: rec.ConversationID,
		HolderID:       rec.HolderID,
		HolderName:     rec.HolderName,
		ExpiresAt:      &expires,
		FencingToken:   rec.FencingToken,
	}
}
