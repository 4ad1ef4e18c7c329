package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flirtduo/chatlock/pkg/model"
)

// Memory is an in-process Store guarded by one mutex. It serves tests and
// single-replica deployments; state is lost on restart.
type Memory struct {
	mu      sync.Mutex
	records map[string]model.LockRecord
	fence   int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]model.LockRecord)}
}

func (m *Memory) Acquire(ctx context.Context, req model.LockRequest) (model.Transition, error) {
	if err := ctx.Err(); err != nil {
		return model.Transition{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var existing *model.LockRecord
	if rec, ok := m.records[req.ConversationID]; ok {
		existing = &rec
	}
	tr := Resolve(existing, req, func() int64 {
		m.fence++
		return m.fence
	})
	if tr.Granted() {
		m.records[req.ConversationID] = tr.Current
	}
	return tr, nil
}

func (m *Memory) Release(ctx context.Context, conversationID, holderID string) (*model.LockRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[conversationID]
	if !ok || rec.HolderID != holderID {
		return nil, nil
	}
	delete(m.records, conversationID)
	return &rec, nil
}

func (m *Memory) Get(ctx context.Context, conversationID string) (*model.LockRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[conversationID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) GetMany(ctx context.Context, conversationIDs []string) (map[string]model.LockRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]model.LockRecord, len(conversationIDs))
	for _, id := range conversationIDs {
		if rec, ok := m.records[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (m *Memory) Sweep(ctx context.Context, now time.Time) ([]model.LockRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []model.LockRecord
	for id, rec := range m.records {
		if rec.IsExpired(now) {
			removed = append(removed, rec)
			delete(m.records, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool {
		return removed[i].ConversationID < removed[j].ConversationID
	})
	return removed, nil
}

func (m *Memory) Close() error { return nil }
