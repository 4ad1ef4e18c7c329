package lock_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flirtduo/chatlock/internal/auth"
	"github.com/flirtduo/chatlock/internal/lock"
	"github.com/flirtduo/chatlock/internal/store"
	"github.com/flirtduo/chatlock/pkg/errclass"
)

// TestStress_MutualExclusion has many chatters churn through a handful of
// conversations against SQLite and checks that no two ever believe they
// hold the same conversation at once.
func TestStress_MutualExclusion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	st, err := store.OpenSQLite(store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "stress.db"), PoolSize: 8})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := lock.NewManager(st, nil, lock.WithRetry(lock.Backoff{
		Attempts:     8,
		InitialDelay: time.Millisecond,
		Factor:       2,
		Jitter:       0.5,
	}))

	const (
		chatters      = 24
		conversations = 4
		rounds        = 40
	)
	holders := make([]atomic.Int32, conversations)
	var violations, wins, transient atomic.Int64

	ctx := context.Background()
	var wg sync.WaitGroup
	for c := 0; c < chatters; c++ {
		p := auth.Principal{ID: fmt.Sprintf("chatter-%d", c), DisplayName: fmt.Sprintf("Chatter %d", c)}
		wg.Add(1)
		go func(c int, p auth.Principal) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				idx := (c + r) % conversations
				id := fmt.Sprintf("conv-%d", idx)

				res, err := m.Acquire(ctx, id, p)
				if errors.Is(err, errclass.ErrStoreUnavailable) {
					transient.Add(1)
					continue
				}
				if !assert.NoError(t, err) || !res.Locked {
					continue
				}
				wins.Add(1)
				if !holders[idx].CompareAndSwap(0, int32(c+1)) {
					violations.Add(1)
				}
				time.Sleep(100 * time.Microsecond)
				holders[idx].CompareAndSwap(int32(c+1), 0)

				_, err = m.Release(ctx, id, p.ID)
				for i := 0; i < 5 && errors.Is(err, errclass.ErrStoreUnavailable); i++ {
					_, err = m.Release(ctx, id, p.ID)
				}
				assert.NoError(t, err)
			}
		}(c, p)
	}
	wg.Wait()

	t.Logf("wins=%d transient=%d", wins.Load(), transient.Load())
	assert.Zero(t, violations.Load())
	assert.Positive(t, wins.Load())
}
