package lock

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/flirtduo/chatlock/internal/store"
	"github.com/flirtduo/chatlock/pkg/config"
	"github.com/flirtduo/chatlock/pkg/errclass"
)

// Backoff bounds retries of one call against the store.
type Backoff struct {
	Attempts     int
	InitialDelay time.Duration
	Factor       float64
	Jitter       float64
}

// DefaultBackoff tries four times over roughly 175ms.
func DefaultBackoff() Backoff {
	return Backoff{Attempts: 4, InitialDelay: 25 * time.Millisecond, Factor: 2, Jitter: 0.2}
}

// BackoffFromConfig converts the retry section of the config file.
func BackoffFromConfig(cfg config.RetryConfig) Backoff {
	return Backoff{
		Attempts:     cfg.Attempts,
		InitialDelay: cfg.InitialDelay,
		Factor:       cfg.Factor,
		Jitter:       cfg.Jitter,
	}
}

func (b Backoff) wait() wait.Backoff {
	steps := b.Attempts
	if steps < 1 {
		steps = 1
	}
	return wait.Backoff{
		Duration: b.InitialDelay,
		Factor:   b.Factor,
		Jitter:   b.Jitter,
		Steps:    steps,
	}
}

// retry runs fn until it succeeds, fails permanently, or the attempts run
// out. Only errors store.IsTransient accepts are retried; exhaustion is
// reported as E_STORE_UNAVAILABLE wrapping the last failure.
func (m *Manager) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var (
		lastErr  error
		attempts int
	)
	err := wait.ExponentialBackoffWithContext(ctx, m.backoff.wait(), func(ctx context.Context) (bool, error) {
		if attempts > 0 {
			m.metrics.RecordRetry(op)
		}
		attempts++

		lastErr = fn(ctx)
		switch {
		case lastErr == nil:
			return true, nil
		case store.IsTransient(lastErr):
			m.logger.Debug("transient store failure", map[string]any{
				"op":      op,
				"attempt": attempts,
				"error":   lastErr.Error(),
			})
			return false, nil
		default:
			return false, lastErr
		}
	})
	if err == nil {
		return nil
	}
	if lastErr != nil && store.IsTransient(lastErr) && wait.Interrupted(err) {
		return errclass.ErrStoreUnavailable.WithMessagef("%s failed after %d attempts", op, attempts).WithCause(lastErr)
	}
	return err
}
