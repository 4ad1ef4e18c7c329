package lock

import (
	"context"
)

// Sweeper periodically removes expired locks. Expiry is already enforced
// on every read; sweeping only keeps the store bounded and emits
// lock.expired events.
type Sweeper struct {
	manager *Manager
}

// NewSweeper returns a sweeper ticking at the manager's sweep interval.
func NewSweeper(m *Manager) *Sweeper {
	return &Sweeper{manager: m}
}

// Run sweeps on every tick until ctx ends. Failures are logged and the
// next tick tries again.
func (s *Sweeper) Run(ctx context.Context) error {
	m := s.manager
	ticker := m.clock.NewTicker(m.policy.SweepInterval)
	defer ticker.Stop()

	m.logger.Info("lock sweeper started", map[string]any{
		"interval": m.policy.SweepInterval.String(),
	})
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("lock sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.logger.ErrorErr("lock sweep failed", err)
			}
		}
	}
}
