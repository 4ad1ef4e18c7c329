package lock

import (
	"github.com/flirtduo/chatlock/pkg/clock"
	"github.com/flirtduo/chatlock/pkg/logging"
	"github.com/flirtduo/chatlock/pkg/metrics"
	"github.com/flirtduo/chatlock/pkg/model"
)

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy sets lease timing. Zero fields keep their defaults.
func WithPolicy(policy model.LockPolicy) Option {
	return func(m *Manager) {
		if policy.LeaseDuration > 0 {
			m.policy.LeaseDuration = policy.LeaseDuration
		}
		if policy.HeartbeatInterval > 0 {
			m.policy.HeartbeatInterval = policy.HeartbeatInterval
		}
		if policy.SweepInterval > 0 {
			m.policy.SweepInterval = policy.SweepInterval
		}
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics records operation counts and latencies into r.
func WithMetrics(r *metrics.Registry) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithRetry sets the backoff used for transient store failures.
func WithRetry(b Backoff) Option {
	return func(m *Manager) { m.backoff = b }
}

// WithObserver registers an observer for committed lock events.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}
