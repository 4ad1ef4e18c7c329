package chatlock

import (
	"context"
	"sync"
	"time"

	"github.com/flirtduo/chatlock/pkg/clock"
	"github.com/flirtduo/chatlock/pkg/logging"
	"github.com/flirtduo/chatlock/pkg/model"
)

// DefaultHeartbeatInterval is a third of the server's default lease, so
// one or two missed beats do not lose the lock.
const DefaultHeartbeatInterval = 20 * time.Second

// SessionOptions configures a Session.
type SessionOptions struct {
	HeartbeatInterval time.Duration
	OnLost            func(LostEvent)
	Clock             clock.Clock
	Logger            *logging.Logger
	// ReleaseTimeout bounds the release issued by Open and Close.
	ReleaseTimeout time.Duration
}

// LostEvent reports that a held conversation was lost. Err is set when
// the heartbeat failed outright; otherwise HolderID names who holds the
// conversation now, or is empty when the lease ran out and nobody took it.
type LostEvent struct {
	ConversationID string
	HolderID       string
	HolderName     string
	Err            error
}

// Session tracks the one conversation a dashboard tab has open.
type Session struct {
	client *Client
	opts   SessionOptions

	opMu sync.Mutex // serializes Open and Close

	mu       sync.Mutex
	current  string
	writable bool
	fence    int64
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSession creates a session with no open conversation.
func (c *Client) NewSession(opts SessionOptions) *Session {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.ReleaseTimeout <= 0 {
		opts.ReleaseTimeout = 5 * time.Second
	}
	return &Session{client: c, opts: opts}
}

// Open switches the session to conversationID: the previous conversation
// is released first, then the new one acquired. When someone else holds
// it the session is read-only and the result names the holder.
func (s *Session) Open(ctx context.Context, conversationID string) (model.LockResult, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	prev, prevWritable := s.stop()
	if prev != "" && prevWritable && prev != conversationID {
		s.release(ctx, prev)
	}

	res, err := s.client.Acquire(ctx, conversationID)
	if err != nil {
		s.set("", false, 0)
		return res, err
	}
	s.set(conversationID, res.Locked, res.FencingToken)
	if res.Locked {
		s.start(conversationID)
	}
	return res, nil
}

// Close releases the open conversation, if held, and stops heartbeats.
func (s *Session) Close(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	prev, writable := s.stop()
	s.set("", false, 0)
	if prev == "" || !writable {
		return nil
	}
	return s.release(ctx, prev)
}

// Current returns the open conversation, whether this session may write
// to it, and the fencing token it was granted.
func (s *Session) Current() (conversationID string, writable bool, fence int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.writable, s.fence
}

func (s *Session) set(conversationID string, writable bool, fence int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current, s.writable, s.fence = conversationID, writable, fence
}

func (s *Session) release(ctx context.Context, conversationID string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ReleaseTimeout)
	defer cancel()

	if _, err := s.client.Release(ctx, conversationID); err != nil {
		s.opts.Logger.Warn("release failed; lease will expire", map[string]any{
			"conversation_id": conversationID,
			"error":           err.Error(),
		})
		return err
	}
	return nil
}

func (s *Session) start(conversationID string) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	ticker := s.opts.Clock.NewTicker(s.opts.HeartbeatInterval)
	go func() {
		lost := s.heartbeat(ctx, ticker, conversationID)
		ticker.Stop()
		close(done)
		// OnLost runs after done is closed so it may call Open or Close.
		if lost != nil && s.opts.OnLost != nil {
			s.opts.OnLost(*lost)
		}
	}()
}

// heartbeat beats on every tick until ctx ends or the lock is lost.
func (s *Session) heartbeat(ctx context.Context, ticker *clock.Ticker, conversationID string) *LostEvent {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if lost := s.beat(ctx, conversationID); lost != nil {
				return lost
			}
		}
	}
}

// stop ends the heartbeat loop and returns what was open.
func (s *Session) stop() (string, bool) {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.writable
}

// beat renews the lease once and reports a loss, or nil while held.
func (s *Session) beat(ctx context.Context, conversationID string) *LostEvent {
	res, err := s.client.Heartbeat(ctx, conversationID)
	if ctx.Err() != nil {
		// Stopped by Open or Close mid-flight; the conversation was left on purpose.
		return nil
	}
	if err == nil && res.Locked {
		return nil
	}

	s.mu.Lock()
	if s.current == conversationID {
		s.writable = false
	}
	s.mu.Unlock()

	ev := &LostEvent{ConversationID: conversationID, Err: err}
	if err == nil {
		ev.HolderID, ev.HolderName = res.HolderID, res.HolderName
	}
	s.opts.Logger.Warn("conversation lock lost", map[string]any{
		"conversation_id": conversationID,
		"holder_id":       ev.HolderID,
	})
	return ev
}
