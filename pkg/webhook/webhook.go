// Package webhook posts lock events to operator-configured HTTP endpoints
// so dashboards can flip "locked by X" badges without polling.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/flirtduo/chatlock/pkg/jsonutil"
	"github.com/flirtduo/chatlock/pkg/logging"
	"github.com/flirtduo/chatlock/pkg/model"
	"github.com/flirtduo/chatlock/pkg/uuidutil"
)

// Header names set on every delivery.
const (
	HeaderEvent     = "X-Chatlock-Event"
	HeaderSignature = "X-Chatlock-Signature"
	HeaderDelivery  = "X-Chatlock-Delivery"
)

// HookConfig represents a single webhook configuration.
type HookConfig struct {
	URL     string                `json:"url" yaml:"url"`
	Secret  string                `json:"secret,omitempty" yaml:"secret,omitempty"`
	Events  []model.LockEventType `json:"events" yaml:"events"`
	Timeout time.Duration         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Enabled bool                  `json:"enabled" yaml:"enabled"`
}

// Config represents the webhook configuration.
type Config struct {
	Hooks          []HookConfig  `json:"hooks,omitempty" yaml:"hooks,omitempty"`
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay     time.Duration `json:"retry_delay" yaml:"retry_delay"`
	AsyncQueueSize int           `json:"async_queue_size" yaml:"async_queue_size"`
}

// DefaultConfig returns the default webhook configuration. Delivery is
// off until hooks are configured and Enabled is set.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		MaxRetries:     3,
		RetryDelay:     2 * time.Second,
		AsyncQueueSize: 256,
	}
}

// Client handles sending webhook notifications.
type Client struct {
	config *Config
	http   *http.Client
	logger *logging.Logger
	queue  chan *job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

type job struct {
	event model.LockEvent
	hook  HookConfig
}

// NewClient creates a new webhook client and starts its delivery worker
// when the config is enabled.
func NewClient(cfg *Config, logger *logging.Logger) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	queueSize := cfg.AsyncQueueSize
	if queueSize <= 0 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config: cfg,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger.WithFields(map[string]any{"component": "webhook"}),
		queue:  make(chan *job, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.Enabled {
		c.once.Do(func() {
			c.wg.Add(1)
			go c.worker()
		})
	}
	return c
}

func (c *Client) worker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			for {
				select {
				case j := <-c.queue:
					c.deliver(j)
				default:
					return
				}
			}
		case j := <-c.queue:
			c.deliver(j)
		}
	}
}

// Notify queues event for every matching hook. It never blocks the
// caller: when the queue is full the event is dropped and logged.
func (c *Client) Notify(event model.LockEvent) {
	if err := c.Send(event, true); err != nil {
		c.logger.ErrorErr("webhook send failed", err, map[string]any{"event": string(event.Type)})
	}
}

// Send sends an event to all matching webhooks, either queued (async) or
// synchronously with retries.
func (c *Client) Send(event model.LockEvent, async bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.config.Enabled || c.closed {
		return nil
	}

	hooks := c.matchingHooks(event.Type)
	if len(hooks) == 0 {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if async {
		for _, hook := range hooks {
			select {
			case c.queue <- &job{event: event, hook: hook}:
			default:
				c.logger.Warn("webhook queue full, dropping event", map[string]any{
					"event":           string(event.Type),
					"conversation_id": event.ConversationID,
				})
			}
		}
		return nil
	}

	var lastErr error
	for _, hook := range hooks {
		if err := c.sendSync(&job{event: event, hook: hook}); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (c *Client) deliver(j *job) {
	if err := c.sendSync(j); err != nil {
		c.logger.ErrorErr("webhook delivery failed", err, map[string]any{
			"url":   j.hook.URL,
			"event": string(j.event.Type),
		})
	}
}

// sendSync posts one job, retrying transport errors and non-2xx replies.
func (c *Client) sendSync(j *job) error {
	payload, err := jsonutil.CanonicalMarshal(j.event)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-c.ctx.Done():
				return fmt.Errorf("webhook cancelled after %d attempts: %w", attempt, lastErr)
			case <-time.After(c.config.RetryDelay):
			}
		}

		lastErr = c.post(j, payload)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (c *Client) post(j *job, payload []byte) error {
	ctx := context.Background()
	if j.hook.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.hook.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.hook.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "chatlock-webhook/1.0")
	req.Header.Set(HeaderEvent, string(j.event.Type))
	req.Header.Set(HeaderDelivery, uuidutil.NewV4())
	if j.hook.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, j.hook.Secret))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
}

// Sign returns the HMAC-SHA256 signature header value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by Sign in constant time.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

func (c *Client) matchingHooks(event model.LockEventType) []HookConfig {
	var hooks []HookConfig
	for _, hook := range c.config.Hooks {
		if !hook.Enabled {
			continue
		}
		for _, e := range hook.Events {
			if e == event || e == "*" {
				hooks = append(hooks, hook)
				break
			}
		}
	}
	return hooks
}

// Close stops accepting events, drains the queue and waits for the worker.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}
