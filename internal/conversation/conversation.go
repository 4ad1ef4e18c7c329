// Package conversation answers whether a conversation exists. Conversations
// are owned by the dashboard's own data layer; the lock manager only asks.
package conversation

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flirtduo/chatlock/pkg/config"
	"github.com/flirtduo/chatlock/pkg/errclass"
)

// Store reports conversation existence.
type Store interface {
	Exists(ctx context.Context, conversationID string) (bool, error)
}

// Any accepts every conversation id.
type Any struct{}

func (Any) Exists(context.Context, string) (bool, error) { return true, nil }

// Static accepts a fixed set of ids.
type Static struct {
	ids map[string]struct{}
}

// NewStatic returns a Static store over ids.
func NewStatic(ids []string) *Static {
	s := &Static{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s *Static) Exists(_ context.Context, conversationID string) (bool, error) {
	_, ok := s.ids[conversationID]
	return ok, nil
}

// HTTP asks an upstream service with GET {BaseURL}/{id}. 200 means the
// conversation exists, 404 means it does not; anything else is a
// transient failure.
type HTTP struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTP returns an HTTP store with the given per-request timeout.
func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTP{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTP) Exists(ctx context.Context, conversationID string) (bool, error) {
	target := h.BaseURL + "/" + url.PathEscape(conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, fmt.Errorf("conversation lookup: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return false, errclass.ErrStoreUnavailable.WithMessage("conversation lookup").WithCause(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, errclass.ErrStoreUnavailable.WithMessagef("conversation lookup: upstream returned %d", resp.StatusCode)
	}
}

// FromConfig builds the store selected by cfg.
func FromConfig(cfg config.ConversationConfig) (Store, error) {
	switch cfg.Source {
	case "", config.SourceAny:
		return Any{}, nil
	case config.SourceStatic:
		return NewStatic(cfg.IDs), nil
	case config.SourceHTTP:
		if cfg.URL == "" {
			return nil, errclass.ErrConfigInvalid.WithMessage("conversations.url is required for http source")
		}
		return NewHTTP(cfg.URL, cfg.Timeout), nil
	default:
		return nil, errclass.ErrConfigInvalid.WithMessagef("unknown conversation source %q", cfg.Source)
	}
}
