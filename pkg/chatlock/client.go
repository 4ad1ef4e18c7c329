package chatlock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flirtduo/chatlock/pkg/errclass"
	"github.com/flirtduo/chatlock/pkg/model"
)

// Client calls the lock service over HTTP. It is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Options configures a Client.
type Options struct {
	Token      string        // bearer token identifying the chatter
	HTTPClient *http.Client  // defaults to a client with Timeout
	Timeout    time.Duration // per-request timeout; defaults to 10s
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("chatlock: invalid server url %q", baseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   opts.Token,
		http:    hc,
	}, nil
}

// Acquire requests the lock on conversationID. A conversation held by
// someone else is not an error: the result has Locked false and names
// the holder.
func (c *Client) Acquire(ctx context.Context, conversationID string) (model.LockResult, error) {
	var res model.LockResult
	err := c.do(ctx, http.MethodPost, "/lock/"+url.PathEscape(conversationID), nil, &res)
	return res, err
}

// Heartbeat extends the caller's lease on conversationID. It never locks a
// free conversation: Locked is false, with no holder, once the lease is gone.
func (c *Client) Heartbeat(ctx context.Context, conversationID string) (model.LockResult, error) {
	var res model.LockResult
	err := c.do(ctx, http.MethodPost, "/heartbeat/"+url.PathEscape(conversationID), nil, &res)
	return res, err
}

// Release gives up the caller's lock. It reports false when the caller did
// not hold it.
func (c *Client) Release(ctx context.Context, conversationID string) (bool, error) {
	var res model.ReleaseResult
	err := c.do(ctx, http.MethodPost, "/unlock/"+url.PathEscape(conversationID), nil, &res)
	return res.Released, err
}

// Status reports who holds conversationID.
func (c *Client) Status(ctx context.Context, conversationID string) (model.LockStatus, error) {
	var view model.StatusView
	if err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(conversationID), nil, &view); err != nil {
		return model.LockStatus{}, err
	}
	return view.Status(), nil
}

// StatusMany reports lock badges for a conversation list.
func (c *Client) StatusMany(ctx context.Context, conversationIDs []string) ([]model.LockStatus, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}
	q := url.Values{"ids": {strings.Join(conversationIDs, ",")}}
	var list model.StatusList
	if err := c.do(ctx, http.MethodGet, "/status?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}
	out := make([]model.LockStatus, len(list.Statuses))
	for i, v := range list.Statuses {
		out[i] = v.Status()
	}
	return out, nil
}

// Verify checks that the caller may still send on conversationID. fence
// may be zero to skip the fencing check. A lost lock returns the current
// status together with E_LOCK_NOT_HELD or E_FENCING_MISMATCH.
func (c *Client) Verify(ctx context.Context, conversationID string, fence int64) (model.LockStatus, error) {
	var res model.VerifyResult
	err := c.do(ctx, http.MethodPost, "/verify/"+url.PathEscape(conversationID), model.VerifyRequest{Fence: fence}, &res)
	if err != nil {
		return model.LockStatus{}, err
	}
	st := res.Status.Status()
	if !res.Held {
		class := errclass.FromCode(res.Code)
		if class == nil {
			class = errclass.ErrLockNotHeld
		}
		return st, class.WithMessagef("conversation %s", conversationID)
	}
	return st, nil
}

// BeaconURL returns an unlock URL carrying the token as a query field, for
// navigator.sendBeacon which cannot set an Authorization header.
func (c *Client) BeaconURL(conversationID string) string {
	q := url.Values{"access_token": {c.token}}
	return c.baseURL + "/unlock/" + url.PathEscape(conversationID) + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("chatlock: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("chatlock: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errclass.ErrStoreUnavailable.WithMessagef("%s %s", method, path).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("chatlock: read response: %w", err)
	}

	// 409 from /verify carries a VerifyResult, not an error body.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		return decodeError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("chatlock: decode response: %w", err)
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var body model.ErrorBody
	_ = json.Unmarshal(data, &body)

	class := errclass.FromCode(body.Code)
	if class == nil {
		switch {
		case status == http.StatusUnauthorized:
			class = errclass.ErrUnauthorized
		case status == http.StatusNotFound:
			class = errclass.ErrConversationNotFound
		case status >= http.StatusInternalServerError:
			class = errclass.ErrStoreUnavailable
		default:
			return fmt.Errorf("chatlock: unexpected status %d: %s", status, strings.TrimSpace(body.Error))
		}
	}
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &errclass.Error{Code: class.Code, Message: strings.TrimPrefix(msg, class.Code+": ")}
}
