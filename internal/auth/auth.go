// Package auth resolves bearer tokens to chatter identities.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/flirtduo/chatlock/pkg/config"
	"github.com/flirtduo/chatlock/pkg/errclass"
	"github.com/flirtduo/chatlock/pkg/idutil"
)

// Principal is an authenticated chatter. ID is the stable identifier
// stored as the lock holder; DisplayName is shown to other chatters.
type Principal struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Authenticator maps an opaque token to a Principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Principal, error)
}

type entry struct {
	digest    [sha256.Size]byte
	principal Principal
}

// TokenTable authenticates against a fixed list of chatters. Tokens are
// kept only as SHA-256 digests and compared in constant time.
type TokenTable struct {
	entries []entry
}

// NewTokenTable builds a table from configured chatters.
func NewTokenTable(chatters []config.ChatterConfig) (*TokenTable, error) {
	t := &TokenTable{entries: make([]entry, 0, len(chatters))}
	for _, c := range chatters {
		if err := idutil.ValidateHolderID(c.ID); err != nil {
			return nil, err
		}
		if c.Token == "" {
			return nil, errclass.ErrConfigInvalid.WithMessagef("chatter %q has no token", c.ID)
		}
		t.entries = append(t.entries, entry{
			digest: sha256.Sum256([]byte(c.Token)),
			principal: Principal{
				ID:          c.ID,
				DisplayName: idutil.NormalizeDisplayName(c.Name, c.ID),
			},
		})
	}
	return t, nil
}

// Authenticate scans every entry so timing does not depend on which one
// matched.
func (t *TokenTable) Authenticate(_ context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, errclass.ErrUnauthorized.WithMessage("missing token")
	}
	digest := sha256.Sum256([]byte(token))

	var (
		found Principal
		ok    bool
	)
	for _, e := range t.entries {
		if subtle.ConstantTimeCompare(digest[:], e.digest[:]) == 1 {
			found, ok = e.principal, true
		}
	}
	if !ok {
		return Principal{}, errclass.ErrUnauthorized.WithMessage("unknown token")
	}
	return found, nil
}

// Len returns the number of configured chatters.
func (t *TokenTable) Len() int {
	return len(t.entries)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

type ctxKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
