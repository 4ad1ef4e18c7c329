package conversation_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flirtduo/chatlock/internal/conversation"
	"github.com/flirtduo/chatlock/pkg/config"
	"github.com/flirtduo/chatlock/pkg/errclass"
)

func TestAny(t *testing.T) {
	ok, err := conversation.Any{}.Exists(context.Background(), "whatever")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStatic(t *testing.T) {
	s := conversation.NewStatic([]string{"conv-42", "conv-7"})
	ok, err := s.Exists(context.Background(), "conv-42")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations/conv-42":
			w.WriteHeader(http.StatusOK)
		case "/conversations/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := conversation.NewHTTP(srv.URL+"/conversations/", time.Second)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "conv-42")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "conv-404")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Exists(ctx, "broken")
	require.Error(t, err)
	assert.ErrorIs(t, err, errclass.ErrStoreUnavailable)
}

func TestHTTP_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := conversation.NewHTTP(url, 200*time.Millisecond).Exists(context.Background(), "conv-42")
	assert.ErrorIs(t, err, errclass.ErrStoreUnavailable)
}

func TestFromConfig(t *testing.T) {
	s, err := conversation.FromConfig(config.ConversationConfig{Source: config.SourceAny})
	require.NoError(t, err)
	assert.IsType(t, conversation.Any{}, s)

	s, err = conversation.FromConfig(config.ConversationConfig{Source: config.SourceStatic, IDs: []string{"a"}})
	require.NoError(t, err)
	assert.IsType(t, &conversation.Static{}, s)

	s, err = conversation.FromConfig(config.ConversationConfig{Source: config.SourceHTTP, URL: "http://x"})
	require.NoError(t, err)
	assert.IsType(t, &conversation.HTTP{}, s)

	_, err = conversation.FromConfig(config.ConversationConfig{Source: config.SourceHTTP})
	assert.ErrorIs(t, err, errclass.ErrConfigInvalid)

	_, err = conversation.FromConfig(config.ConversationConfig{Source: "ldap"})
	assert.ErrorIs(t, err, errclass.ErrConfigInvalid)
}
