package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flirtduo/chatlock/internal/auth"
	"github.com/flirtduo/chatlock/internal/conversation"
	"github.com/flirtduo/chatlock/internal/lock"
	"github.com/flirtduo/chatlock/internal/server"
	"github.com/flirtduo/chatlock/internal/store"
	"github.com/flirtduo/chatlock/pkg/clock"
	"github.com/flirtduo/chatlock/pkg/config"
	"github.com/flirtduo/chatlock/pkg/errclass"
	"github.com/flirtduo/chatlock/pkg/metrics"
	"github.com/flirtduo/chatlock/pkg/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	handler http.Handler
	clock   *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := auth.NewTokenTable([]config.ChatterConfig{
		{ID: "alice", Name: "Alice", Token: "tok-alice"},
		{ID: "bob", Name: "Bob", Token: "tok-bob"},
	})
	require.NoError(t, err)

	clk := clock.Fake(t0)
	manager := lock.NewManager(store.NewMemory(),
		conversation.NewStatic([]string{"conv-42", "conv-7", "conv-3"}),
		lock.WithClock(clk))
	handler, err := server.NewHandler(server.Config{
		Manager: manager,
		Auth:    tokens,
		Metrics: metrics.NewRegistry(),
	})
	require.NoError(t, err)
	return &fixture{handler: handler, clock: clk}
}

func (f *fixture) do(t *testing.T, method, target, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func decode[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &out), recorder.Body.String())
	return out
}

func TestNewHandler_RequiresCollaborators(t *testing.T) {
	_, err := server.NewHandler(server.Config{})
	assert.Error(t, err)
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t)
	recorder := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.NotEmpty(t, recorder.Header().Get(server.HeaderRequestID))
}

func TestLockContentionFlow(t *testing.T) {
	f := newFixture(t)

	recorder := f.do(t, http.MethodPost, "/lock/conv-42", "tok-alice", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	res := decode[model.LockResult](t, recorder)
	assert.True(t, res.Locked)
	assert.Equal(t, "alice", res.HolderID)
	assert.Equal(t, "Alice", res.HolderName)
	assert.Positive(t, res.FencingToken)

	recorder = f.do(t, http.MethodPost, "/lock/conv-42", "tok-bob", "")
	require.Equal(t, http.StatusOK, recorder.Code, "contention is not an error")
	res = decode[model.LockResult](t, recorder)
	assert.False(t, res.Locked)
	assert.Equal(t, "alice", res.HolderID)
	assert.Equal(t, "Alice", res.HolderName)

	recorder = f.do(t, http.MethodGet, "/status/conv-42", "tok-bob", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	view := decode[model.StatusView](t, recorder)
	require.NotNil(t, view.LockedBy)
	assert.Equal(t, "alice", *view.LockedBy)
	assert.Equal(t, "Alice", *view.LockHolderName)

	recorder = f.do(t, http.MethodPost, "/unlock/conv-42", "tok-bob", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.False(t, decode[model.ReleaseResult](t, recorder).Released)

	recorder = f.do(t, http.MethodPost, "/unlock/conv-42", "tok-alice", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.True(t, decode[model.ReleaseResult](t, recorder).Released)

	recorder = f.do(t, http.MethodGet, "/status/conv-42", "tok-bob", "")
	assert.JSONEq(t, `{"conversation_id":"conv-42","locked_by":null,"lock_holder_name":null,"expires_at":null}`, recorder.Body.String())

	recorder = f.do(t, http.MethodPost, "/lock/conv-42", "tok-bob", "")
	res = decode[model.LockResult](t, recorder)
	assert.True(t, res.Locked)
	assert.Equal(t, "bob", res.HolderID)
}

func TestHeartbeatAfterTakeover(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/lock/conv-7", "tok-alice", "").Code)
	f.clock.Advance(61 * time.Second)
	require.True(t, decode[model.LockResult](t, f.do(t, http.MethodPost, "/lock/conv-7", "tok-bob", "")).Locked)

	recorder := f.do(t, http.MethodPost, "/heartbeat/conv-7", "tok-alice", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	res := decode[model.LockResult](t, recorder)
	assert.False(t, res.Locked)
	assert.Equal(t, "bob", res.HolderID)
}

func TestHeartbeatAfterUnlock(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/lock/conv-42", "tok-alice", "").Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/unlock/conv-42", "tok-alice", "").Code)

	recorder := f.do(t, http.MethodPost, "/heartbeat/conv-42", "tok-alice", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"conversation_id":"conv-42","locked":false,"holder_id":null,"holder_name":null}`, recorder.Body.String())

	recorder = f.do(t, http.MethodGet, "/status/conv-42", "tok-bob", "")
	assert.JSONEq(t, `{"conversation_id":"conv-42","locked_by":null,"lock_holder_name":null,"expires_at":null}`, recorder.Body.String())
}

func TestUnauthorizedNeverTouchesStore(t *testing.T) {
	f := newFixture(t)

	for _, tc := range []struct {
		method, target, token string
	}{
		{http.MethodPost, "/lock/conv-42", ""},
		{http.MethodPost, "/lock/conv-42", "tok-mallory"},
		{http.MethodPost, "/heartbeat/conv-42", ""},
		{http.MethodPost, "/unlock/conv-42", ""},
		{http.MethodGet, "/status/conv-42", ""},
		{http.MethodGet, "/status?ids=conv-42", ""},
		{http.MethodPost, "/verify/conv-42", ""},
	} {
		recorder := f.do(t, tc.method, tc.target, tc.token, "")
		assert.Equal(t, http.StatusUnauthorized, recorder.Code, tc.target)
		body := decode[model.ErrorBody](t, recorder)
		assert.False(t, body.OK)
		assert.Equal(t, errclass.ErrUnauthorized.Code, body.Code)
		assert.NotEmpty(t, body.RequestID)
	}

	recorder := f.do(t, http.MethodGet, "/status/conv-42", "tok-alice", "")
	assert.Nil(t, decode[model.StatusView](t, recorder).LockedBy)
}

func TestNotFoundAndInvalidIDs(t *testing.T) {
	f := newFixture(t)

	recorder := f.do(t, http.MethodPost, "/lock/conv-999", "tok-alice", "")
	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, errclass.ErrConversationNotFound.Code, decode[model.ErrorBody](t, recorder).Code)

	recorder = f.do(t, http.MethodPost, "/lock/"+url.PathEscape("bad id"), "tok-alice", "")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestUnlockWithBeaconToken(t *testing.T) {
	f := newFixture(t)
	require.True(t, decode[model.LockResult](t, f.do(t, http.MethodPost, "/lock/conv-42", "tok-alice", "")).Locked)

	request := httptest.NewRequest(http.MethodPost, "/unlock/conv-42", strings.NewReader("access_token=tok-alice"))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.True(t, decode[model.ReleaseResult](t, recorder).Released)

	// Query form works too.
	require.True(t, decode[model.LockResult](t, f.do(t, http.MethodPost, "/lock/conv-42", "tok-bob", "")).Locked)
	recorder = f.do(t, http.MethodPost, "/unlock/conv-42?access_token=tok-bob", "", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.True(t, decode[model.ReleaseResult](t, recorder).Released)

	// The form token is only honored on unlock.
	recorder = f.do(t, http.MethodPost, "/lock/conv-42?access_token=tok-bob", "", "")
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestStatusMany(t *testing.T) {
	f := newFixture(t)
	require.True(t, decode[model.LockResult](t, f.do(t, http.MethodPost, "/lock/conv-3", "tok-bob", "")).Locked)

	recorder := f.do(t, http.MethodGet, "/status?ids=conv-42,conv-3,conv-42", "tok-alice", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	list := decode[model.StatusList](t, recorder)
	require.Len(t, list.Statuses, 2)
	assert.Nil(t, list.Statuses[0].LockedBy)
	require.NotNil(t, list.Statuses[1].LockedBy)
	assert.Equal(t, "bob", *list.Statuses[1].LockedBy)

	recorder = f.do(t, http.MethodGet, "/status", "tok-alice", "")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	ids := make([]string, server.MaxStatusIDs+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("conv-%d", i)
	}
	recorder = f.do(t, http.MethodGet, "/status?ids="+url.QueryEscape(strings.Join(ids, ",")), "tok-alice", "")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	res := decode[model.LockResult](t, f.do(t, http.MethodPost, "/lock/conv-42", "tok-alice", ""))
	require.True(t, res.Locked)

	recorder := f.do(t, http.MethodPost, "/verify/conv-42", "tok-alice", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.True(t, decode[model.VerifyResult](t, recorder).Held)

	body, _ := json.Marshal(model.VerifyRequest{Fence: res.FencingToken})
	recorder = f.do(t, http.MethodPost, "/verify/conv-42", "tok-alice", string(body))
	require.Equal(t, http.StatusOK, recorder.Code)

	body, _ = json.Marshal(model.VerifyRequest{Fence: res.FencingToken + 10})
	recorder = f.do(t, http.MethodPost, "/verify/conv-42", "tok-alice", string(body))
	require.Equal(t, http.StatusConflict, recorder.Code)
	assert.Equal(t, errclass.ErrFencingMismatch.Code, decode[model.VerifyResult](t, recorder).Code)

	recorder = f.do(t, http.MethodPost, "/verify/conv-42", "tok-bob", "")
	require.Equal(t, http.StatusConflict, recorder.Code)
	vr := decode[model.VerifyResult](t, recorder)
	assert.False(t, vr.Held)
	require.NotNil(t, vr.Status.LockedBy)
	assert.Equal(t, "alice", *vr.Status.LockedBy)

	recorder = f.do(t, http.MethodPost, "/verify/conv-42", "tok-alice", "{not json")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/lock/conv-42", "tok-alice", "")

	recorder := f.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `chatlock_lock_operations_total{op="acquire",outcome="granted"} 1`)
}

func TestRequestIDPropagates(t *testing.T) {
	f := newFixture(t)
	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	request.Header.Set(server.HeaderRequestID, "6f1c1d1e-8a51-4b7e-9d3f-6a0f6f0e8e11")
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	assert.Equal(t, "6f1c1d1e-8a51-4b7e-9d3f-6a0f6f0e8e11", recorder.Header().Get(server.HeaderRequestID))
}

func TestConcurrentLockRequests(t *testing.T) {
	tokens := []config.ChatterConfig{}
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8"} {
		tokens = append(tokens, config.ChatterConfig{ID: id, Token: "tok-" + id})
	}
	table, err := auth.NewTokenTable(tokens)
	require.NoError(t, err)
	handler, err := server.NewHandler(server.Config{
		Manager: lock.NewManager(store.NewMemory(), nil),
		Auth:    table,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, c := range tokens {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL+"/lock/conv-42", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			resp, err := srv.Client().Do(req)
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			var res model.LockResult
			assert.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
			if res.Locked {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(c.Token)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
