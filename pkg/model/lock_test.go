package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/flirtduo/chatlock/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestLockRecord_IsExpired(t *testing.T) {
	rec := model.LockRecord{AcquiredAt: t0, ExpiresAt: t0.Add(time.Minute)}

	assert.False(t, rec.IsExpired(t0))
	assert.False(t, rec.IsExpired(t0.Add(time.Minute)))
	assert.True(t, rec.IsExpired(t0.Add(time.Minute+time.Nanosecond)))
}

func TestLockRecord_IsHeldBy(t *testing.T) {
	rec := model.LockRecord{HolderID: "a", AcquiredAt: t0, ExpiresAt: t0.Add(time.Minute)}

	assert.True(t, rec.IsHeldBy("a", t0.Add(30*time.Second)))
	assert.False(t, rec.IsHeldBy("b", t0.Add(30*time.Second)))
	assert.False(t, rec.IsHeldBy("a", t0.Add(2*time.Minute)))
}

func TestResultFromTransition_Denied(t *testing.T) {
	res := model.ResultFromTransition(model.Transition{
		Outcome: model.OutcomeDenied,
		Current: model.LockRecord{
			ConversationID: "conv-42",
			HolderID:       "a",
			HolderName:     "Anna",
			FencingToken:   7,
		},
	})

	assert.False(t, res.Locked)
	assert.Equal(t, "a", res.HolderID)
	assert.Equal(t, "Anna", res.HolderName)
	assert.Zero(t, res.FencingToken, "fence must not leak to a non-holder")
}

func TestResultFromTransition_Granted(t *testing.T) {
	res := model.ResultFromTransition(model.Transition{
		Outcome: model.OutcomeTakenOver,
		Current: model.LockRecord{ConversationID: "conv-7", HolderID: "b", FencingToken: 3},
	})
	assert.True(t, res.Locked)
	assert.Equal(t, int64(3), res.FencingToken)
}

func TestStatusOf(t *testing.T) {
	rec := &model.LockRecord{HolderID: "a", HolderName: "Anna", ExpiresAt: t0.Add(time.Minute)}

	held := model.StatusOf("conv-1", rec, t0)
	require.True(t, held.Locked())
	assert.Equal(t, "Anna", held.HolderName)
	require.NotNil(t, held.ExpiresAt)

	expired := model.StatusOf("conv-1", rec, t0.Add(2*time.Minute))
	assert.False(t, expired.Locked())
	assert.Empty(t, expired.HolderID)

	free := model.StatusOf("conv-1", nil, t0)
	assert.Equal(t, model.LockStateFree, free.State)
}

func TestEventTypeFor(t *testing.T) {
	typ, ok := model.EventTypeFor(model.OutcomeTakenOver)
	require.True(t, ok)
	assert.Equal(t, model.EventLockTakenOver, typ)

	_, ok = model.EventTypeFor(model.OutcomeDenied)
	assert.False(t, ok)
}

func TestTransition_NotHeldIsNotGranted(t *testing.T) {
	tr := model.Transition{Outcome: model.OutcomeNotHeld, Current: model.LockRecord{ConversationID: "conv-42"}}
	assert.False(t, tr.Granted())

	res := model.ResultFromTransition(tr)
	assert.False(t, res.Locked)
	assert.Empty(t, res.HolderID)

	_, ok := model.EventTypeFor(model.OutcomeNotHeld)
	assert.False(t, ok)
}

func TestLockResult_JSON(t *testing.T) {
	free, err := json.Marshal(model.LockResult{ConversationID: "conv-42"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"conversation_id":"conv-42","locked":false,"holder_id":null,"holder_name":null}`, string(free))

	held := model.LockResult{
		ConversationID: "conv-42",
		Locked:         true,
		HolderID:       "alice",
		HolderName:     "Alice",
		AcquiredAt:     t0,
		ExpiresAt:      t0.Add(time.Minute),
		FencingToken:   3,
	}
	data, err := json.Marshal(held)
	require.NoError(t, err)
	var back model.LockResult
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, held, back)
}
