package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/flirtduo/chatlock/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusView_FreeIsNull(t *testing.T) {
	st := model.LockStatus{ConversationID: "conv-42", State: model.LockStateFree}

	data, err := json.Marshal(st.View())
	require.NoError(t, err)
	assert.JSONEq(t, `{"conversation_id":"conv-42","locked_by":null,"lock_holder_name":null,"expires_at":null}`, string(data))
	assert.Equal(t, st, st.View().Status())
}

func TestStatusView_Held(t *testing.T) {
	exp := t0.Add(time.Minute)
	st := model.LockStatus{
		ConversationID: "conv-42",
		State:          model.LockStateHeld,
		HolderID:       "alice",
		HolderName:     "Alice",
		ExpiresAt:      &exp,
	}

	view := st.View()
	require.NotNil(t, view.LockedBy)
	assert.Equal(t, "alice", *view.LockedBy)
	assert.Equal(t, "Alice", *view.LockHolderName)
	assert.Equal(t, st, view.Status())
}
