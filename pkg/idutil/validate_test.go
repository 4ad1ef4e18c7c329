package idutil_test

import (
	"strings"
	"testing"

	"github.com/flirtduo/chatlock/pkg/errclass"
	"github.com/flirtduo/chatlock/pkg/idutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConversationID_Valid(t *testing.T) {
	for _, id := range []string{"conv-42", "42", "girl_7:user_913", "a.b"} {
		assert.NoError(t, idutil.ValidateConversationID(id), id)
	}
}

func TestValidateConversationID_Invalid(t *testing.T) {
	cases := []string{
		"",
		"..",
		"a/b",
		"conv 42",
		"conv\n42",
		"конв",
		strings.Repeat("x", idutil.MaxIDLength+1),
	}
	for _, id := range cases {
		err := idutil.ValidateConversationID(id)
		require.Error(t, err, "%q", id)
		assert.ErrorIs(t, err, errclass.ErrNameInvalid)
	}
}

func TestValidateHolderID(t *testing.T) {
	assert.NoError(t, idutil.ValidateHolderID("chatter-1"))
	assert.ErrorIs(t, idutil.ValidateHolderID(""), errclass.ErrNameInvalid)
}

func TestNormalizeDisplayName(t *testing.T) {
	// "e" + combining acute composes to a single rune under NFC.
	assert.Equal(t, "Ren\u00e9e", idutil.NormalizeDisplayName("Rene\u0301e", "x"))
	assert.Equal(t, "Anna", idutil.NormalizeDisplayName("  An\x00na\t ", "x"))
	assert.Equal(t, "chatter-1", idutil.NormalizeDisplayName(" \x07 ", "chatter-1"))

	long := strings.Repeat("ä", idutil.MaxDisplayNameLength+10)
	assert.Len(t, []rune(idutil.NormalizeDisplayName(long, "x")), idutil.MaxDisplayNameLength)
}

func TestSplitIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, idutil.SplitIDs("a, b,,a,c "))
	assert.Nil(t, idutil.SplitIDs(""))
}
