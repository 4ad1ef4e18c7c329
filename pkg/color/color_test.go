package color

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// force sets the color state for one test and restores it afterwards.
func force(t *testing.T, enabled bool) {
	t.Helper()
	prevEnabled, prevOverridden := state.enabled.Load(), state.overridden.Load()
	state.overridden.Store(true)
	state.enabled.Store(enabled)
	t.Cleanup(func() {
		state.enabled.Store(prevEnabled)
		state.overridden.Store(prevOverridden)
	})
}

func resetDetection(t *testing.T) {
	t.Helper()
	prevEnabled, prevOverridden := state.enabled.Load(), state.overridden.Load()
	state.once = sync.Once{}
	state.overridden.Store(false)
	t.Cleanup(func() {
		state.once = sync.Once{}
		state.enabled.Store(prevEnabled)
		state.overridden.Store(prevOverridden)
	})
}

func TestStyles(t *testing.T) {
	force(t, true)

	for name, tc := range map[string]struct {
		fn   func(string) string
		code string
	}{
		"Success":        {Success, green},
		"Error":          {Error, red},
		"Warning":        {Warning, yellow},
		"Header":         {Header, bold},
		"Dim":            {Dim, dim},
		"ConversationID": {ConversationID, cyan},
		"Holder":         {Holder, blue},
	} {
		assert.Equal(t, tc.code+"conv-42"+reset, tc.fn("conv-42"), name)
	}
}

func TestStylesDisabled(t *testing.T) {
	force(t, false)

	for _, fn := range []func(string) string{Success, Error, Warning, Header, Dim, ConversationID, Holder} {
		assert.Equal(t, "Alice", fn("Alice"))
	}
	assert.Equal(t, "locked", LockState(true))
	assert.Equal(t, "free", LockState(false))
}

func TestLockState(t *testing.T) {
	force(t, true)

	assert.Equal(t, yellow+"locked"+reset, LockState(true))
	assert.Equal(t, green+"free"+reset, LockState(false))
}

func TestDisableOverridesDetection(t *testing.T) {
	resetDetection(t)
	t.Setenv("TERM", "xterm-256color")

	Disable()
	Init(false)
	assert.False(t, Enabled())
}

func TestInitRespectsNoColorEnv(t *testing.T) {
	resetDetection(t)
	t.Setenv("NO_COLOR", "1")
	t.Setenv("TERM", "xterm-256color")

	Init(false)
	assert.False(t, Enabled())
}

func TestInitRespectsDumbTerminal(t *testing.T) {
	resetDetection(t)
	t.Setenv("TERM", "dumb")

	Init(false)
	assert.False(t, Enabled())
}

func TestInitRespectsNoColorFlag(t *testing.T) {
	resetDetection(t)
	t.Setenv("TERM", "xterm-256color")

	Init(true)
	assert.False(t, Enabled())
}

func TestInitEnablesOnCapableTerminal(t *testing.T) {
	resetDetection(t)
	t.Setenv("TERM", "xterm-256color")
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		t.Skip("NO_COLOR set in environment")
	}

	Init(false)
	assert.True(t, Enabled())
}
