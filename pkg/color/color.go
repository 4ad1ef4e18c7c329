// Package color styles chatlock CLI output. It honours NO_COLOR
// (https://no-color.org/), TERM=dumb and the --no-color flag.
package color

import (
	"os"
	"sync"
	"sync/atomic"
)

var state struct {
	enabled    atomic.Bool
	overridden atomic.Bool
	once       sync.Once
}

// Init detects color support once.
func Init(noColorFlag bool) {
	state.once.Do(func() {
		if state.overridden.Load() {
			return
		}
		disabled := noColorFlag
		if _, exists := os.LookupEnv("NO_COLOR"); exists {
			disabled = true
		}
		if os.Getenv("TERM") == "dumb" {
			disabled = true
		}
		state.enabled.Store(!disabled)
	})
}

// Enabled reports whether output is styled.
func Enabled() bool {
	if !state.overridden.Load() {
		Init(false)
	}
	return state.enabled.Load()
}

// Disable turns styling off for the rest of the process, whatever Init
// detected. Machine-readable output modes call it.
func Disable() {
	state.overridden.Store(true)
	state.enabled.Store(false)
}

const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	blue   = "\033[34m"
	cyan   = "\033[36m"
)

func wrap(code, s string) string {
	if !Enabled() {
		return s
	}
	return code + s + reset
}

// Success is green.
func Success(s string) string { return wrap(green, s) }

// Error is red.
func Error(s string) string { return wrap(red, s) }

// Warning is yellow.
func Warning(s string) string { return wrap(yellow, s) }

// Header is bold.
func Header(s string) string { return wrap(bold, s) }

// Dim is for secondary information.
func Dim(s string) string { return wrap(dim, s) }

// ConversationID is cyan.
func ConversationID(s string) string { return wrap(cyan, s) }

// Holder is blue.
func Holder(s string) string { return wrap(blue, s) }

// LockState renders "locked" in yellow and "free" in green.
func LockState(locked bool) string {
	if locked {
		return wrap(yellow, "locked")
	}
	return wrap(green, "free")
}
