// Package idutil validates conversation and holder identifiers and
// normalizes display names before they are stored.
package idutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/flirtduo/chatlock/pkg/errclass"
)

// MaxIDLength bounds conversation and holder identifiers.
const MaxIDLength = 128

// MaxDisplayNameLength bounds holder display names, in runes.
const MaxDisplayNameLength = 80

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

// ValidateConversationID checks that id is safe to use as a lock key and
// in a URL path segment.
func ValidateConversationID(id string) error {
	return validateID("conversation id", id)
}

// ValidateHolderID checks a chatter principal id.
func ValidateHolderID(id string) error {
	return validateID("holder id", id)
}

func validateID(kind, id string) error {
	if id == "" {
		return errclass.ErrNameInvalid.WithMessagef("%s must not be empty", kind)
	}
	if len(id) > MaxIDLength {
		return errclass.ErrNameInvalid.WithMessagef("%s longer than %d bytes", kind, MaxIDLength)
	}
	if id == "." || strings.Contains(id, "..") {
		return errclass.ErrNameInvalid.WithMessagef("%s must not contain '..': %s", kind, id)
	}
	if !idRegex.MatchString(id) {
		return errclass.ErrNameInvalid.WithMessagef("%s must match [a-zA-Z0-9._:-]+: %q", kind, id)
	}
	return nil
}

// NormalizeDisplayName returns name in NFC with control characters removed,
// surrounding space trimmed and length capped. Falls back to fallback when
// nothing printable remains.
func NormalizeDisplayName(name, fallback string) string {
	name = norm.NFC.String(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if runes := []rune(name); len(runes) > MaxDisplayNameLength {
		name = strings.TrimSpace(string(runes[:MaxDisplayNameLength]))
	}
	if name == "" {
		return fallback
	}
	return name
}

// SplitIDs parses a comma-separated id list as used by batch status
// queries, dropping empties and duplicates while keeping order.
func SplitIDs(raw string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
