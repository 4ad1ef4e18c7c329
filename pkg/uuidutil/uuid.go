package uuidutil

import "github.com/google/uuid"

// NewV4 generates a random UUID v4 string.
func NewV4() string {
	return uuid.NewString()
}

// RequestID returns an identifier for correlating one HTTP request across
// log lines. It prefers a well-formed id supplied by the caller.
func RequestID(supplied string) string {
	if u, err := uuid.Parse(supplied); err == nil {
		return u.String()
	}
	return NewV4()
}
