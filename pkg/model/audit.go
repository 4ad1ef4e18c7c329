package model

import "time"

// HashValue is a SHA-256 hash stored as a hex string.
type HashValue string

// AuditRecord is a single line in the audit log (JSONL format). Each
// record commits to its predecessor through PrevHash.
type AuditRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Event      LockEvent `json:"event"`
	PrevHash   HashValue `json:"prev_hash"`
	RecordHash HashValue `json:"record_hash"`
}
