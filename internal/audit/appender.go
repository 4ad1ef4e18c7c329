// Package audit keeps a tamper-evident trail of lock transitions.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flirtduo/chatlock/pkg/errclass"
	"github.com/flirtduo/chatlock/pkg/jsonutil"
	"github.com/flirtduo/chatlock/pkg/logging"
	"github.com/flirtduo/chatlock/pkg/model"
)

// FileAppender appends lock events to a JSONL file with a hash chain.
// Several processes may append to the same file; writes are serialized
// with an advisory file lock.
type FileAppender struct {
	path   string
	mu     sync.Mutex
	logger *logging.Logger
	now    func() time.Time
}

// NewFileAppender creates a new FileAppender.
func NewFileAppender(path string, logger *logging.Logger) *FileAppender {
	if logger == nil {
		logger = logging.Discard()
	}
	return &FileAppender{path: path, logger: logger, now: time.Now}
}

// Path returns the log file path.
func (a *FileAppender) Path() string {
	return a.path
}

// Notify appends event, logging instead of returning failures so a
// broken audit log never changes a lock outcome.
func (a *FileAppender) Notify(event model.LockEvent) {
	if err := a.Append(event); err != nil {
		a.logger.ErrorErr("audit append failed", err, map[string]any{
			"event":           string(event.Type),
			"conversation_id": event.ConversationID,
		})
	}
}

// Append adds a new audit record to the log.
func (a *FileAppender) Append(event model.LockEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	file, err := os.OpenFile(a.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	if err := lockFile(file); err != nil {
		return fmt.Errorf("flock audit log: %w", err)
	}
	defer unlockFile(file)

	prevHash, err := lastRecordHash(file)
	if err != nil {
		return fmt.Errorf("get last record hash: %w", err)
	}

	record := &model.AuditRecord{
		Timestamp: a.now().UTC(),
		Event:     event,
		PrevHash:  prevHash,
	}
	record.RecordHash, err = computeRecordHash(record)
	if err != nil {
		return err
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	if _, err := file.Seek(0, 2); err != nil {
		return fmt.Errorf("seek to end: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}
	return nil
}

// LastRecordHash returns the hash of the last record in the log.
func (a *FileAppender) LastRecordHash() (model.HashValue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	return lastRecordHash(file)
}

func lastRecordHash(file *os.File) (model.HashValue, error) {
	if _, err := file.Seek(0, 0); err != nil {
		return "", fmt.Errorf("seek to start: %w", err)
	}

	var lastHash model.HashValue
	scanner := newScanner(file)
	for scanner.Scan() {
		var record model.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue // Verify reports malformed lines
		}
		lastHash = record.RecordHash
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan audit log: %w", err)
	}
	return lastHash, nil
}

// Verify walks the log at path and checks every record's hash and link
// to its predecessor. It returns the number of records checked. A
// missing file is an empty, valid log.
func Verify(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	var (
		prev model.HashValue
		n    int
	)
	scanner := newScanner(file)
	for scanner.Scan() {
		n++
		var record model.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return n - 1, errclass.ErrAuditChainBroken.WithMessagef("line %d: malformed record", n).WithCause(err)
		}
		if record.PrevHash != prev {
			return n - 1, errclass.ErrAuditChainBroken.WithMessagef("line %d: prev_hash does not match line %d", n, n-1)
		}
		want, err := computeRecordHash(&record)
		if err != nil {
			return n - 1, err
		}
		if record.RecordHash != want {
			return n - 1, errclass.ErrAuditChainBroken.WithMessagef("line %d: record_hash mismatch", n)
		}
		prev = record.RecordHash
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("scan audit log: %w", err)
	}
	return n, nil
}

func newScanner(file *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}

func computeRecordHash(record *model.AuditRecord) (model.HashValue, error) {
	hashRecord := *record
	hashRecord.RecordHash = ""

	digest, err := jsonutil.Digest(hashRecord)
	if err != nil {
		return "", fmt.Errorf("compute record hash: %w", err)
	}
	return model.HashValue(digest), nil
}
