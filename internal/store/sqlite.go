package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/flirtduo/chatlock/pkg/errclass"
	"github.com/flirtduo/chatlock/pkg/logging"
	"github.com/flirtduo/chatlock/pkg/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversation_locks (
	conversation_id TEXT PRIMARY KEY,
	holder_id       TEXT NOT NULL,
	holder_name     TEXT NOT NULL,
	acquired_at     INTEGER NOT NULL,
	expires_at      INTEGER NOT NULL CHECK (expires_at > acquired_at),
	fence           INTEGER NOT NULL
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS conversation_locks_expires_at
	ON conversation_locks (expires_at);

CREATE TABLE IF NOT EXISTS lock_fence (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	value INTEGER NOT NULL
);

INSERT OR IGNORE INTO lock_fence (id, value) VALUES (1, 0);
`

const lockColumns = `conversation_id, holder_id, holder_name, acquired_at, expires_at, fence`

// getManyChunk keeps IN lists well below SQLite's host parameter limit.
const getManyChunk = 500

// SQLite is a Store backed by a SQLite database file. Several processes
// may share the file: every acquire runs in an IMMEDIATE transaction, so
// the read of the current record and the write of the new one happen
// under SQLite's single write lock with no gap in between.
type SQLite struct {
	pool   *Pool
	logger *logging.Logger
}

// SQLiteConfig configures OpenSQLite.
type SQLiteConfig struct {
	Path     string
	PoolSize int
	Logger   *logging.Logger
}

// OpenSQLite opens (and if needed creates) the lock database.
func OpenSQLite(cfg SQLiteConfig) (*SQLite, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	pool, err := OpenPool(PoolConfig{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, err
	}
	return &SQLite{pool: pool, logger: logger}, nil
}

func (s *SQLite) Acquire(ctx context.Context, req model.LockRequest) (model.Transition, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return model.Transition{}, classify("acquire", err)
	}
	defer s.pool.Put(conn)

	tr, err := acquireTx(conn, req)
	return tr, classify("acquire", err)
}

func acquireTx(conn *sqlite.Conn, req model.LockRequest) (tr model.Transition, err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return tr, err
	}
	defer endTransaction(&err)

	existing, err := getRecord(conn, req.ConversationID)
	if err != nil {
		return tr, err
	}

	var fenceErr error
	tr = Resolve(existing, req, func() int64 {
		fence, err := nextFence(conn)
		if err != nil {
			fenceErr = err
		}
		return fence
	})
	if fenceErr != nil {
		return tr, fenceErr
	}

	switch tr.Outcome {
	case model.OutcomeGranted, model.OutcomeTakenOver:
		err = sqlitex.Execute(conn,
			`INSERT INTO conversation_locks (`+lockColumns+`) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (conversation_id) DO UPDATE SET
			   holder_id = excluded.holder_id,
			   holder_name = excluded.holder_name,
			   acquired_at = excluded.acquired_at,
			   expires_at = excluded.expires_at,
			   fence = excluded.fence`,
			&sqlitex.ExecOptions{Args: recordArgs(tr.Current)})
	case model.OutcomeRenewed:
		err = sqlitex.Execute(conn,
			`UPDATE conversation_locks
			 SET holder_name = ?, acquired_at = ?, expires_at = ?
			 WHERE conversation_id = ? AND holder_id = ?`,
			&sqlitex.ExecOptions{Args: []any{
				tr.Current.HolderName,
				tr.Current.AcquiredAt.UnixNano(),
				tr.Current.ExpiresAt.UnixNano(),
				tr.Current.ConversationID,
				tr.Current.HolderID,
			}})
	}
	return tr, err
}

func (s *SQLite) Release(ctx context.Context, conversationID, holderID string) (*model.LockRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, classify("release", err)
	}
	defer s.pool.Put(conn)

	var removed *model.LockRecord
	err = sqlitex.Execute(conn,
		`DELETE FROM conversation_locks WHERE conversation_id = ? AND holder_id = ?
		 RETURNING `+lockColumns,
		&sqlitex.ExecOptions{
			Args: []any{conversationID, holderID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rec := scanRecord(stmt)
				removed = &rec
				return nil
			},
		})
	if err != nil {
		return nil, classify("release", err)
	}
	return removed, nil
}

func (s *SQLite) Get(ctx context.Context, conversationID string) (*model.LockRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, classify("get", err)
	}
	defer s.pool.Put(conn)

	rec, err := getRecord(conn, conversationID)
	return rec, classify("get", err)
}

func (s *SQLite) GetMany(ctx context.Context, conversationIDs []string) (map[string]model.LockRecord, error) {
	out := make(map[string]model.LockRecord, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, classify("get many", err)
	}
	defer s.pool.Put(conn)

	for start := 0; start < len(conversationIDs); start += getManyChunk {
		chunk := conversationIDs[start:min(start+getManyChunk, len(conversationIDs))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")

		err := sqlitex.Execute(conn,
			`SELECT `+lockColumns+` FROM conversation_locks WHERE conversation_id IN (`+placeholders+`)`,
			&sqlitex.ExecOptions{
				Args: args,
				ResultFunc: func(stmt *sqlite.Stmt) error {
					rec := scanRecord(stmt)
					out[rec.ConversationID] = rec
					return nil
				},
			})
		if err != nil {
			return nil, classify("get many", err)
		}
	}
	return out, nil
}

func (s *SQLite) Sweep(ctx context.Context, now time.Time) ([]model.LockRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, classify("sweep", err)
	}
	defer s.pool.Put(conn)

	var removed []model.LockRecord
	err = sqlitex.Execute(conn,
		`DELETE FROM conversation_locks WHERE expires_at < ? RETURNING `+lockColumns,
		&sqlitex.ExecOptions{
			Args: []any{now.UnixNano()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				removed = append(removed, scanRecord(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, classify("sweep", err)
	}
	return removed, nil
}

func (s *SQLite) Close() error {
	return s.pool.Close()
}

func getRecord(conn *sqlite.Conn, conversationID string) (*model.LockRecord, error) {
	var rec *model.LockRecord
	err := sqlitex.Execute(conn,
		`SELECT `+lockColumns+` FROM conversation_locks WHERE conversation_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{conversationID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				r := scanRecord(stmt)
				rec = &r
				return nil
			},
		})
	return rec, err
}

func nextFence(conn *sqlite.Conn) (int64, error) {
	var fence int64
	err := sqlitex.Execute(conn,
		`UPDATE lock_fence SET value = value + 1 WHERE id = 1 RETURNING value`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				fence = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err == nil && fence == 0 {
		err = errors.New("lock_fence row missing")
	}
	return fence, err
}

func recordArgs(rec model.LockRecord) []any {
	return []any{
		rec.ConversationID,
		rec.HolderID,
		rec.HolderName,
		rec.AcquiredAt.UnixNano(),
		rec.ExpiresAt.UnixNano(),
		rec.FencingToken,
	}
}

func scanRecord(stmt *sqlite.Stmt) model.LockRecord {
	return model.LockRecord{
		ConversationID: stmt.ColumnText(0),
		HolderID:       stmt.ColumnText(1),
		HolderName:     stmt.ColumnText(2),
		AcquiredAt:     time.Unix(0, stmt.ColumnInt64(3)).UTC(),
		ExpiresAt:      time.Unix(0, stmt.ColumnInt64(4)).UTC(),
		FencingToken:   stmt.ColumnInt64(5),
	}
}

// classify marks contention and pool exhaustion as transient so the
// manager retries them; anything else is returned as a plain error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return errclass.ErrStoreUnavailable.WithMessagef("sqlite %s", op).WithCause(err)
	}
	return fmt.Errorf("sqlite store: %s: %w", op, err)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if errors.Is(err, errclass.ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch sqlite.ErrCode(err).ToPrimary() {
	case sqlite.ResultBusy, sqlite.ResultLocked:
		return true
	}
	return false
}
