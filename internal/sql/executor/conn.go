package executor

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable is wrapped by providers when the connection pool itself
	// cannot be reached (closed, or unknown connection id). Calls return it as
	// a Go error instead of an Error outcome.
	ErrUnavailable = errors.New("executor: connection provider unavailable")

	ErrEmptyStatement = errors.New("executor: empty statement")
)

// ConnectionProvider hands out connections by connection id. Implementations
// must be safe for concurrent use.
type ConnectionProvider interface {
	Acquire(ctx context.Context, connectionID string) (Conn, error)
}

// Conn is an acquired connection. It is used by one call at a time except
// for CancelRequest, which may be called from another goroutine while a
// statement is running.
type Conn interface {
	Prepare(ctx context.Context, sql string) (*Prepared, error)
	Exec(ctx context.Context, sql string, params ...any) (Tag, error)
	Query(ctx context.Context, sql string, params ...any) (Rows, error)

	// CancelRequest asks the server to cancel whatever the connection is running.
	CancelRequest(ctx context.Context) error

	Release()
}

// Prepared is the metadata of a prepared statement.
type Prepared struct {
	Columns []ColumnDescriptor
}

// Tag is a completed command's tag.
type Tag struct {
	Text         string
	RowsAffected int64
}

// Rows is a forward-only row stream. Values returns the raw driver values of
// the current row. Tag and Err are valid after Next returns false or Close.
type Rows interface {
	Next() bool
	Values() ([]any, error)
	Err() error
	Tag() Tag
	Close()
}

// HistoryEntry is one record per top-level execute call.
type HistoryEntry struct {
	ConnectionID string    `json:"connection_id"`
	SQL          string    `json:"sql"`
	ElapsedMS    int64     `json:"elapsed_ms"`
	Status       Status    `json:"status"`
	Command      string    `json:"command,omitempty"`
	Statements   int       `json:"statements"`
	Rows         int64     `json:"rows"`
	RowsAffected int64     `json:"rows_affected"`
	SQLState     string    `json:"sqlstate,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// HistoryRecorder receives history entries. Errors are logged by the executor
// and never reach the caller.
type HistoryRecorder interface {
	Record(ctx context.Context, entry HistoryEntry) error
}
