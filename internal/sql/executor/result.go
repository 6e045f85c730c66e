package executor

import (
	"time"

	"github.com/willibrandon/tusk-sub004/internal/sql/diag"
	"github.com/willibrandon/tusk-sub004/internal/sql/parser"
	"github.com/willibrandon/tusk-sub004/internal/sql/value"
)

// Status is the terminal status of one statement.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// ErrorKind classifies a failed statement: connection, statement, timeout or internal.
type ErrorKind = diag.Kind

// ColumnDescriptor describes one result column. It is built once per
// statement from the prepared statement and shared by every batch.
type ColumnDescriptor struct {
	Name     string `json:"name"`
	TypeOID  uint32 `json:"type_oid"`
	TypeName string `json:"type_name"`
	Ordinal  int    `json:"ordinal"`

	// Nullable is nil when the server could not tell.
	Nullable *bool `json:"nullable,omitempty"`
}

// Row is one result row, ordered like the columns.
type Row []value.Value

// RowBatch is a chunk of rows of one statement. Seq starts at 0 and grows by
// one per batch. The last batch of a completed statement has Final set.
type RowBatch struct {
	QueryID   string `json:"query_id"`
	Statement int    `json:"statement"`
	Seq       int    `json:"seq"`
	Rows      []Row  `json:"-"`
	Final     bool   `json:"final"`
}

// Outcome is the result of one statement.
type Outcome struct {
	QueryID        string
	StatementIndex int
	SQL            string

	Status     Status
	Command    parser.Command
	CommandTag string

	// Row-returning statements.
	Columns   []ColumnDescriptor
	Rows      []Row // only filled by the collecting calls
	TotalRows int64
	Truncated bool

	// Effect-only statements.
	RowsAffected int64

	Elapsed     time.Duration
	Diagnostics *diag.Diagnostics

	// Plan is set by Explain when the JSON format was requested.
	Plan *Plan
}

// Failed reports whether the statement ended with an error.
func (o *Outcome) Failed() bool { return o.Status == StatusError }

// ErrorKind returns the failure class, or "" for a non-error outcome.
func (o *Outcome) ErrorKind() ErrorKind {
	if o.Diagnostics == nil {
		return ""
	}
	return o.Diagnostics.Kind
}
