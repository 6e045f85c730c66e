// Package diag turns driver errors into position-aware query diagnostics.
package diag

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies where a failure came from.
type Kind string

const (
	KindConnection Kind = "connection"
	KindStatement  Kind = "statement"
	KindTimeout    Kind = "timeout"
	KindInternal   Kind = "internal"
)

// Severity is a server message severity.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityFatal   Severity = "FATAL"
	SeverityPanic   Severity = "PANIC"
	SeverityWarning Severity = "WARNING"
	SeverityNotice  Severity = "NOTICE"
	SeverityDebug   Severity = "DEBUG"
	SeverityInfo    Severity = "INFO"
	SeverityLog     Severity = "LOG"
)

var severities = []Severity{
	SeverityError,
	SeverityFatal,
	SeverityPanic,
	SeverityWarning,
	SeverityNotice,
	SeverityDebug,
	SeverityInfo,
	SeverityLog,
}

// SQLSTATE codes the engine inspects.
const (
	CodeQueryCanceled = "57014"
)

// ErrInternal marks invariant violations inside the engine.
var ErrInternal = errors.New("diag: internal error")

// Diagnostics is the structured form of a failed statement.
type Diagnostics struct {
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Detail   string   `json:"detail,omitempty"`
	Hint     string   `json:"hint,omitempty"`
	Where    string   `json:"where,omitempty"`

	// Position is the 1-indexed position in the statement text, 0 if unknown.
	Position int `json:"position,omitempty"`
	Line     int `json:"line,omitempty"`
	Column   int `json:"column,omitempty"`

	InternalPosition int    `json:"internal_position,omitempty"`
	InternalQuery    string `json:"internal_query,omitempty"`

	SchemaName     string `json:"schema_name,omitempty"`
	TableName      string `json:"table_name,omitempty"`
	ColumnName     string `json:"column_name,omitempty"`
	DataTypeName   string `json:"data_type_name,omitempty"`
	ConstraintName string `json:"constraint_name,omitempty"`
}

func (d *Diagnostics) Error() string {
	if d.Code == "" {
		return d.Message
	}
	return string(d.Severity) + ": " + d.Message + " (SQLSTATE " + d.Code + ")"
}

// Normalize builds diagnostics for err raised while running sql. Errors
// without server diagnostics yield a minimal connection-kind result with an
// empty SQLSTATE. Normalize returns nil for a nil error.
func Normalize(err error, sql string) *Diagnostics {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		kind := KindConnection
		if errors.Is(err, ErrInternal) {
			kind = KindInternal
		}
		return &Diagnostics{
			Kind:     kind,
			Severity: SeverityError,
			Message:  err.Error(),
		}
	}

	sev := pgErr.SeverityUnlocalized
	if sev == "" {
		sev = pgErr.Severity
	}

	d := &Diagnostics{
		Kind:             KindStatement,
		Severity:         ParseSeverity(sev),
		Code:             pgErr.Code,
		Message:          pgErr.Message,
		Detail:           pgErr.Detail,
		Hint:             pgErr.Hint,
		Where:            pgErr.Where,
		Position:         int(pgErr.Position),
		InternalPosition: int(pgErr.InternalPosition),
		InternalQuery:    pgErr.InternalQuery,
		SchemaName:       pgErr.SchemaName,
		TableName:        pgErr.TableName,
		ColumnName:       pgErr.ColumnName,
		DataTypeName:     pgErr.DataTypeName,
		ConstraintName:   pgErr.ConstraintName,
	}

	if IsTimeout(pgErr) {
		d.Kind = KindTimeout
	}

	if d.Position > 0 {
		d.Line, d.Column = LineColumn(sql, d.Position)
	}

	return d
}

// IsTimeout reports whether err is a server-enforced statement timeout.
func IsTimeout(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == CodeQueryCanceled && strings.Contains(pgErr.Message, "statement timeout")
}

// IsCanceled reports whether err is a cancellation, either client side or a
// server-side cancel request (SQLSTATE 57014 other than a statement timeout).
func IsCanceled(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == CodeQueryCanceled && !IsTimeout(pgErr)
	}
	return false
}

// Internal returns diagnostics for an invariant violation.
func Internal(msg string) *Diagnostics {
	return &Diagnostics{Kind: KindInternal, Severity: SeverityError, Message: msg}
}

// ParseSeverity matches s case-insensitively against the known severities.
// Anything else is ERROR.
func ParseSeverity(s string) Severity {
	s = strings.TrimSpace(s)
	for _, sev := range severities {
		if strings.EqualFold(s, string(sev)) {
			return sev
		}
	}
	return SeverityError
}

// LineColumn converts a 1-indexed byte position into a 1-indexed line and
// column. The line is one plus the newlines before the position; the column
// is the distance from the last of them. A "\r" directly before the position
// belongs to the line terminator and is not counted. Positions past the end
// clamp to just after the last byte. Non-positive positions give (0, 0).
func LineColumn(sql string, position int) (line, column int) {
	if position <= 0 {
		return 0, 0
	}
	if position > len(sql)+1 {
		position = len(sql) + 1
	}

	prefix := sql[:position-1]
	line = 1 + strings.Count(prefix, "\n")
	column = len(prefix) - strings.LastIndexByte(prefix, '\n')
	if strings.HasSuffix(prefix, "\r") && column > 1 {
		column--
	}
	return line, column
}
