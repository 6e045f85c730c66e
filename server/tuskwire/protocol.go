package tuskwire

import (
	"time"

	"github.com/willibrandon/tusk-sub004/internal/registry"
	"github.com/willibrandon/tusk-sub004/internal/sql/diag"
	"github.com/willibrandon/tusk-sub004/internal/sql/executor"
	"github.com/willibrandon/tusk-sub004/internal/sql/value"
)

// Op selects the operation of a request.
type Op string

const (
	OpExecute         Op = "execute"
	OpExecuteMultiple Op = "execute_multiple"
	OpStream          Op = "stream"
	OpCancel          Op = "cancel"
	OpExplain         Op = "explain"
	OpRunning         Op = "running"
	OpHistory         Op = "history"
)

// Mode picks the default options when a request carries none.
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeBulk        Mode = "bulk"
)

// Request is one client request. Params travel as text, nil meaning NULL;
// the server infers their types.
type Request struct {
	ID           uint64    `json:"id"`
	Op           Op        `json:"op"`
	ConnectionID string    `json:"connection_id,omitempty"`
	SQL          string    `json:"sql,omitempty"`
	Params       []*string `json:"params,omitempty"`
	Mode         Mode      `json:"mode,omitempty"`
	Options      *Options  `json:"options,omitempty"`
	QueryID      string    `json:"query_id,omitempty"`

	Explain *ExplainOptions `json:"explain,omitempty"`

	// Limit caps the history entries returned.
	Limit int `json:"limit,omitempty"`
}

// Options overrides the mode defaults.
type Options struct {
	TimeoutMS   int64 `json:"timeout_ms,omitempty"`
	RowLimit    int   `json:"row_limit,omitempty"`
	BatchSize   int   `json:"batch_size,omitempty"`
	StopOnError bool  `json:"stop_on_error,omitempty"`
	ReadOnly    bool  `json:"read_only,omitempty"`
}

func (o *Options) executor() executor.Options {
	return executor.Options{
		Timeout:     time.Duration(o.TimeoutMS) * time.Millisecond,
		RowLimit:    o.RowLimit,
		BatchSize:   o.BatchSize,
		StopOnError: o.StopOnError,
		ReadOnly:    o.ReadOnly,
	}
}

type ExplainOptions struct {
	Analyze  bool   `json:"analyze,omitempty"`
	Verbose  bool   `json:"verbose,omitempty"`
	Costs    bool   `json:"costs,omitempty"`
	Buffers  bool   `json:"buffers,omitempty"`
	Timing   bool   `json:"timing,omitempty"`
	Settings bool   `json:"settings,omitempty"`
	Format   string `json:"format,omitempty"`
}

func (o *ExplainOptions) executor() executor.ExplainOptions {
	if o == nil {
		return executor.DefaultExplainOptions()
	}
	return executor.ExplainOptions{
		Analyze:  o.Analyze,
		Verbose:  o.Verbose,
		Costs:    o.Costs,
		Buffers:  o.Buffers,
		Timing:   o.Timing,
		Settings: o.Settings,
		Format:   executor.ExplainFormat(o.Format),
	}
}

// Kind tags a response frame.
type Kind string

const (
	KindResult   Kind = "result"
	KindStarted  Kind = "started"
	KindColumns  Kind = "columns"
	KindBatch    Kind = "batch"
	KindComplete Kind = "complete"
	KindError    Kind = "error"
)

// Response is one server frame. A request gets exactly one result, complete
// or error frame. A stream request first gets a started frame with the query
// id, then columns and batch frames, then complete.
type Response struct {
	ID      uint64 `json:"id"`
	Kind    Kind   `json:"kind"`
	QueryID string `json:"query_id,omitempty"`

	Outcome  *Outcome   `json:"outcome,omitempty"`
	Outcomes []*Outcome `json:"outcomes,omitempty"`

	Statement int                         `json:"statement,omitempty"`
	Columns   []executor.ColumnDescriptor `json:"columns,omitempty"`
	Batch     *Batch                      `json:"batch,omitempty"`

	Found   bool                    `json:"found,omitempty"`
	Running []registry.Running      `json:"running,omitempty"`
	History []executor.HistoryEntry `json:"history,omitempty"`

	Error string `json:"error,omitempty"`
}

// Cell is a display-ready value.
type Cell struct {
	Kind string `json:"k"`
	Text string `json:"t,omitempty"`
	Null bool   `json:"n,omitempty"`
}

type Batch struct {
	Statement int      `json:"statement"`
	Seq       int      `json:"seq"`
	Final     bool     `json:"final"`
	Rows      [][]Cell `json:"rows"`
}

// Outcome is executor.Outcome with rows rendered as cells.
type Outcome struct {
	QueryID        string                      `json:"query_id"`
	StatementIndex int                         `json:"statement_index"`
	SQL            string                      `json:"sql"`
	Status         executor.Status             `json:"status"`
	Command        string                      `json:"command"`
	CommandTag     string                      `json:"command_tag,omitempty"`
	Columns        []executor.ColumnDescriptor `json:"columns,omitempty"`
	Rows           [][]Cell                    `json:"rows,omitempty"`
	TotalRows      int64                       `json:"total_rows"`
	Truncated      bool                        `json:"truncated,omitempty"`
	RowsAffected   int64                       `json:"rows_affected"`
	ElapsedMS      int64                       `json:"elapsed_ms"`
	Diagnostics    *diag.Diagnostics           `json:"diagnostics,omitempty"`
	Plan           *executor.Plan              `json:"plan,omitempty"`
}

func EncodeCell(v value.Value) Cell {
	if v.Kind() == value.KindNull {
		return Cell{Kind: v.Kind().String(), Null: true}
	}
	return Cell{Kind: v.Kind().String(), Text: value.Format(v)}
}

func EncodeRows(rows []executor.Row) [][]Cell {
	out := make([][]Cell, len(rows))
	for i, r := range rows {
		cells := make([]Cell, len(r))
		for j, v := range r {
			cells[j] = EncodeCell(v)
		}
		out[i] = cells
	}
	return out
}

func EncodeBatch(b executor.RowBatch) *Batch {
	return &Batch{Statement: b.Statement, Seq: b.Seq, Final: b.Final, Rows: EncodeRows(b.Rows)}
}

func EncodeOutcome(o *executor.Outcome) *Outcome {
	if o == nil {
		return nil
	}
	return &Outcome{
		QueryID:        o.QueryID,
		StatementIndex: o.StatementIndex,
		SQL:            o.SQL,
		Status:         o.Status,
		Command:        o.Command.String(),
		CommandTag:     o.CommandTag,
		Columns:        o.Columns,
		Rows:           EncodeRows(o.Rows),
		TotalRows:      o.TotalRows,
		Truncated:      o.Truncated,
		RowsAffected:   o.RowsAffected,
		ElapsedMS:      o.Elapsed.Milliseconds(),
		Diagnostics:    o.Diagnostics,
		Plan:           o.Plan,
	}
}

func decodeParams(ps []*string) []any {
	if len(ps) == 0 {
		return nil
	}
	out := make([]any, len(ps))
	for i, p := range ps {
		if p != nil {
			out[i] = *p
		}
	}
	return out
}
