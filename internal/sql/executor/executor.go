// Package executor runs SQL statements against a PostgreSQL connection,
// streaming rows in batches and racing every row pull against cancellation.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/willibrandon/tusk-sub004/internal/logger"
	"github.com/willibrandon/tusk-sub004/internal/registry"
	"github.com/willibrandon/tusk-sub004/internal/sql/diag"
	"github.com/willibrandon/tusk-sub004/internal/sql/parser"
	"github.com/willibrandon/tusk-sub004/internal/sql/value"
)

// Executor executes statements for many concurrent callers.
type Executor struct {
	provider ConnectionProvider
	history  HistoryRecorder
	registry *registry.Registry
	log      logger.Logger

	newID func() string
}

// New builds an Executor. history may be nil. A nil registry gets a fresh one.
func New(provider ConnectionProvider, history HistoryRecorder, reg *registry.Registry, log logger.Logger) *Executor {
	if reg == nil {
		reg = registry.New()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Executor{
		provider: provider,
		history:  history,
		registry: reg,
		log:      log,
		newID:    uuid.NewString,
	}
}

// Registry returns the registry of in-flight queries.
func (e *Executor) Registry() *registry.Registry { return e.registry }

// ---- public API ----

// Execute runs one statement and collects every row into the outcome. Only a
// provider that cannot be reached yields an error, and the call is still
// recorded in history; statement failures come back as an Error outcome.
func (e *Executor) Execute(ctx context.Context, connectionID, sql string, params []any, opts Options) (*Outcome, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return nil, ErrEmptyStatement
	}

	c, err := e.begin(ctx, connectionID, sql)
	if err != nil {
		return nil, err
	}

	out, err := e.runSingle(c, sql, params, opts.normalize(), discardSink{}, true)
	if err != nil {
		e.unavailable(c, sql, err)
		return nil, err
	}

	c.end(out.Status)
	e.record(c, []*Outcome{out})
	return out, nil
}

// ExecuteStreaming starts one statement in the background and returns its
// query id. Columns, batches and the outcome are pushed to sink. The query id
// is registered before ExecuteStreaming returns, so Cancel works right away.
func (e *Executor) ExecuteStreaming(ctx context.Context, connectionID, sql string, params []any, opts Options, sink Sink) (string, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return "", ErrEmptyStatement
	}
	if sink == nil {
		sink = discardSink{}
	}

	c, err := e.begin(ctx, connectionID, sql)
	if err != nil {
		return "", err
	}

	go func() {
		out, err := e.runSingle(c, sql, params, opts.normalize(), sink, false)
		if err != nil {
			out = c.failed(sql, err)
		}

		c.end(out.Status)
		e.record(c, []*Outcome{out})
		sink.OnComplete(out)
	}()

	return c.id, nil
}

// ExecuteMultiple splits sql and runs the statements in order on one
// connection, one outcome per statement. With StopOnError a failed statement
// ends the run. A cancelled statement always ends it.
func (e *Executor) ExecuteMultiple(ctx context.Context, connectionID, sql string, opts Options) ([]*Outcome, error) {
	stmts := parser.Split(sql)
	if len(stmts) == 0 {
		return nil, ErrEmptyStatement
	}
	opts = opts.normalize()

	c, err := e.begin(ctx, connectionID, sql)
	if err != nil {
		return nil, err
	}

	ls, out, err := e.connect(c, 0, stmts[0], opts)
	if err != nil {
		e.unavailable(c, stmts[0], err)
		return nil, err
	}
	if out != nil {
		c.end(out.Status)
		e.record(c, []*Outcome{out})
		return []*Outcome{out}, nil
	}

	outs := make([]*Outcome, 0, len(stmts))
	for i, stmt := range stmts {
		out := e.statement(c, ls, i, stmt, nil, opts, discardSink{}, true)
		outs = append(outs, out)

		if out.Status == StatusCancelled {
			break
		}
		if out.Failed() && opts.StopOnError {
			break
		}
	}
	ls.close()

	last := outs[len(outs)-1]
	c.end(last.Status)
	e.record(c, outs)
	return outs, nil
}

// Cancel signals a running query. It reports false when id is not running,
// including when it was already cancelled.
func (e *Executor) Cancel(id string) bool {
	ok := e.registry.Cancel(id)
	if ok {
		e.log.Info("executor: query cancelled", logger.Ctx{"query": id})
	}
	return ok
}

// ListRunning returns a snapshot of in-flight queries.
func (e *Executor) ListRunning() []registry.Running {
	return e.registry.List()
}

// ---- call lifecycle ----

// call is one top-level execute call. It owns one registry entry.
type call struct {
	id           string
	connectionID string
	sql          string
	start        time.Time

	ctx    context.Context
	cancel context.CancelFunc
	reg    *registry.Registry
}

func (e *Executor) begin(ctx context.Context, connectionID, sql string) (*call, error) {
	qctx, cancel := context.WithCancel(ctx)
	c := &call{
		id:           e.newID(),
		connectionID: connectionID,
		sql:          sql,
		start:        time.Now(),
		ctx:          qctx,
		cancel:       cancel,
		reg:          e.registry,
	}

	if err := e.registry.Register(c.id, registry.CancelFunc(cancel), sql, c.start); err != nil {
		cancel()
		return nil, fmt.Errorf("executor: register query: %w", err)
	}
	return c, nil
}

// end removes the registry entry. It is a no-op when Cancel got there first.
func (c *call) end(status Status) {
	state := registry.StateCompleted
	switch status {
	case StatusError:
		state = registry.StateErrored
	case StatusCancelled:
		state = registry.StateCancelled
	}
	c.reg.Finish(c.id, state)
	c.cancel()
}

func (c *call) outcome(idx int, sql string) *Outcome {
	return &Outcome{
		QueryID:        c.id,
		StatementIndex: idx,
		SQL:            sql,
		Command:        parser.Classify(sql),
	}
}

// failed is the outcome of a call whose provider could not be reached.
func (c *call) failed(sql string, err error) *Outcome {
	out := c.outcome(0, sql)
	out.Status = StatusError
	out.Diagnostics = diag.Normalize(err, sql)
	out.Elapsed = time.Since(c.start)
	return out
}

func (c *call) cancelled(idx int, sql string, start time.Time) *Outcome {
	out := c.outcome(idx, sql)
	out.Status = StatusCancelled
	out.Elapsed = time.Since(start)
	return out
}

// runSingle connects and runs one statement. A non-nil error means the
// provider could not be reached.
func (e *Executor) runSingle(c *call, sql string, params []any, opts Options, sink Sink, collect bool) (*Outcome, error) {
	ls, out, err := e.connect(c, 0, sql, opts)
	if err != nil {
		return nil, err
	}
	if out != nil {
		return out, nil
	}

	out = e.statement(c, ls, 0, sql, params, opts, sink, collect)
	ls.close()
	return out, nil
}

// connect acquires the connection and applies session settings. When the
// call cannot continue it returns either a terminal outcome or, for an
// unreachable provider, an error.
func (e *Executor) connect(c *call, idx int, sql string, opts Options) (*lease, *Outcome, error) {
	conn, err := e.provider.Acquire(c.ctx, c.connectionID)
	if err != nil {
		if c.ctx.Err() != nil {
			return nil, c.cancelled(idx, sql, c.start), nil
		}
		if errors.Is(err, ErrUnavailable) {
			return nil, nil, err
		}

		e.log.Warn("executor: acquire connection failed",
			logger.Ctx{"query": c.id, "connection": c.connectionID, "err": err})

		out := c.outcome(idx, sql)
		out.Status = StatusError
		out.Diagnostics = diag.Normalize(err, sql)
		out.Diagnostics.Kind = diag.KindConnection
		out.Elapsed = time.Since(c.start)
		return nil, out, nil
	}

	// Cancelled while waiting for the pool: never dispatch.
	if c.ctx.Err() != nil {
		conn.Release()
		return nil, c.cancelled(idx, sql, c.start), nil
	}

	ls := newLease(conn, e.log.AddContext(logger.Ctx{"query": c.id}))
	ls.apply(c.ctx, opts)

	if c.ctx.Err() != nil {
		ls.close()
		return nil, c.cancelled(idx, sql, c.start), nil
	}
	return ls, nil, nil
}

// ---- statement ----

type eventKind int

const (
	evColumns eventKind = iota
	evRow
	evDone
	evError
)

// event is what a statement worker hands to the consumer.
type event struct {
	kind    eventKind
	columns []ColumnDescriptor
	rowPath bool
	row     []any
	tag     Tag
	err     error
}

// statement runs one statement on ls. Driver calls happen in a worker
// goroutine detached from the call's context; the consumer here races every
// event against cancellation, giving cancellation priority.
func (e *Executor) statement(c *call, ls *lease, idx int, sql string, params []any, opts Options, sink Sink, collect bool) *Outcome {
	start := time.Now()
	out := c.outcome(idx, sql)

	if err := ls.wait(c.ctx); err != nil || c.ctx.Err() != nil {
		return c.cancelled(idx, sql, start)
	}

	gen := ls.next()
	events := make(chan event)
	stop := make(chan struct{})
	done := make(chan struct{})
	ls.worker = done

	go e.work(context.WithoutCancel(c.ctx), ls, gen, sql, params, out.Command, events, stop, done)

	var (
		batch   = make([]Row, 0, opts.BatchSize)
		seq     int
		rowPath bool
	)

	abort := func() {
		close(stop)
		go ls.cancelServer(gen)
	}

	cancelled := func() *Outcome {
		abort()
		out.Status = StatusCancelled
		out.Elapsed = time.Since(start)
		return out
	}

	// emit delivers a batch unless the query was cancelled meanwhile.
	emit := func(final bool) bool {
		if c.ctx.Err() != nil {
			return false
		}
		rb := RowBatch{QueryID: c.id, Statement: idx, Seq: seq, Rows: batch, Final: final}
		sink.OnBatch(rb)
		if collect {
			out.Rows = append(out.Rows, batch...)
		}
		seq++
		batch = make([]Row, 0, opts.BatchSize)
		return true
	}

	for {
		ev, ok := receive(c.ctx, events)
		if !ok {
			return cancelled()
		}

		switch ev.kind {
		case evColumns:
			out.Columns = ev.columns
			rowPath = ev.rowPath
			if rowPath {
				sink.OnColumns(c.id, idx, ev.columns)
			}

		case evRow:
			if opts.RowLimit > 0 && out.TotalRows == int64(opts.RowLimit) {
				// One row past the limit: stop pulling.
				abort()
				out.Truncated = true
				if !emit(true) {
					out.Status = StatusCancelled
					out.Elapsed = time.Since(start)
					return out
				}
				out.Status = StatusSuccess
				out.Elapsed = time.Since(start)
				return out
			}

			row, err := mapRow(ev.row, out.Columns)
			if err != nil {
				abort()
				e.log.Error("executor: row mapping failed", logger.Ctx{"query": c.id, "err": err})
				out.Status = StatusError
				out.Diagnostics = diag.Internal(err.Error())
				out.Elapsed = time.Since(start)
				return out
			}

			batch = append(batch, row)
			out.TotalRows++
			if len(batch) == opts.BatchSize && !emit(false) {
				return cancelled()
			}

		case evDone:
			if rowPath && !emit(true) {
				return cancelled()
			}
			out.Status = StatusSuccess
			out.CommandTag = ev.tag.Text
			if !out.Command.ReturnsRows() {
				out.RowsAffected = ev.tag.RowsAffected
			}
			out.Elapsed = time.Since(start)
			return out

		case evError:
			out.Status = StatusError
			out.Diagnostics = diag.Normalize(ev.err, sql)
			out.Rows = nil
			out.Elapsed = time.Since(start)

			e.log.Debug("executor: statement failed", logger.Ctx{
				"query": c.id, "statement": idx, "code": out.Diagnostics.Code, "err": ev.err,
			})
			return out
		}
	}
}

// receive waits for the next worker event. It reports false on cancellation,
// which wins over a ready event.
func receive(ctx context.Context, events <-chan event) (event, bool) {
	select {
	case <-ctx.Done():
		return event{}, false
	default:
	}

	select {
	case <-ctx.Done():
		return event{}, false
	case ev := <-events:
		return ev, true
	}
}

// work performs the driver calls of one statement. It stops sending as soon
// as stop is closed and then only cleans up.
func (e *Executor) work(
	ctx context.Context,
	ls *lease,
	gen uint64,
	sql string,
	params []any,
	cmd parser.Command,
	events chan<- event,
	stop <-chan struct{},
	done chan<- struct{},
) {
	defer close(done)

	send := func(ev event) bool {
		select {
		case events <- ev:
			return true
		case <-stop:
			return false
		}
	}

	prepared, err := ls.conn.Prepare(ctx, sql)
	if err != nil {
		send(event{kind: evError, err: err})
		return
	}

	rowPath := cmd.ReturnsRows() || len(prepared.Columns) > 0
	if !send(event{kind: evColumns, columns: prepared.Columns, rowPath: rowPath}) {
		return
	}

	ls.begin(gen)
	defer ls.end(gen)

	// A cancel that saw the lease idle relies on this check.
	select {
	case <-stop:
		return
	default:
	}

	if !rowPath {
		tag, err := ls.conn.Exec(ctx, sql, params...)
		if err != nil {
			send(event{kind: evError, err: err})
			return
		}
		send(event{kind: evDone, tag: tag})
		return
	}

	rows, err := ls.conn.Query(ctx, sql, params...)
	if err != nil {
		send(event{kind: evError, err: err})
		return
	}

	for rows.Next() {
		raw, err := rows.Values()
		if err != nil {
			rows.Close()
			send(event{kind: evError, err: err})
			return
		}
		if !send(event{kind: evRow, row: raw}) {
			rows.Close()
			return
		}
	}
	rows.Close()

	if err := rows.Err(); err != nil {
		send(event{kind: evError, err: err})
		return
	}
	send(event{kind: evDone, tag: rows.Tag()})
}

func mapRow(raw []any, cols []ColumnDescriptor) (Row, error) {
	if len(raw) != len(cols) {
		return nil, fmt.Errorf("%w: row has %d values for %d columns", diag.ErrInternal, len(raw), len(cols))
	}

	row := make(Row, len(raw))
	for i, v := range raw {
		row[i] = value.Map(v, cols[i].TypeName)
	}
	return row, nil
}

// ---- history ----

// unavailable ends a call whose provider could not be reached and records it.
func (e *Executor) unavailable(c *call, sql string, err error) {
	c.end(StatusError)
	e.record(c, []*Outcome{c.failed(sql, err)})
}

// record writes the single history entry of a call.
func (e *Executor) record(c *call, outs []*Outcome) {
	if e.history == nil || len(outs) == 0 {
		return
	}

	entry := HistoryEntry{
		ConnectionID: c.connectionID,
		SQL:          c.sql,
		ElapsedMS:    time.Since(c.start).Milliseconds(),
		Status:       StatusSuccess,
		Statements:   len(outs),
		At:           c.start,
	}
	if len(outs) == 1 {
		entry.Command = string(outs[0].Command)
	}

	for _, o := range outs {
		entry.Rows += o.TotalRows
		entry.RowsAffected += o.RowsAffected

		if o.Failed() && entry.Error == "" && o.Diagnostics != nil {
			entry.SQLState = o.Diagnostics.Code
			entry.Error = o.Diagnostics.Message
		}
	}

	switch last := outs[len(outs)-1]; {
	case last.Status == StatusCancelled:
		entry.Status = StatusCancelled
	case entry.Error != "":
		entry.Status = StatusError
	}

	if err := e.history.Record(context.WithoutCancel(c.ctx), entry); err != nil {
		e.log.Warn("executor: history record failed", logger.Ctx{"query": c.id, "err": err})
	}
}
