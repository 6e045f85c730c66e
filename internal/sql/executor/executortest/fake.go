// Package executortest provides an in-memory ConnectionProvider for tests of
// packages built on the executor.
package executortest

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/willibrandon/tusk-sub004/internal/sql/executor"
)

// Script describes how the fake answers one SQL text.
type Script struct {
	Columns []executor.ColumnDescriptor
	Rows    [][]any
	Tag     executor.Tag
	Err     error

	// Block makes the row stream hang after Rows until the server cancel
	// request arrives, then fail with SQLSTATE 57014.
	Block bool
}

// Provider serves every connection id from one script table.
type Provider struct {
	mu      sync.Mutex
	scripts map[string]Script
	cancels int
}

var _ executor.ConnectionProvider = (*Provider)(nil)

func NewProvider() *Provider {
	return &Provider{scripts: make(map[string]Script)}
}

// On registers the script for sql.
func (p *Provider) On(sql string, s Script) *Provider {
	p.mu.Lock()
	p.scripts[sql] = s
	p.mu.Unlock()
	return p
}

// Cancels returns how many server cancel requests were sent.
func (p *Provider) Cancels() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancels
}

func (p *Provider) script(sql string) Script {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scripts[sql]
}

func (p *Provider) Acquire(ctx context.Context, connectionID string) (executor.Conn, error) {
	if connectionID == "" {
		return nil, fmt.Errorf("executortest: empty connection id: %w", executor.ErrUnavailable)
	}
	return &conn{p: p, cancelled: make(chan struct{})}, nil
}

type conn struct {
	p *Provider

	once      sync.Once
	cancelled chan struct{}
}

func (c *conn) Prepare(ctx context.Context, sql string) (*executor.Prepared, error) {
	s := c.p.script(sql)
	if s.Err != nil {
		return nil, s.Err
	}
	return &executor.Prepared{Columns: s.Columns}, nil
}

func (c *conn) Exec(ctx context.Context, sql string, params ...any) (executor.Tag, error) {
	s := c.p.script(sql)
	return s.Tag, s.Err
}

func (c *conn) Query(ctx context.Context, sql string, params ...any) (executor.Rows, error) {
	s := c.p.script(sql)
	if s.Err != nil {
		return nil, s.Err
	}
	r := &rows{data: s.Rows, tag: s.Tag}
	if s.Block {
		r.wait = c.cancelled
	}
	return r, nil
}

func (c *conn) CancelRequest(ctx context.Context) error {
	c.p.mu.Lock()
	c.p.cancels++
	c.p.mu.Unlock()
	c.once.Do(func() { close(c.cancelled) })
	return nil
}

func (c *conn) Release() {}

type rows struct {
	data [][]any
	i    int
	cur  []any
	tag  executor.Tag
	err  error
	wait <-chan struct{}
}

func (r *rows) Next() bool {
	if r.i >= len(r.data) {
		if r.wait != nil {
			<-r.wait
			r.err = &pgconn.PgError{Severity: "ERROR", Code: "57014", Message: "canceling statement due to user request"}
		}
		return false
	}
	r.cur = r.data[r.i]
	r.i++
	return true
}

func (r *rows) Values() ([]any, error) { return r.cur, nil }
func (r *rows) Err() error             { return r.err }
func (r *rows) Tag() executor.Tag      { return r.tag }
func (r *rows) Close()                 { r.i = len(r.data); r.wait = nil }

// IntColumn is a single int4 column named name.
func IntColumn(name string) []executor.ColumnDescriptor {
	return []executor.ColumnDescriptor{{Name: name, TypeOID: 23, TypeName: "int4", Ordinal: 1}}
}

// IntRows returns rows 1..n of a single int4 column.
func IntRows(n int) [][]any {
	out := make([][]any, n)
	for i := range out {
		out[i] = []any{int32(i + 1)}
	}
	return out
}
