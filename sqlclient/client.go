package sqlclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/willibrandon/tusk-sub004/internal/registry"
	"github.com/willibrandon/tusk-sub004/internal/sql/executor"
	"github.com/willibrandon/tusk-sub004/server/tuskwire"
)

var (
	ErrClosed = errors.New("sqlclient: client closed")
	// ErrStreamDone is returned by Stream.Next once the complete frame arrived.
	ErrStreamDone = io.EOF
)

// Client multiplexes requests over one connection. A reader goroutine routes
// every response frame to its request by id, so a Cancel can be sent while a
// stream on the same client is still running.
type Client struct {
	conn net.Conn
	out  *tuskwire.FrameWriter
	id   atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*waiter
	err     error
	done    chan struct{}
}

type waiter struct {
	frames chan tuskwire.Response
	gone   chan struct{}
	once   sync.Once
}

func (p *waiter) abandon() { p.once.Do(func() { close(p.gone) }) }

// streamBuffer is how many frames a stream may queue before the reader
// waits for the consumer.
const streamBuffer = 64

func Dial(addr string, timeout time.Duration) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return DialContext(ctx, addr)
}

func DialContext(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClient(c), nil
}

// NewClient takes ownership of conn.
func NewClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		out:     tuskwire.NewFrameWriter(conn),
		pending: make(map[uint64]*waiter),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	<-c.done
	return err
}

// ---- reader ----

func (c *Client) readLoop() {
	in := tuskwire.NewFrameReader(c.conn)
	var err error
	for {
		var resp tuskwire.Response
		if resp, err = in.Response(); err != nil {
			break
		}

		c.mu.Lock()
		p := c.pending[resp.ID]
		if p != nil && terminal(resp.Kind) {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		if p == nil {
			continue
		}
		select {
		case p.frames <- resp:
		case <-p.gone:
		}
	}

	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		err = ErrClosed
	}
	c.mu.Lock()
	c.err = err
	c.pending = nil
	c.mu.Unlock()
	close(c.done)
}

func terminal(k tuskwire.Kind) bool {
	return k == tuskwire.KindResult || k == tuskwire.KindComplete || k == tuskwire.KindError
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClosed
}

// ---- requests ----

func (c *Client) send(req tuskwire.Request, buffer int) (uint64, *waiter, error) {
	if c == nil || c.conn == nil {
		return 0, nil, fmt.Errorf("sqlclient: nil client")
	}
	req.ID = c.id.Add(1)
	p := &waiter{frames: make(chan tuskwire.Response, buffer), gone: make(chan struct{})}

	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return 0, nil, c.closedErr()
	}
	c.pending[req.ID] = p
	c.mu.Unlock()

	if err := c.out.Send(req); err != nil {
		c.forget(req.ID, p)
		return 0, nil, err
	}
	return req.ID, p, nil
}

func (c *Client) forget(id uint64, p *waiter) {
	c.mu.Lock()
	if c.pending != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	p.abandon()
}

func (c *Client) recv(ctx context.Context, p *waiter) (tuskwire.Response, error) {
	var resp tuskwire.Response
	select {
	case resp = <-p.frames:
	case <-ctx.Done():
		return resp, ctx.Err()
	case <-c.done:
		// A frame may have been queued just before the reader stopped.
		select {
		case resp = <-p.frames:
		default:
			return resp, c.closedErr()
		}
	}
	if resp.Kind == tuskwire.KindError {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, req tuskwire.Request) (tuskwire.Response, error) {
	id, p, err := c.send(req, 1)
	if err != nil {
		return tuskwire.Response{}, err
	}
	resp, err := c.recv(ctx, p)
	if err != nil && ctx.Err() != nil {
		c.forget(id, p)
	}
	return resp, err
}

// Query is one statement request. Options override the server's defaults for
// Mode; nil Params entries are NULL.
type Query struct {
	ConnectionID string
	SQL          string
	Params       []*string
	Mode         tuskwire.Mode
	Options      *tuskwire.Options
}

func (q Query) request(op tuskwire.Op) tuskwire.Request {
	return tuskwire.Request{
		Op:           op,
		ConnectionID: q.ConnectionID,
		SQL:          q.SQL,
		Params:       q.Params,
		Mode:         q.Mode,
		Options:      q.Options,
	}
}

// Execute runs one statement and returns its collected outcome.
func (c *Client) Execute(ctx context.Context, q Query) (*tuskwire.Outcome, error) {
	resp, err := c.call(ctx, q.request(tuskwire.OpExecute))
	if err != nil {
		return nil, err
	}
	return resp.Outcome, nil
}

// ExecuteMultiple runs every statement of q.SQL on one connection.
func (c *Client) ExecuteMultiple(ctx context.Context, q Query) ([]*tuskwire.Outcome, error) {
	resp, err := c.call(ctx, q.request(tuskwire.OpExecuteMultiple))
	if err != nil {
		return nil, err
	}
	return resp.Outcomes, nil
}

// Explain runs EXPLAIN for q.SQL. A nil eo uses the server's defaults.
func (c *Client) Explain(ctx context.Context, q Query, eo *tuskwire.ExplainOptions) (*tuskwire.Outcome, error) {
	req := q.request(tuskwire.OpExplain)
	req.Explain = eo
	resp, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Outcome, nil
}

// Cancel asks the server to cancel queryID. It reports whether the query was
// still running.
func (c *Client) Cancel(ctx context.Context, queryID string) (bool, error) {
	resp, err := c.call(ctx, tuskwire.Request{Op: tuskwire.OpCancel, QueryID: queryID})
	if err != nil {
		return false, err
	}
	return resp.Found, nil
}

func (c *Client) Running(ctx context.Context) ([]registry.Running, error) {
	resp, err := c.call(ctx, tuskwire.Request{Op: tuskwire.OpRunning})
	if err != nil {
		return nil, err
	}
	return resp.Running, nil
}

// History returns up to limit recent history entries, oldest first.
func (c *Client) History(ctx context.Context, limit int) ([]executor.HistoryEntry, error) {
	resp, err := c.call(ctx, tuskwire.Request{Op: tuskwire.OpHistory, Limit: limit})
	if err != nil {
		return nil, err
	}
	return resp.History, nil
}

// ---- streaming ----

// Stream is a running streamed query. Frames must be drained with Next; a
// stream nobody reads eventually stalls the whole client.
type Stream struct {
	QueryID string
	// Columns is set once the columns frame arrived, at the latest before
	// the first batch. Statements that return no rows leave it empty.
	Columns []executor.ColumnDescriptor

	c       *Client
	id      uint64
	p       *waiter
	outcome *tuskwire.Outcome
}

// Stream starts q and returns as soon as the server assigned the query id,
// so the query can be cancelled while it is still waiting for its first row.
func (c *Client) Stream(ctx context.Context, q Query) (*Stream, error) {
	id, p, err := c.send(q.request(tuskwire.OpStream), streamBuffer)
	if err != nil {
		return nil, err
	}
	s := &Stream{c: c, id: id, p: p}

	first, err := c.recv(ctx, p)
	if err != nil {
		s.Close()
		return nil, err
	}
	if first.Kind != tuskwire.KindStarted {
		s.Close()
		return nil, fmt.Errorf("sqlclient: unexpected first stream frame %q", first.Kind)
	}
	s.QueryID = first.QueryID
	return s, nil
}

// Next returns the next batch. Once the query completes it returns
// ErrStreamDone and Outcome is set.
func (s *Stream) Next(ctx context.Context) (*tuskwire.Batch, error) {
	if s.outcome != nil {
		return nil, ErrStreamDone
	}
	for {
		resp, err := s.c.recv(ctx, s.p)
		if err != nil {
			return nil, err
		}
		switch resp.Kind {
		case tuskwire.KindColumns:
			s.Columns = resp.Columns
		case tuskwire.KindBatch:
			return resp.Batch, nil
		case tuskwire.KindComplete:
			s.outcome = resp.Outcome
			if s.outcome == nil {
				s.outcome = &tuskwire.Outcome{}
			}
			return nil, ErrStreamDone
		}
	}
}

// Outcome is the final outcome, nil until Next returned ErrStreamDone.
func (s *Stream) Outcome() *tuskwire.Outcome { return s.outcome }

// Cancel cancels the streamed query on the server.
func (s *Stream) Cancel(ctx context.Context) (bool, error) {
	return s.c.Cancel(ctx, s.QueryID)
}

// Close stops routing frames to s. It does not cancel the query.
func (s *Stream) Close() {
	s.c.forget(s.id, s.p)
}
