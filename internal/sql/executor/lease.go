package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/willibrandon/tusk-sub004/internal/logger"
)

const (
	cancelRequestTimeout = 5 * time.Second
	sessionResetTimeout  = 5 * time.Second
)

// lease is the connection of one top-level call, shared by its statements.
// A statement's worker goroutine may outlive the consumer (after a cancel or
// a truncation); the connection goes back to the provider only once the last
// worker is done.
type lease struct {
	conn Conn
	log  logger.Logger

	mu       sync.Mutex
	gen      uint64
	active   uint64 // generation of the statement on the wire, 0 when idle
	released bool

	// worker is closed when the current statement worker exits. Only touched
	// by the calling goroutine.
	worker chan struct{}

	resets []string
}

func newLease(conn Conn, log logger.Logger) *lease {
	return &lease{conn: conn, log: log}
}

// next reserves a generation for the next statement.
func (l *lease) next() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	return l.gen
}

func (l *lease) begin(gen uint64) {
	l.mu.Lock()
	l.active = gen
	l.mu.Unlock()
}

func (l *lease) end(gen uint64) {
	l.mu.Lock()
	if l.active == gen {
		l.active = 0
	}
	l.mu.Unlock()
}

// cancelServer sends a server cancel request if statement gen is still
// running. Failures are logged only.
func (l *lease) cancelServer(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released || l.active != gen {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cancelRequestTimeout)
	defer cancel()

	if err := l.conn.CancelRequest(ctx); err != nil {
		l.log.Warn("executor: server cancel request failed", logger.Ctx{"err": err})
	}
}

// wait blocks until the previous worker exits or ctx is done.
func (l *lease) wait(ctx context.Context) error {
	if l.worker == nil {
		return nil
	}
	select {
	case <-l.worker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// apply runs the session settings of opts. A failed setting is logged and
// skipped.
func (l *lease) apply(ctx context.Context, opts Options) {
	if opts.Timeout > 0 {
		stmt := fmt.Sprintf("SET statement_timeout = %d", opts.Timeout.Milliseconds())
		l.set(ctx, stmt, "RESET statement_timeout")
	}
	if opts.ReadOnly {
		l.set(ctx, "SET default_transaction_read_only = on", "RESET default_transaction_read_only")
	}
}

func (l *lease) set(ctx context.Context, stmt, reset string) {
	if _, err := l.conn.Exec(ctx, stmt); err != nil {
		l.log.Warn("executor: session setting failed, continuing without it",
			logger.Ctx{"stmt": stmt, "err": err})
		return
	}
	l.resets = append(l.resets, reset)
}

// close hands the connection back, right away when no worker is left and in
// the background otherwise.
func (l *lease) close() {
	if l.worker == nil {
		l.release()
		return
	}

	select {
	case <-l.worker:
		l.release()
	default:
		worker := l.worker
		go func() {
			<-worker
			l.release()
		}()
	}
}

func (l *lease) release() {
	if len(l.resets) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), sessionResetTimeout)
		for _, stmt := range l.resets {
			if _, err := l.conn.Exec(ctx, stmt); err != nil {
				l.log.Warn("executor: session reset failed", logger.Ctx{"stmt": stmt, "err": err})
			}
		}
		cancel()
	}

	l.mu.Lock()
	l.released = true
	l.mu.Unlock()

	l.conn.Release()
}
