package tuskwire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/willibrandon/tusk-sub004/internal/logger"
	"github.com/willibrandon/tusk-sub004/internal/sql/executor"
)

// HistorySource serves the history op.
type HistorySource interface {
	Recent(n int) []executor.HistoryEntry
}

// Server exposes an executor over length-prefixed JSON frames. Requests on
// one connection run concurrently, so a cancel can overtake a running query.
// Queries still running when their connection drops are cancelled.
type Server struct {
	exec    *executor.Executor
	history HistorySource
	log     logger.Logger

	interactive executor.Options
	bulk        executor.Options
}

// Config holds the options used when a request names a mode but no options.
type Config struct {
	Interactive executor.Options
	Bulk        executor.Options
}

func NewServer(exec *executor.Executor, history HistorySource, cfg Config, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		exec:        exec,
		history:     history,
		log:         log,
		interactive: cfg.Interactive,
		bulk:        cfg.Bulk,
	}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.log.Info("tuskwire: listening", logger.Ctx{"addr": ln.Addr().String()})
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then waits for open
// connections to wind down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				s.log.Warn("tuskwire: accept failed", logger.Ctx{"err": err})
				continue
			}

			g.Go(func() error {
				s.ServeConn(ctx, conn)
				return nil
			})
		}
	})

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// session is one client connection.
type session struct {
	out *FrameWriter
	log logger.Logger
}

func (ss *session) write(resp Response) {
	if err := ss.out.Send(resp); err != nil {
		ss.log.Debug("tuskwire: write failed", logger.Ctx{"id": resp.ID, "err": err})
	}
}

// ServeConn serves one connection until the client hangs up or ctx is done.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	ss := &session{out: NewFrameWriter(conn), log: s.log.AddContext(logger.Ctx{"remote": conn.RemoteAddr().String()})}
	in := NewFrameReader(conn)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	var g errgroup.Group
	for {
		req, err := in.Request()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				ss.log.Debug("tuskwire: read failed", logger.Ctx{"err": err})
			}
			break
		}

		g.Go(func() error {
			s.handle(ctx, ss, req)
			return nil
		})
	}

	cancel()
	_ = g.Wait()
}

func (s *Server) options(req Request) executor.Options {
	if req.Options != nil {
		return req.Options.executor()
	}
	if req.Mode == ModeBulk {
		return s.bulk
	}
	return s.interactive
}

func (s *Server) handle(ctx context.Context, ss *session, req Request) {
	fail := func(err error) {
		ss.write(Response{ID: req.ID, Kind: KindError, Error: err.Error()})
	}

	switch req.Op {
	case OpExecute:
		out, err := s.exec.Execute(ctx, req.ConnectionID, req.SQL, decodeParams(req.Params), s.options(req))
		if err != nil {
			fail(err)
			return
		}
		ss.write(Response{ID: req.ID, Kind: KindResult, QueryID: out.QueryID, Outcome: EncodeOutcome(out)})

	case OpExecuteMultiple:
		outs, err := s.exec.ExecuteMultiple(ctx, req.ConnectionID, req.SQL, s.options(req))
		if err != nil {
			fail(err)
			return
		}
		resp := Response{ID: req.ID, Kind: KindResult, QueryID: outs[0].QueryID}
		for _, o := range outs {
			resp.Outcomes = append(resp.Outcomes, EncodeOutcome(o))
		}
		ss.write(resp)

	case OpStream:
		s.stream(ctx, ss, req)

	case OpCancel:
		ss.write(Response{ID: req.ID, Kind: KindResult, QueryID: req.QueryID, Found: s.exec.Cancel(req.QueryID)})

	case OpExplain:
		out, err := s.exec.Explain(ctx, req.ConnectionID, req.SQL, req.Explain.executor(), s.options(req))
		if err != nil {
			fail(err)
			return
		}
		ss.write(Response{ID: req.ID, Kind: KindResult, QueryID: out.QueryID, Outcome: EncodeOutcome(out)})

	case OpRunning:
		ss.write(Response{ID: req.ID, Kind: KindResult, Running: s.exec.ListRunning()})

	case OpHistory:
		var entries []executor.HistoryEntry
		if s.history != nil {
			entries = s.history.Recent(req.Limit)
		}
		ss.write(Response{ID: req.ID, Kind: KindResult, History: entries})

	default:
		fail(fmt.Errorf("tuskwire: unknown op %q", req.Op))
	}
}

// stream answers with a started frame carrying the query id, then pushes
// columns and batches as they arrive, and returns once the complete frame is
// written.
func (s *Server) stream(ctx context.Context, ss *session, req Request) {
	started := make(chan struct{})
	done := make(chan struct{})
	sink := executor.SinkFuncs{
		Columns: func(queryID string, statement int, cols []executor.ColumnDescriptor) {
			<-started
			ss.write(Response{ID: req.ID, Kind: KindColumns, QueryID: queryID, Statement: statement, Columns: cols})
		},
		Batch: func(b executor.RowBatch) {
			<-started
			ss.write(Response{ID: req.ID, Kind: KindBatch, QueryID: b.QueryID, Batch: EncodeBatch(b)})
		},
		Complete: func(out *executor.Outcome) {
			<-started
			ss.write(Response{ID: req.ID, Kind: KindComplete, QueryID: out.QueryID, Outcome: EncodeOutcome(out)})
			close(done)
		},
	}

	id, err := s.exec.ExecuteStreaming(ctx, req.ConnectionID, req.SQL, decodeParams(req.Params), s.options(req), sink)
	if err != nil {
		ss.write(Response{ID: req.ID, Kind: KindError, Error: err.Error()})
		return
	}
	ss.write(Response{ID: req.ID, Kind: KindStarted, QueryID: id})
	close(started)
	<-done
}
