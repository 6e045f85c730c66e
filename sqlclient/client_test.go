package sqlclient

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/willibrandon/tusk-sub004/internal/sql/executor"
	"github.com/willibrandon/tusk-sub004/internal/sql/executor/executortest"
	"github.com/willibrandon/tusk-sub004/server/tuskwire"
)

func newTestClient(t *testing.T, p *executortest.Provider) *Client {
	t.Helper()

	exec := executor.New(p, nil, nil, nil)
	srv := tuskwire.NewServer(exec, nil, tuskwire.Config{Interactive: executor.Interactive(), Bulk: executor.Bulk()}, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx, ln)
		close(done)
	}()

	c, err := Dial(ln.Addr().String(), time.Second)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = c.Close()
		cancel()
		<-done
	})
	return c
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClient_Execute(t *testing.T) {
	p := executortest.NewProvider().On("SELECT n FROM t", executortest.Script{
		Columns: executortest.IntColumn("n"),
		Rows:    executortest.IntRows(2),
		Tag:     executor.Tag{Text: "SELECT 2", RowsAffected: 2},
	})
	c := newTestClient(t, p)

	out, err := c.Execute(testCtx(t), Query{ConnectionID: "main", SQL: "SELECT n FROM t"})
	require.NoError(t, err)
	require.Equal(t, executor.StatusSuccess, out.Status)
	require.Len(t, out.Rows, 2)
	require.Equal(t, "1", out.Rows[0][0].Text)

	_, err = c.Execute(testCtx(t), Query{SQL: "SELECT n FROM t"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unavailable")
}

func TestClient_ConcurrentCalls(t *testing.T) {
	p := executortest.NewProvider().On("SELECT n FROM t", executortest.Script{
		Columns: executortest.IntColumn("n"),
		Rows:    executortest.IntRows(10),
	})
	c := newTestClient(t, p)
	ctx := testCtx(t)

	errs := make(chan error, 8)
	for range 8 {
		go func() {
			out, err := c.Execute(ctx, Query{ConnectionID: "main", SQL: "SELECT n FROM t"})
			if err == nil && out.TotalRows != 10 {
				err = errors.New("wrong row count")
			}
			errs <- err
		}()
	}
	for range 8 {
		require.NoError(t, <-errs)
	}
}

func TestClient_Stream(t *testing.T) {
	p := executortest.NewProvider().On("SELECT n FROM t", executortest.Script{
		Columns: executortest.IntColumn("n"),
		Rows:    executortest.IntRows(7),
	})
	c := newTestClient(t, p)
	ctx := testCtx(t)

	s, err := c.Stream(ctx, Query{ConnectionID: "main", SQL: "SELECT n FROM t", Options: &tuskwire.Options{BatchSize: 3}})
	require.NoError(t, err)
	require.NotEmpty(t, s.QueryID)

	var rows int
	for {
		b, err := s.Next(ctx)
		if errors.Is(err, ErrStreamDone) {
			break
		}
		require.NoError(t, err)
		rows += len(b.Rows)
	}
	require.Equal(t, 7, rows)
	require.Equal(t, "n", s.Columns[0].Name)
	require.Equal(t, int64(7), s.Outcome().TotalRows)
	require.Equal(t, s.QueryID, s.Outcome().QueryID)
}

func TestClient_StreamEffectOnly(t *testing.T) {
	p := executortest.NewProvider().On("DELETE FROM t", executortest.Script{
		Tag: executor.Tag{Text: "DELETE 4", RowsAffected: 4},
	})
	c := newTestClient(t, p)
	ctx := testCtx(t)

	s, err := c.Stream(ctx, Query{ConnectionID: "main", SQL: "DELETE FROM t"})
	require.NoError(t, err)

	_, err = s.Next(ctx)
	require.ErrorIs(t, err, ErrStreamDone)
	require.Empty(t, s.Columns)
	require.Equal(t, int64(4), s.Outcome().RowsAffected)
}

func TestClient_CancelStream(t *testing.T) {
	p := executortest.NewProvider().On("SELECT pg_sleep(60)", executortest.Script{
		Columns: executortest.IntColumn("n"),
		Block:   true,
	})
	c := newTestClient(t, p)
	ctx := testCtx(t)

	s, err := c.Stream(ctx, Query{ConnectionID: "main", SQL: "SELECT pg_sleep(60)"})
	require.NoError(t, err)

	running, err := c.Running(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, "SELECT pg_sleep(60)", running[0].SQL)

	found, err := s.Cancel(ctx)
	require.NoError(t, err)
	require.True(t, found)

	_, err = s.Next(ctx)
	require.ErrorIs(t, err, ErrStreamDone)
	require.Equal(t, executor.StatusCancelled, s.Outcome().Status)

	found, err = c.Cancel(ctx, s.QueryID)
	require.NoError(t, err)
	require.False(t, found)
}

func TestClient_ContextTimeout(t *testing.T) {
	p := executortest.NewProvider().On("SELECT pg_sleep(60)", executortest.Script{
		Columns: executortest.IntColumn("n"),
		Block:   true,
	})
	c := newTestClient(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Execute(ctx, Query{ConnectionID: "main", SQL: "SELECT pg_sleep(60)"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The query is still running server side; the client stays usable.
	running, err := c.Running(testCtx(t))
	require.NoError(t, err)
	require.Len(t, running, 1)
	found, err := c.Cancel(testCtx(t), running[0].ID)
	require.NoError(t, err)
	require.True(t, found)
}

func TestClient_Closed(t *testing.T) {
	c := newTestClient(t, executortest.NewProvider())
	require.NoError(t, c.Close())

	_, err := c.Running(testCtx(t))
	require.Error(t, err)
}
