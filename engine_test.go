package tusk

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/willibrandon/tusk-sub004/internal"
	"github.com/willibrandon/tusk-sub004/internal/logger"
	"github.com/willibrandon/tusk-sub004/internal/sql/executor"
)

func TestOpen_WiresExecutor(t *testing.T) {
	cfg, err := internal.LoadConfig("")
	require.NoError(t, err)
	cfg.History.Path = filepath.Join(t.TempDir(), "history.jsonl")
	cfg.Connections = map[string]internal.ConnectionConfig{
		"main": {DSN: "postgres://nobody@127.0.0.1:1/none?connect_timeout=1"},
	}

	e, err := Open(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	defer e.Close()

	require.Equal(t, []string{"main"}, e.Provider().IDs())
	require.Equal(t, 10000, e.Interactive().RowLimit)
	require.Equal(t, 5000, e.Bulk().BatchSize)
	require.NotNil(t, e.Server())

	_, err = e.Executor().Execute(context.Background(), "other", "SELECT 1", nil, e.Interactive())
	require.ErrorIs(t, err, executor.ErrUnavailable)

	recent := e.History().Recent(10)
	require.Len(t, recent, 1)
	require.Equal(t, executor.StatusError, recent[0].Status)
}

func TestOpen_BadInput(t *testing.T) {
	_, err := Open(context.Background(), nil, nil)
	require.Error(t, err)

	cfg, err := internal.LoadConfig("")
	require.NoError(t, err)
	cfg.Log.Level = "loud"
	_, err = Open(context.Background(), cfg, nil)
	require.Error(t, err)

	cfg.Log.Level = "info"
	cfg.Connections = map[string]internal.ConnectionConfig{"bad": {DSN: "postgres://%zz"}}
	_, err = Open(context.Background(), cfg, logger.Discard())
	require.Error(t, err)
}
