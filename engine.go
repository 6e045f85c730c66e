// Package tusk wires the query execution engine together: configuration,
// logging, connection pools, history and the executor.
package tusk

import (
	"context"
	"fmt"

	"github.com/willibrandon/tusk-sub004/internal"
	"github.com/willibrandon/tusk-sub004/internal/history"
	"github.com/willibrandon/tusk-sub004/internal/logger"
	"github.com/willibrandon/tusk-sub004/internal/pool"
	"github.com/willibrandon/tusk-sub004/internal/registry"
	"github.com/willibrandon/tusk-sub004/internal/sql/executor"
	"github.com/willibrandon/tusk-sub004/server/tuskwire"
)

type Engine struct {
	cfg      *internal.TuskConfig
	log      logger.Logger
	provider *pool.Provider
	history  *history.Recorder
	exec     *executor.Executor
}

// Open builds an engine from cfg. A nil log is built from cfg.Log.
func Open(ctx context.Context, cfg *internal.TuskConfig, log logger.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("tusk: nil config")
	}

	if log == nil {
		var err error
		log, err = logger.New(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
		if err != nil {
			return nil, fmt.Errorf("tusk: logger: %w", err)
		}
	}
	log = log.AddContext(logger.Ctx{"app": cfg.AppName})

	conns := make(map[string]pool.Config, len(cfg.Connections))
	for id, c := range cfg.Connections {
		conns[id] = pool.Config{DSN: c.DSN, MaxConns: c.MaxConns, MinConns: c.MinConns}
	}
	provider, err := pool.New(ctx, conns, log)
	if err != nil {
		return nil, err
	}

	hist, err := history.Open(cfg.History.Path, cfg.History.MaxEntries)
	if err != nil {
		provider.Close()
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		log:      log,
		provider: provider,
		history:  hist,
		exec:     executor.New(provider, hist, registry.New(), log),
	}
	log.Info("tusk: engine ready", logger.Ctx{"connections": provider.IDs(), "history": cfg.History.Path})
	return e, nil
}

func (e *Engine) Executor() *executor.Executor { return e.exec }
func (e *Engine) History() *history.Recorder   { return e.history }
func (e *Engine) Provider() *pool.Provider     { return e.provider }
func (e *Engine) Logger() logger.Logger        { return e.log }

// Interactive and Bulk are the configured option sets of the two modes.
func (e *Engine) Interactive() executor.Options { return e.cfg.Query.Interactive.Options() }
func (e *Engine) Bulk() executor.Options        { return e.cfg.Query.Bulk.Options() }

// Server returns a wire server backed by this engine.
func (e *Engine) Server() *tuskwire.Server {
	return tuskwire.NewServer(e.exec, e.history, tuskwire.Config{
		Interactive: e.Interactive(),
		Bulk:        e.Bulk(),
	}, e.log)
}

// Close cancels every running query and closes the pools.
func (e *Engine) Close() {
	if n := e.exec.Registry().CancelAll(); n > 0 {
		e.log.Info("tusk: cancelled running queries", logger.Ctx{"count": n})
	}
	e.provider.Close()
}
