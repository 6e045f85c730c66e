// Package pool provides pgx connection pools keyed by connection id.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/willibrandon/tusk-sub004/internal/logger"
	"github.com/willibrandon/tusk-sub004/internal/sql/executor"
)

var (
	ErrUnknownConnection = errors.New("pool: unknown connection id")
	ErrClosed            = errors.New("pool: provider closed")
)

// Config is one named connection.
type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

type entry struct {
	pool  *pgxpool.Pool
	types *typeCache
}

// Provider implements executor.ConnectionProvider on top of pgxpool.
type Provider struct {
	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool

	log logger.Logger
}

var _ executor.ConnectionProvider = (*Provider)(nil)

// New creates one pool per connection id. Pools connect lazily.
func New(ctx context.Context, conns map[string]Config, log logger.Logger) (*Provider, error) {
	if log == nil {
		log = logger.Discard()
	}

	p := &Provider{entries: make(map[string]*entry, len(conns)), log: log}
	for id, c := range conns {
		cfg, err := pgxpool.ParseConfig(c.DSN)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("pool: parse dsn for %q: %w", id, err)
		}
		if c.MaxConns > 0 {
			cfg.MaxConns = c.MaxConns
		}
		if c.MinConns > 0 {
			cfg.MinConns = c.MinConns
		}

		pl, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("pool: open %q: %w", id, err)
		}
		p.entries[id] = &entry{pool: pl, types: newTypeCache()}

		log.Debug("pool: configured connection", logger.Ctx{
			"connection": id, "host": cfg.ConnConfig.Host, "database": cfg.ConnConfig.Database,
		})
	}

	return p, nil
}

func (p *Provider) lookup(id string) (*entry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, fmt.Errorf("%w: %w", ErrClosed, executor.ErrUnavailable)
	}
	e, ok := p.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w %q: %w", ErrUnknownConnection, id, executor.ErrUnavailable)
	}
	return e, nil
}

// Acquire takes a connection from the pool of id.
func (p *Provider) Acquire(ctx context.Context, id string) (executor.Conn, error) {
	e, err := p.lookup(id)
	if err != nil {
		return nil, err
	}

	c, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool: acquire %q: %w", id, err)
	}
	return &conn{c: c, types: e.types, log: p.log.AddContext(logger.Ctx{"connection": id})}, nil
}

// Ping checks that connection id can reach its server.
func (p *Provider) Ping(ctx context.Context, id string) error {
	e, err := p.lookup(id)
	if err != nil {
		return err
	}
	return e.pool.Ping(ctx)
}

// IDs returns the configured connection ids, sorted.
func (p *Provider) IDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes every pool. Acquire fails afterwards.
func (p *Provider) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	entries := p.entries
	p.mu.Unlock()

	for _, e := range entries {
		e.pool.Close()
	}
}
